package ctassoc

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/kimcharli/apstra-bp-consolidate/internal/testutil"
	"github.com/kimcharli/apstra-bp-consolidate/pkg/apstra"
	"github.com/kimcharli/apstra-bp-consolidate/pkg/batch"
	"github.com/kimcharli/apstra-bp-consolidate/pkg/blueprint"
	"github.com/kimcharli/apstra-bp-consolidate/pkg/model"
	"github.com/kimcharli/apstra-bp-consolidate/pkg/util"
)

var pair = []string{"tor-a", "tor-b"}

// side is one blueprint cabled the same way in source and target: a LAG
// server on xe-0/0/1 of both switches and a single-homed server on
// tor-a xe-0/0/2.
type side struct {
	fb       *testutil.FakeBlueprint
	bp       *blueprint.Blueprint
	evpn     string
	single   string // tor-a xe-0/0/2
	uplink   string // tor-a et-0/0/48
	vn120    string
	vn130    string
	tagged   string
	untagged string
}

func buildSide(f *testutil.FakeController, id, label string, offset int) *side {
	fb := f.AddBlueprint(id, label)
	for i := 0; i < offset; i++ {
		fb.AddSystem("filler", model.RoleSpine)
		fb.AddNode(model.NodeInterface, "", nil)
		fb.AddNode(model.NodeEndpointPolicy, "", nil)
	}
	a := fb.AddSystem("tor-a", model.RoleAccess)
	b := fb.AddSystem("tor-b", model.RoleAccess)
	lag := fb.AddSystem("rack1-sys010", model.RoleGeneric)
	l1 := fb.Connect(a.ID, "xe-0/0/1", lag.ID, "eth0", "10G")
	l2 := fb.Connect(b.ID, "xe-0/0/1", lag.ID, "eth1", "10G")
	evpn := fb.Bundle([]string{l1.ID, l2.ID})
	one := fb.AddSystem("rack1-sys020", model.RoleGeneric)
	fb.Connect(a.ID, "xe-0/0/2", one.ID, "eth0", "10G")
	up := fb.AddSystem("spine-gs", model.RoleGeneric)
	fb.Connect(a.ID, "et-0/0/48", up.ID, "et-0/0/48-a", "100G")

	s := &side{
		fb:     fb,
		bp:     blueprint.New(f, fb.ID, fb.Label),
		evpn:   evpn.ID,
		single: fb.Interface(a.ID, "xe-0/0/2").ID,
		uplink: fb.Interface(a.ID, "et-0/0/48").ID,
	}
	s.vn120 = fb.AddVirtualNetwork("vlan120", 100120).ID
	s.vn130 = fb.AddVirtualNetwork("vlan130", 100130).ID
	return s
}

// newSource attaches tagged 120 and untagged 130 to the LAG, tagged 120 to
// the single-homed port and untagged 130 to the uplink.
func newSource(t *testing.T, f *testutil.FakeController) *side {
	t.Helper()
	s := buildSide(f, "bp-tor", "tor-bp", 0)
	s.tagged = s.fb.AddSingleVLANCT("", "", s.vn120, true)
	s.untagged = s.fb.AddSingleVLANCT("", "", s.vn130, false)
	for _, at := range []struct{ ap, ct string }{
		{s.evpn, s.tagged}, {s.evpn, s.untagged}, {s.single, s.tagged}, {s.uplink, s.untagged},
	} {
		if err := s.fb.Attach(at.ap, at.ct); err != nil {
			t.Fatal(err)
		}
	}
	return s
}

func intp(v int) *int { return &v }

func TestPullInterfaceVlanTable(t *testing.T) {
	f := testutil.NewFakeController()
	src := newSource(t, f)

	table, err := PullInterfaceVlanTable(context.Background(), src.bp, pair)
	if err != nil {
		t.Fatalf("PullInterfaceVlanTable: %v", err)
	}
	if table.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", table.Len())
	}

	agg, ok := table.Aggregates[src.evpn]
	if !ok {
		t.Fatalf("aggregate %s missing: %+v", src.evpn, table.Aggregates)
	}
	if !reflect.DeepEqual(agg.TaggedVLANs, []int{120}) {
		t.Errorf("aggregate tagged = %v, want [120]", agg.TaggedVLANs)
	}
	if agg.UntaggedVLAN == nil || *agg.UntaggedVLAN != 130 {
		t.Errorf("aggregate untagged = %v, want 130", agg.UntaggedVLAN)
	}
	if !agg.HasMember("tor-a", "xe-0/0/1") || !agg.HasMember("tor-b", "xe-0/0/1") {
		t.Errorf("aggregate members = %v", agg.Members)
	}

	single := table.Interfaces["tor-a"]["xe-0/0/2"]
	if single == nil {
		t.Fatalf("interfaces = %+v", table.Interfaces)
	}
	if single.ID != src.single || !reflect.DeepEqual(single.TaggedVLANs, []int{120}) || single.UntaggedVLAN != nil {
		t.Errorf("single = %+v", single)
	}
	if _, ok := table.Interfaces["tor-a"]["et-0/0/48"]; ok {
		t.Error("uplink should be excluded")
	}
	if got := table.Labels(); !reflect.DeepEqual(got, pair) {
		t.Errorf("Labels() = %v", got)
	}
}

func TestPullInterfaceVlanTable_EmptyPair(t *testing.T) {
	f := testutil.NewFakeController()
	src := newSource(t, f)
	table, err := PullInterfaceVlanTable(context.Background(), src.bp, nil)
	if err != nil || table.Len() != 0 {
		t.Fatalf("got %d entries, err %v", table.Len(), err)
	}
	if len(f.Queries) != 0 {
		t.Errorf("empty pair issued %d queries", len(f.Queries))
	}
}

func TestAssignment_UntaggedLastWins(t *testing.T) {
	table := NewInterfaceVlanTable()
	table.AddInterface("tor-a", "xe-0/0/3", "if-1", 120, true)
	table.AddInterface("tor-a", "xe-0/0/3", "if-1", 120, true)
	table.AddInterface("tor-a", "xe-0/0/3", "if-1", 130, false)
	a := table.Interfaces["tor-a"]["xe-0/0/3"]
	want := &Assignment{ID: "if-1", TaggedVLANs: []int{120}, UntaggedVLAN: intp(130)}
	if !reflect.DeepEqual(a, want) {
		t.Errorf("assignment = %+v, want %+v", a, want)
	}
	if a.Empty() {
		t.Error("Empty() = true")
	}
}

func TestVniCtTable_StableDistinctIDs(t *testing.T) {
	f := testutil.NewFakeController()
	src := newSource(t, f)
	ctx := context.Background()
	both := src.fb.AddSingleVLANCT("", "", src.vn130, true)

	cts, err := PullVniCtTable(ctx, src.bp)
	if err != nil {
		t.Fatalf("PullVniCtTable: %v", err)
	}
	if got := cts.VNIs(); !reflect.DeepEqual(got, []int{100120, 100130}) {
		t.Fatalf("VNIs() = %v", got)
	}
	e, ok := cts.Lookup(100130)
	if !ok {
		t.Fatal("100130 missing")
	}
	f.ResetCounters()
	for i := 0; i < 3; i++ {
		tagged, err := e.ID(ctx, true)
		if err != nil {
			t.Fatal(err)
		}
		untagged, err := e.ID(ctx, false)
		if err != nil {
			t.Fatal(err)
		}
		if tagged != both || untagged != src.untagged {
			t.Fatalf("ID() = (%s, %s), want (%s, %s)", tagged, untagged, both, src.untagged)
		}
	}
	if f.Mutations() != 0 || len(f.Queries) != 0 {
		t.Errorf("known ids caused %d mutations, %d queries", f.Mutations(), len(f.Queries))
	}
}

func TestVniCt_LazyCreate(t *testing.T) {
	f := testutil.NewFakeController()
	src := newSource(t, f)
	ctx := context.Background()

	cts, err := PullVniCtTable(ctx, src.bp)
	if err != nil {
		t.Fatal(err)
	}
	e := cts.Get(100120)
	first, err := e.ID(ctx, false)
	if err != nil {
		t.Fatalf("ID: %v", err)
	}
	second, err := e.ID(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if first == "" || first != second || first == src.tagged {
		t.Errorf("created ids %q, %q (tagged %q)", first, second, src.tagged)
	}
	if f.MutationsOf(testutil.MutCreateCT) != 1 || cts.Created != 1 {
		t.Errorf("create calls = %d, Created = %d", f.MutationsOf(testutil.MutCreateCT), cts.Created)
	}
	ct, _ := src.fb.Node(first)
	if ct.Str("label") != "vlan120-untagged" {
		t.Errorf("label = %q", ct.Str("label"))
	}
}

func TestVniCt_MissingVirtualNetwork(t *testing.T) {
	f := testutil.NewFakeController()
	src := newSource(t, f)
	cts, err := PullVniCtTable(context.Background(), src.bp)
	if err != nil {
		t.Fatal(err)
	}
	_, err = cts.Get(100999).ID(context.Background(), true)
	var nf *util.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("err = %v, want NotFoundError", err)
	}
	if f.MutationsOf(testutil.MutCreateCT) != 0 {
		t.Error("nothing should be created")
	}
}

type assocFixture struct {
	f      *testutil.FakeController
	src    *side
	target *side
	table  *InterfaceVlanTable
	engine *Engine
}

// newAssocFixture builds a target with shifted ids that only has the tagged
// template of vlan120.
func newAssocFixture(t *testing.T) *assocFixture {
	t.Helper()
	f := testutil.NewFakeController()
	src := newSource(t, f)
	target := buildSide(f, "bp-main", "main-bp", 3)
	target.tagged = target.fb.AddSingleVLANCT("", "", target.vn120, true)

	table, err := PullInterfaceVlanTable(context.Background(), src.bp, pair)
	if err != nil {
		t.Fatal(err)
	}
	return &assocFixture{
		f:      f,
		src:    src,
		target: target,
		table:  table,
		engine: NewEngine(target.bp, batch.NewApplier(target.bp, batch.Options{})),
	}
}

func TestAssociate(t *testing.T) {
	fx := newAssocFixture(t)
	if fx.target.evpn == fx.src.evpn {
		t.Fatal("fixture ids should differ between blueprints")
	}

	sum, err := fx.engine.Associate(context.Background(), fx.table, pair)
	if err != nil {
		t.Fatalf("Associate: %v", err)
	}
	if sum.Attached != 3 || sum.CTsCreated != 1 || sum.Missing != 0 || sum.Failed != 0 {
		t.Errorf("summary = %+v", sum)
	}

	onAE := fx.target.fb.AttachedPolicies(fx.target.evpn)
	if len(onAE) != 2 || !contains(onAE, fx.target.tagged) {
		t.Errorf("aggregate policies = %v", onAE)
	}
	if got := fx.target.fb.AttachedPolicies(fx.target.single); len(got) != 1 || got[0] != fx.target.tagged {
		t.Errorf("single policies = %v", got)
	}
	if got := fx.target.fb.AttachedPolicies(fx.target.uplink); len(got) != 0 {
		t.Errorf("uplink policies = %v", got)
	}
	if got := fx.src.fb.AttachedPolicies(fx.src.evpn); len(got) != 2 {
		t.Errorf("source should be untouched, got %v", got)
	}
}

func TestAssociate_RerunIsNoop(t *testing.T) {
	fx := newAssocFixture(t)
	ctx := context.Background()
	if _, err := fx.engine.Associate(ctx, fx.table, pair); err != nil {
		t.Fatal(err)
	}
	fx.f.ResetCounters()

	sum, err := fx.engine.Associate(ctx, fx.table, pair)
	if err != nil {
		t.Fatal(err)
	}
	if fx.f.Mutations() != 0 {
		t.Errorf("rerun made %d mutations", fx.f.Mutations())
	}
	if sum.AlreadyAttached != 2 || sum.Attached != 0 || sum.CTsCreated != 0 {
		t.Errorf("summary = %+v", sum)
	}
}

func TestAssociate_PartialAttachmentCompleted(t *testing.T) {
	fx := newAssocFixture(t)
	if err := fx.target.fb.Attach(fx.target.evpn, fx.target.tagged); err != nil {
		t.Fatal(err)
	}
	if _, err := fx.engine.Associate(context.Background(), fx.table, pair); err != nil {
		t.Fatal(err)
	}
	for _, req := range fx.f.Batches {
		for _, op := range req.Operations {
			p, ok := op.Payload.(*apstra.PolicyApplyPayload)
			if !ok {
				continue
			}
			for _, ap := range p.ApplicationPoints {
				for _, pol := range ap.Policies {
					if ap.ID == fx.target.evpn && pol.Policy == fx.target.tagged {
						t.Error("already attached template was resubmitted")
					}
				}
			}
		}
	}
	if got := fx.target.fb.AttachedPolicies(fx.target.evpn); len(got) != 2 {
		t.Errorf("aggregate policies = %v", got)
	}
}

func TestAssociate_MissingTargetInterface(t *testing.T) {
	fx := newAssocFixture(t)
	fx.table.AddInterface("tor-b", "xe-0/0/40", "src-if", 120, true)

	sum, err := fx.engine.Associate(context.Background(), fx.table, pair)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Missing != 1 || sum.Attached != 3 {
		t.Errorf("summary = %+v", sum)
	}
}

func TestAssociate_RejectedChunkCounted(t *testing.T) {
	fx := newAssocFixture(t)
	fx.f.FailBatch = func(bpID string, op apstra.BatchOperation) error {
		p, ok := op.Payload.(*apstra.PolicyApplyPayload)
		if ok && p.ApplicationPoints[0].ID == fx.target.single {
			return &apstra.APIError{Method: op.Method, Path: op.Path, Status: 422}
		}
		return nil
	}

	sum, err := fx.engine.Associate(context.Background(), fx.table, pair)
	if err != nil {
		t.Fatalf("a rejected chunk should not abort the run: %v", err)
	}
	if sum.Failed != 1 || sum.Attached != 2 {
		t.Errorf("summary = %+v", sum)
	}
	if got := fx.target.fb.AttachedPolicies(fx.target.evpn); len(got) != 2 {
		t.Errorf("aggregate policies = %v", got)
	}
}

func TestAssociate_RefusedTemplateCreation(t *testing.T) {
	fx := newAssocFixture(t)
	ctx := context.Background()
	fx.f.FailMutation = func(kind, bpID string) error {
		if kind == testutil.MutCreateCT {
			return &apstra.APIError{Method: "PUT", Path: "/obj-policy-import", Status: 422}
		}
		return nil
	}

	sum, err := fx.engine.Associate(ctx, fx.table, pair)
	if err != nil {
		t.Fatalf("a refused template should not abort the run: %v", err)
	}
	if sum.Failed != 1 || sum.Attached != 2 || sum.CTsCreated != 0 {
		t.Errorf("summary = %+v", sum)
	}
	if got := fx.target.fb.AttachedPolicies(fx.target.evpn); len(got) != 1 || got[0] != fx.target.tagged {
		t.Errorf("aggregate policies = %v, want [%s]", got, fx.target.tagged)
	}
	if got := fx.target.fb.AttachedPolicies(fx.target.single); len(got) != 1 {
		t.Errorf("single policies = %v", got)
	}

	fx.f.FailMutation = nil
	sum, err = fx.engine.Associate(ctx, fx.table, pair)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Failed != 0 || sum.Attached != 1 || sum.AlreadyAttached != 1 || sum.CTsCreated != 1 {
		t.Errorf("rerun summary = %+v", sum)
	}
	if got := fx.target.fb.AttachedPolicies(fx.target.evpn); len(got) != 2 {
		t.Errorf("aggregate policies after rerun = %v", got)
	}
}

func TestVniCt_RefusedCreateNotRetried(t *testing.T) {
	f := testutil.NewFakeController()
	src := newSource(t, f)
	ctx := context.Background()
	calls := 0
	f.FailMutation = func(kind, bpID string) error {
		calls++
		return errors.New("rejected")
	}
	cts, err := PullVniCtTable(ctx, src.bp)
	if err != nil {
		t.Fatal(err)
	}
	e := cts.Get(100120)
	for i := 0; i < 2; i++ {
		_, err := e.ID(ctx, false)
		var cerr *CreateError
		if !errors.As(err, &cerr) || cerr.VNI != 100120 || cerr.Tagged {
			t.Fatalf("err = %v, want CreateError for untagged 100120", err)
		}
	}
	if calls != 1 {
		t.Errorf("create attempted %d times, want 1", calls)
	}
}

func contains(list []string, v string) bool {
	return util.Contains(list, v)
}
