package migrate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/sirupsen/logrus"

	"github.com/kimcharli/apstra-bp-consolidate/internal/testutil"
	"github.com/kimcharli/apstra-bp-consolidate/pkg/apstra"
	"github.com/kimcharli/apstra-bp-consolidate/pkg/batch"
	"github.com/kimcharli/apstra-bp-consolidate/pkg/blueprint"
	"github.com/kimcharli/apstra-bp-consolidate/pkg/cli"
	"github.com/kimcharli/apstra-bp-consolidate/pkg/identity"
	"github.com/kimcharli/apstra-bp-consolidate/pkg/model"
	"github.com/kimcharli/apstra-bp-consolidate/pkg/qe"
	"github.com/kimcharli/apstra-bp-consolidate/pkg/util"
)

const (
	tor  = "atl1tor-tor5"
	torA = tor + "a"
	torB = tor + "b"
)

var pair = []string{torA, torB}

// fixture is a ToR blueprint holding the pair with two servers and a main
// blueprint where the pair is still modeled as the generic system tor,
// uplinked to a leaf pair.
type fixture struct {
	f   *testutil.FakeController
	src *testutil.FakeBlueprint
	dst *testutil.FakeBlueprint

	legacy     string
	legacyEVPN string
	legacyCT   string
	leafRG     string
	vn120      string
	vn130      string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := testutil.NewFakeController()
	f.MaterializeAfter = 2
	fx := &fixture{f: f}

	src := f.AddBlueprint("bp-tor", "atl1tor")
	a := src.AddSystem(torA, model.RoleLeaf)
	b := src.AddSystem(torB, model.RoleLeaf)
	src.Set(a.ID, map[string]any{"system_id": "SN-TOR5A"})
	src.Set(b.ID, map[string]any{"system_id": "SN-TOR5B"})
	lagged := src.AddSystem("rack1-sys010", model.RoleGeneric)
	l1 := src.Connect(a.ID, "xe-0/0/1", lagged.ID, "ens1f0", "10G")
	l2 := src.Connect(b.ID, "xe-0/0/1", lagged.ID, "ens1f1", "10G")
	srcEVPN := src.Bundle([]string{l1.ID, l2.ID})
	src.TagLink(l1.ID, "forceup")
	src.TagLink(l2.ID, "forceup")
	single := src.AddSystem("rack1-sys020", model.RoleGeneric)
	src.Connect(a.ID, "xe-0/0/2", single.ID, "eth0", "10G")
	spine := src.AddSystem("atl1tor-spine", model.RoleGeneric)
	src.Connect(a.ID, "et-0/0/48", spine.ID, "et-0/0/1", "100G")

	sv120 := src.AddVirtualNetwork("vlan120", 100120).ID
	sv130 := src.AddVirtualNetwork("vlan130", 100130).ID
	src.AddVNInstance(a.ID, sv120)
	src.AddVNInstance(b.ID, sv120)
	src.AddVNInstance(a.ID, sv130)
	tagged := src.AddSingleVLANCT("", "", sv120, true)
	untagged := src.AddSingleVLANCT("", "", sv130, false)
	mustAttach(t, src, srcEVPN.ID, tagged)
	mustAttach(t, src, src.Interface(a.ID, "xe-0/0/2").ID, untagged)

	dst := f.AddBlueprint("bp-main", "atl1-main")
	leaf1 := dst.AddSystem("atl1-leaf1", model.RoleLeaf)
	leaf2 := dst.AddSystem("atl1-leaf2", model.RoleLeaf)
	fx.leafRG = dst.AddRedundancyGroup("atl1-leaf-pair", leaf1.ID, leaf2.ID).ID
	legacy := dst.AddSystem(tor, model.RoleGeneric)
	var links []string
	for _, c := range []struct{ leaf, leafIf, gsIf string }{
		{leaf1.ID, "et-0/0/10", "et-0/0/48-a"},
		{leaf1.ID, "et-0/0/11", "et-0/0/48-b"},
		{leaf2.ID, "et-0/0/10", "et-0/0/49-a"},
		{leaf2.ID, "et-0/0/11", "et-0/0/49-b"},
	} {
		links = append(links, dst.Connect(c.leaf, c.leafIf, legacy.ID, c.gsIf, "100G").ID)
	}
	fx.legacy = legacy.ID
	fx.legacyEVPN = dst.Bundle(links).ID
	bound := apstra.BoundTo{SystemID: fx.leafRG, AccessSwitchNodeIDs: []string{}}
	fx.vn120 = dst.AddVirtualNetwork("vlan120", 100120, bound).ID
	fx.vn130 = dst.AddVirtualNetwork("vlan130", 100130, bound).ID
	fx.legacyCT = dst.AddSingleVLANCT("", "", fx.vn120, true)
	mustAttach(t, dst, fx.legacyEVPN, fx.legacyCT)

	fx.src, fx.dst = src, dst
	return fx
}

func mustAttach(t *testing.T, fb *testutil.FakeBlueprint, apID, ctID string) {
	t.Helper()
	if err := fb.Attach(apID, ctID); err != nil {
		t.Fatal(err)
	}
}

func testWaiter(attempts int) *batch.Waiter {
	w := batch.NewWaiter(3*time.Second, attempts)
	w.Clock = testclock.NewDilatedWallClock(time.Millisecond)
	return w
}

func (fx *fixture) orchestrator(t *testing.T, opts Options) *Orchestrator {
	t.Helper()
	if opts.Renamer == nil {
		opts.Renamer = identity.NewRenamer(identity.ShortPrefixFrom(tor, "atl1tor-"), []string{"rack1-"})
	}
	if opts.Waiter == nil {
		opts.Waiter = testWaiter(20)
	}
	o, err := New(
		blueprint.New(fx.f, fx.src.ID, fx.src.Label),
		blueprint.New(fx.f, fx.dst.ID, fx.dst.Label),
		Order{TorName: tor, SwitchPair: pair},
		opts,
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o
}

func (fx *fixture) system(label string) *testutil.Node {
	return fx.dst.System(label)
}

// serverIfNames returns the sorted ethernet interface names of a system
func serverIfNames(fb *testutil.FakeBlueprint, sysID string) []string {
	var out []string
	for _, intf := range fb.Out(sysID, model.RelHostedInterfaces) {
		if intf.Str("if_type") == model.IfTypeEthernet {
			out = append(out, intf.Str("if_name"))
		}
	}
	sort.Strings(out)
	return out
}

// aggregateOf returns the evpn interface a switch port is a member of
func aggregateOf(fb *testutil.FakeBlueprint, ifID string) string {
	for _, po := range fb.In(ifID, model.RelComposedOf) {
		for _, evpn := range fb.In(po.ID, model.RelComposedOf) {
			if evpn.Str("po_control_protocol") == model.POControlEVPN {
				return evpn.ID
			}
		}
	}
	return ""
}

func TestMain(m *testing.M) {
	logrus.SetLevel(logrus.ErrorLevel)
	m.Run()
}

func TestOrder_Validate(t *testing.T) {
	tests := []struct {
		name    string
		order   Order
		wantErr bool
	}{
		{"valid", Order{TorName: tor, SwitchPair: pair}, false},
		{"valid with template", Order{TorName: tor, SwitchPair: pair, PairTemplate: json.RawMessage(`{"system_type":"switch"}`)}, false},
		{"missing tor", Order{SwitchPair: pair}, true},
		{"one switch", Order{TorName: tor, SwitchPair: pair[:1]}, true},
		{"foreign labels", Order{TorName: tor, SwitchPair: []string{"leaf-a", "leaf-b"}}, true},
		{"swapped", Order{TorName: tor, SwitchPair: []string{torB, torA}}, true},
		{"bad template", Order{TorName: tor, SwitchPair: pair, PairTemplate: json.RawMessage(`{`)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.order.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, util.ErrValidationFailed) {
				t.Errorf("error %v is not a validation error", err)
			}
		})
	}
}

func TestNew_RejectsInvalidOrder(t *testing.T) {
	f := testutil.NewFakeController()
	bp := blueprint.New(f, "bp", "bp")
	if _, err := New(bp, bp, Order{TorName: tor}, Options{}); err == nil {
		t.Fatal("expected an error")
	}
	if len(f.Queries) != 0 {
		t.Errorf("invalid order issued %d queries", len(f.Queries))
	}
}

func TestMemberRename(t *testing.T) {
	for given, want := range map[string]string{tor + "1": torA, tor + "2": torB, torA: torA, torB: torB} {
		got, err := memberRename(tor, given)
		if err != nil || got != want {
			t.Errorf("memberRename(%q) = %q, %v; want %q", given, got, err, want)
		}
	}
	for _, given := range []string{tor + "3", tor, "other1"} {
		_, err := memberRename(tor, given)
		if !IsFatal(err) {
			t.Errorf("memberRename(%q) error %v, want invariant error", given, err)
		}
	}
}

func TestPairLinks(t *testing.T) {
	row := func(link, gsIf, member, sw string) qe.Binding {
		return qe.Binding{
			"link":          {"id": link},
			"gs_intf":       {"if_name": gsIf},
			"member":        {"if_name": member},
			"member_switch": {"id": sw},
		}
	}
	rows := qe.Result{
		row("l2", "et-0/0/49b", "et-0/0/11", "leaf2"),
		row("l1", "et-0/0/48-a", "et-0/0/10", "leaf1"),
		row("l1", "et-0/0/48-a", "et-0/0/10", "leaf1"),
		row("l3", "et-0/0/50-a", "et-0/0/12", "leaf1"),
	}
	links := pairLinks(rows, logrus.NewEntry(logrus.StandardLogger()))
	if len(links) != 2 {
		t.Fatalf("got %d links, want 2: %+v", len(links), links)
	}
	first, second := links[0], links[1]
	if first.SystemPeer != "first" || first.System.IfName != "et-0/0/48" || first.Switch.IfName != "et-0/0/10" || *first.Switch.SystemID != "leaf1" {
		t.Errorf("first link = %+v", first)
	}
	if second.SystemPeer != "second" || second.System.IfName != "et-0/0/49" || *second.Switch.SystemID != "leaf2" {
		t.Errorf("second link = %+v", second)
	}
	for _, l := range links {
		if l.LagMode == nil || *l.LagMode != model.LAGModeActive {
			t.Errorf("lag mode = %v", l.LagMode)
		}
		if l.Switch.TransformationID != leafUplinkTransformation || l.System.TransformationID != accessUplinkTransformation {
			t.Errorf("transformations = %d/%d", l.Switch.TransformationID, l.System.TransformationID)
		}
		if l.System.SystemID != nil {
			t.Errorf("system end bound to %s", *l.System.SystemID)
		}
	}
}

func TestPairSystem(t *testing.T) {
	raw, err := pairSystem(json.RawMessage(`{"system_type":"switch","label":"tmpl","logical_device_id":"ld-1"}`), tor)
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatal(err)
	}
	if got["label"] != tor || got["logical_device_id"] != "ld-1" {
		t.Errorf("pairSystem = %v", got)
	}

	raw, err = pairSystem(nil, tor)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), `"system_type":"switch"`) {
		t.Errorf("default new system = %s", raw)
	}
}

func TestAutoLogicalDevice(t *testing.T) {
	links := []*model.GenericSystemLink{{LinkID: "l1", Speed: "10G"}, {LinkID: "l2", Speed: "10G"}}
	ld, err := autoLogicalDevice(links)
	if err != nil {
		t.Fatal(err)
	}
	if ld.ID != "auto-10Gx2" || ld.DisplayName != ld.ID {
		t.Errorf("name = %q", ld.ID)
	}
	p := ld.Panels[0]
	if p.PanelLayout != (apstra.PanelLayout{RowCount: 1, ColumnCount: 2}) {
		t.Errorf("layout = %+v", p.PanelLayout)
	}
	if p.PortIndexing != (apstra.PortIndexing{Order: "T-B, L-R", StartIndex: 1, Schema: "absolute"}) {
		t.Errorf("indexing = %+v", p.PortIndexing)
	}
	if len(p.PortGroups) != 1 || p.PortGroups[0].Count != 2 || p.PortGroups[0].Speed != (apstra.PortSpeed{Unit: "G", Value: 10}) {
		t.Errorf("port groups = %+v", p.PortGroups)
	}
	if !reflect.DeepEqual(p.PortGroups[0].Roles, []string{"leaf", "access"}) {
		t.Errorf("roles = %v", p.PortGroups[0].Roles)
	}

	if _, err := autoLogicalDevice([]*model.GenericSystemLink{{LinkID: "l1", Speed: "fast"}}); err == nil {
		t.Error("expected an error for a bad speed")
	}
}

func TestLagGroups(t *testing.T) {
	links := []*model.GenericSystemLink{
		{AggregateLink: "ae-x"}, {}, {AggregateLink: "ae-y"}, {AggregateLink: "ae-x"},
	}
	want := map[int]string{0: "link1", 2: "link2", 3: "link1"}
	if got := lagGroups(links); !reflect.DeepEqual(got, want) {
		t.Errorf("lagGroups = %v, want %v", got, want)
	}
}

func TestAll(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	results, err := fx.orchestrator(t, Options{}).All(ctx)
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(results) != len(Phases()) {
		t.Fatalf("got %d results", len(results))
	}
	for _, r := range results {
		if r.Status() != StatusDone {
			t.Errorf("%s: %s", r, r.Status())
		}
	}

	t.Run("access switch pair", func(t *testing.T) {
		if fx.system(tor) != nil {
			t.Error("legacy generic system still present")
		}
		a, b := fx.system(torA), fx.system(torB)
		if a == nil || b == nil {
			t.Fatalf("pair not created: %v", fx.dst.Labels(model.NodeSystem))
		}
		if a.Str("hostname") != torA || b.Str("hostname") != torB {
			t.Errorf("hostnames = %s, %s", a.Str("hostname"), b.Str("hostname"))
		}
		if _, ok := fx.dst.Find(model.NodeRedundancyGroup, "label", tor+"-pair"); !ok {
			t.Error("redundancy group not renamed")
		}
		if got := fx.dst.AttachedPolicies(fx.legacyEVPN); len(got) != 0 {
			t.Errorf("legacy aggregate still carries %v", got)
		}
		for _, sw := range []*testutil.Node{a, b} {
			if got := serverIfNames(fx.dst, sw.ID); !util.Contains(got, "et-0/0/48") || !util.Contains(got, "et-0/0/49") {
				t.Errorf("%s uplinks = %v", sw.Str("label"), got)
			}
		}
	})

	t.Run("generic systems", func(t *testing.T) {
		gs := fx.system("tor5-sys010")
		if gs == nil {
			t.Fatalf("tor5-sys010 missing: %v", fx.dst.Labels(model.NodeSystem))
		}
		if got := serverIfNames(fx.dst, gs.ID); !reflect.DeepEqual(got, []string{"ens1f0", "ens1f1"}) {
			t.Errorf("interface names = %v", got)
		}
		links := fx.dst.LinksOf(gs.ID)
		if len(links) != 2 {
			t.Fatalf("got %d links", len(links))
		}
		for _, l := range links {
			if got := fx.dst.TagsOn(l.ID); !reflect.DeepEqual(got, []string{"forceup"}) {
				t.Errorf("link %s tags = %v", l.ID, got)
			}
			if l.Str("lag_mode") != model.LAGModeActive || l.Str("group_label") != "link1" {
				t.Errorf("link %s lag = %s/%s", l.ID, l.Str("lag_mode"), l.Str("group_label"))
			}
		}
		if single := fx.system("tor5-sys020"); single == nil || len(fx.dst.LinksOf(single.ID)) != 1 {
			t.Error("tor5-sys020 not created with one link")
		}
		if fx.system("tor5-spine") != nil || fx.system("atl1tor-spine") != nil {
			t.Error("uplink peer must not move")
		}
	})

	t.Run("virtual networks", func(t *testing.T) {
		rg, _ := fx.dst.Find(model.NodeRedundancyGroup, "label", tor+"-pair")
		for _, vn := range []string{fx.vn120, fx.vn130} {
			b, ok := fx.dst.VirtualNetworkSpec(vn).BindingFor(fx.leafRG)
			if !ok || !b.HasAccessSwitch(rg.ID) {
				t.Errorf("%s bound_to = %+v", vn, fx.dst.VirtualNetworkSpec(vn).BoundTo)
			}
		}
	})

	t.Run("connectivity templates", func(t *testing.T) {
		a := fx.system(torA)
		evpn := aggregateOf(fx.dst, fx.dst.Interface(a.ID, "xe-0/0/1").ID)
		if got := fx.dst.AttachedPolicies(evpn); !reflect.DeepEqual(got, []string{fx.legacyCT}) {
			t.Errorf("aggregate policies = %v, want [%s]", got, fx.legacyCT)
		}
		got := fx.dst.AttachedPolicies(fx.dst.Interface(a.ID, "xe-0/0/2").ID)
		if len(got) != 1 {
			t.Fatalf("single-homed port policies = %v", got)
		}
		if ct, _ := fx.dst.Node(got[0]); ct.Str("label") != "vlan130-untagged" {
			t.Errorf("created template label = %q", ct.Str("label"))
		}
	})

	t.Run("devices", func(t *testing.T) {
		for label, sn := range map[string]string{torA: "SN-TOR5A", torB: "SN-TOR5B"} {
			n := fx.system(label)
			if n.Get("system_id") != sn || n.Get("deploy_mode") != model.DeployModeDeploy {
				t.Errorf("%s: system_id %v deploy_mode %v", label, n.Get("system_id"), n.Get("deploy_mode"))
			}
			if got := fx.src.System(label).Get("system_id"); got != nil {
				t.Errorf("%s still bound to %v in source", label, got)
			}
		}
	})

	t.Run("rerun is a no-op", func(t *testing.T) {
		fx.f.ResetCounters()
		results, err := fx.orchestrator(t, Options{}).All(ctx)
		if err != nil {
			t.Fatalf("All: %v", err)
		}
		if n := fx.f.Mutations(); n != 0 {
			t.Errorf("rerun made %d mutations", n)
		}
		for _, r := range results {
			if r.Status() != StatusUnchanged {
				t.Errorf("%s: %s", r, r.Status())
			}
		}
	})
}

func TestAccessSwitchPair_LegacyAbsent(t *testing.T) {
	fx := newFixture(t)
	fx.dst.RemoveNode(fx.legacy)

	s, err := fx.orchestrator(t, Options{}).AccessSwitchPair(context.Background())
	if err != nil {
		t.Fatalf("AccessSwitchPair: %v", err)
	}
	if s.Missing != 1 || s.Status() != StatusIncomplete {
		t.Errorf("summary = %s (%s)", s, s.Status())
	}
	if n := fx.f.Mutations(); n != 0 {
		t.Errorf("made %d mutations", n)
	}
}

func TestAccessSwitchPair_DetachRejected(t *testing.T) {
	fx := newFixture(t)
	fx.f.FailBatch = func(bpID string, op apstra.BatchOperation) error {
		if p, ok := op.Payload.(*apstra.PolicyApplyPayload); ok && !p.ApplicationPoints[0].Policies[0].Used {
			return &apstra.APIError{Method: op.Method, Path: op.Path, Status: http.StatusUnprocessableEntity, Body: "in use"}
		}
		return nil
	}

	s, err := fx.orchestrator(t, Options{}).AccessSwitchPair(context.Background())
	if err != nil {
		t.Fatalf("AccessSwitchPair: %v", err)
	}
	if s.Failed != 1 || s.Status() != StatusFailed {
		t.Errorf("summary = %s", s)
	}
	if fx.system(tor) == nil {
		t.Error("legacy generic system was deleted")
	}
	if n := fx.f.MutationsOf(testutil.MutSystemLinks); n != 0 {
		t.Errorf("created the pair after a failed detach")
	}
}

func TestAccessSwitchPair_SkipsWhenPresent(t *testing.T) {
	fx := newFixture(t)
	a := fx.dst.AddSystem(torA, model.RoleAccess)
	b := fx.dst.AddSystem(torB, model.RoleAccess)
	fx.dst.AddRedundancyGroup(tor+"-pair", a.ID, b.ID)

	s, err := fx.orchestrator(t, Options{}).AccessSwitchPair(context.Background())
	if err != nil || s.Skipped != 1 || s.Updated != 0 {
		t.Fatalf("summary = %s, err %v", s, err)
	}
	if fx.system(tor) == nil || fx.f.Mutations() != 0 {
		t.Error("existing pair must leave the blueprint untouched")
	}
}

func TestAccessSwitchPair_ResumesRename(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.f.FailMutation = func(kind, bpID string) error {
		if kind == testutil.MutPatchNode {
			return &apstra.APIError{Method: http.MethodPatch, Path: "/nodes", Status: http.StatusConflict}
		}
		return nil
	}

	s, err := fx.orchestrator(t, Options{}).AccessSwitchPair(ctx)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if s.Updated != 1 || s.Failed != 3 {
		t.Fatalf("first run summary = %s", s)
	}
	if fx.system(tor+"1") == nil || fx.system(torA) != nil {
		t.Fatalf("systems after first run = %v", fx.dst.Labels(model.NodeSystem))
	}

	fx.f.FailMutation = nil
	s, err = fx.orchestrator(t, Options{}).AccessSwitchPair(ctx)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if s.Updated != 1 || s.Failed != 0 || s.Status() != StatusDone {
		t.Errorf("second run summary = %s (%s)", s, s.Status())
	}
	for _, label := range pair {
		if n := fx.system(label); n == nil || n.Str("hostname") != label {
			t.Errorf("%s not renamed: %v", label, fx.dst.Labels(model.NodeSystem))
		}
	}
	if _, ok := fx.dst.Find(model.NodeRedundancyGroup, "label", tor+"-pair"); !ok {
		t.Error("redundancy group not renamed")
	}

	fx.f.ResetCounters()
	s, err = fx.orchestrator(t, Options{}).AccessSwitchPair(ctx)
	if err != nil || s.Skipped != 1 || fx.f.Mutations() != 0 {
		t.Errorf("third run summary = %s, %d mutations, err %v", s, fx.f.Mutations(), err)
	}
}

func TestAccessSwitchPair_ResumesCreate(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	pending := NewFilePending(t.TempDir())
	fx.f.FailMutation = func(kind, bpID string) error {
		if kind == testutil.MutSystemLinks {
			return &apstra.APIError{Method: http.MethodPost, Path: "/switch-system-links", Status: http.StatusUnprocessableEntity}
		}
		return nil
	}

	s, err := fx.orchestrator(t, Options{Pending: pending}).AccessSwitchPair(ctx)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if s.Failed != 1 || fx.system(tor) != nil {
		t.Fatalf("first run summary = %s, systems %v", s, fx.dst.Labels(model.NodeSystem))
	}
	if _, found, err := pending.Load(tor); err != nil || !found {
		t.Fatalf("links not saved: found %v, err %v", found, err)
	}

	fx.f.FailMutation = nil
	s, err = fx.orchestrator(t, Options{Pending: pending}).AccessSwitchPair(ctx)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if s.Updated != 1 || s.Failed != 0 || s.Missing != 0 {
		t.Errorf("second run summary = %s", s)
	}
	for _, label := range pair {
		if fx.system(label) == nil {
			t.Errorf("%s missing: %v", label, fx.dst.Labels(model.NodeSystem))
		}
	}
	if _, found, _ := pending.Load(tor); found {
		t.Error("saved links kept after the pair was created")
	}
}

func TestFilePending(t *testing.T) {
	p := NewFilePending(t.TempDir() + "/pending")
	if _, found, err := p.Load(tor); err != nil || found {
		t.Fatalf("empty store: found %v, err %v", found, err)
	}
	if err := p.Clear(tor); err != nil {
		t.Errorf("Clear on empty store: %v", err)
	}
	lag := model.LAGModeActive
	sw := "leaf-1"
	spec := &apstra.SwitchSystemLinksSpec{
		Links:      []apstra.SwitchSystemLink{{LagMode: &lag, SystemPeer: "first", Switch: apstra.LinkEnd{SystemID: &sw, IfName: "et-0/0/10"}}},
		NewSystems: []json.RawMessage{json.RawMessage(`{"label":"` + tor + `"}`)},
	}
	if err := p.Save(tor, spec); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, found, err := p.Load(tor)
	if err != nil || !found {
		t.Fatalf("Load: found %v, err %v", found, err)
	}
	if got.NewSystemLabel() != tor || len(got.Links) != 1 || *got.Links[0].Switch.SystemID != sw {
		t.Errorf("loaded %+v", got)
	}
	if err := p.Clear(tor); err != nil {
		t.Fatal(err)
	}
	if _, found, _ := p.Load(tor); found {
		t.Error("found after Clear")
	}
}

func TestGenericSystems_PairAbsentTimesOut(t *testing.T) {
	fx := newFixture(t)
	o := fx.orchestrator(t, Options{Waiter: testWaiter(3)})

	_, err := o.GenericSystems(context.Background())
	if !errors.Is(err, util.ErrWaitTimeout) {
		t.Fatalf("err = %v, want wait timeout", err)
	}
	if fx.f.Mutations() != 0 {
		t.Error("made mutations without a target pair")
	}
}

func TestGenericSystems_NoRenamePrefix(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	o := fx.orchestrator(t, Options{Renamer: identity.NewRenamer("", nil)})
	if _, err := o.Run(ctx, PhaseAccessSwitchPair, PhaseGenericSystems); err != nil {
		t.Fatal(err)
	}
	for _, label := range []string{"rack1-sys010", "rack1-sys020"} {
		if fx.system(label) == nil {
			t.Errorf("%s not created under its source label", label)
		}
	}
}

func TestGenericSystems_CompletesFailedPatches(t *testing.T) {
	tests := []struct {
		name string
		fail string
	}{
		{"tagging", testutil.MutTagging},
		{"aggregates", testutil.MutLinkLabels},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t)
			ctx := context.Background()
			if _, err := fx.orchestrator(t, Options{}).AccessSwitchPair(ctx); err != nil {
				t.Fatal(err)
			}
			fx.f.FailMutation = func(kind, bpID string) error {
				if kind == tt.fail {
					return &apstra.APIError{Method: http.MethodPost, Path: "/" + kind, Status: http.StatusInternalServerError}
				}
				return nil
			}

			s, err := fx.orchestrator(t, Options{}).GenericSystems(ctx)
			if err != nil {
				t.Fatalf("first run: %v", err)
			}
			if s.Updated != 1 || s.Failed != 1 {
				t.Fatalf("first run summary = %s", s)
			}

			fx.f.FailMutation = nil
			s, err = fx.orchestrator(t, Options{}).GenericSystems(ctx)
			if err != nil {
				t.Fatalf("second run: %v", err)
			}
			if s.Updated != 1 || s.Skipped != 1 || s.Failed != 0 {
				t.Errorf("second run summary = %s", s)
			}
			gs := fx.system("tor5-sys010")
			if gs == nil {
				t.Fatalf("tor5-sys010 missing: %v", fx.dst.Labels(model.NodeSystem))
			}
			for _, l := range fx.dst.LinksOf(gs.ID) {
				if got := fx.dst.TagsOn(l.ID); !reflect.DeepEqual(got, []string{"forceup"}) {
					t.Errorf("link %s tags = %v", l.ID, got)
				}
				if l.Str("group_label") != "link1" || l.Str("lag_mode") != model.LAGModeActive {
					t.Errorf("link %s lag = %s/%s", l.ID, l.Str("lag_mode"), l.Str("group_label"))
				}
			}

			fx.f.ResetCounters()
			s, err = fx.orchestrator(t, Options{}).GenericSystems(ctx)
			if err != nil || s.Skipped != 2 || fx.f.Mutations() != 0 {
				t.Errorf("third run summary = %s, %d mutations, err %v", s, fx.f.Mutations(), err)
			}
		})
	}
}

func TestVirtualNetworks_LeafPairNotBound(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.dst.VirtualNetworkSpec(fx.vn130).BoundTo = nil
	o := fx.orchestrator(t, Options{})
	if _, err := o.AccessSwitchPair(ctx); err != nil {
		t.Fatal(err)
	}

	s, err := o.VirtualNetworks(ctx)
	if err != nil {
		t.Fatalf("VirtualNetworks: %v", err)
	}
	if s.Updated != 1 || s.Missing != 1 || s.Status() != StatusIncomplete {
		t.Errorf("summary = %s (%s)", s, s.Status())
	}
}

func TestDevices_SourceWithoutSerial(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.src.Set(fx.src.System(torB).ID, map[string]any{"system_id": nil})
	o := fx.orchestrator(t, Options{})
	if _, err := o.AccessSwitchPair(ctx); err != nil {
		t.Fatal(err)
	}

	s, err := o.Devices(ctx)
	if err != nil {
		t.Fatalf("Devices: %v", err)
	}
	if s.Updated != 1 || s.Missing != 1 {
		t.Errorf("summary = %s", s)
	}
	if got := fx.system(torB).Get("system_id"); got != nil {
		t.Errorf("%s claimed %v", torB, got)
	}
	if got := fx.system(torA).Get("system_id"); got != "SN-TOR5A" {
		t.Errorf("%s system_id = %v", torA, got)
	}
}

func TestRun_UnknownPhaseStops(t *testing.T) {
	fx := newFixture(t)
	results, err := fx.orchestrator(t, Options{}).Run(context.Background(), "rollback", PhaseDevices)
	if err == nil {
		t.Fatal("expected an error")
	}
	if len(results) != 1 || results[0].Status() != StatusFailed {
		t.Errorf("results = %v", results)
	}
}

func TestPhaseSummary_Status(t *testing.T) {
	tests := []struct {
		s    PhaseSummary
		want string
	}{
		{PhaseSummary{Updated: 2}, StatusDone},
		{PhaseSummary{Skipped: 2}, StatusUnchanged},
		{PhaseSummary{}, StatusUnchanged},
		{PhaseSummary{Updated: 1, Missing: 1}, StatusIncomplete},
		{PhaseSummary{Updated: 1, Missing: 1, Failed: 1}, StatusFailed},
		{PhaseSummary{Err: errors.New("boom")}, StatusFailed},
	}
	for _, tt := range tests {
		if got := tt.s.Status(); got != tt.want {
			t.Errorf("%+v: Status() = %s, want %s", tt.s, got, tt.want)
		}
	}
}

func TestStatusTone(t *testing.T) {
	for status, want := range map[string]cli.Tone{
		StatusDone:       cli.Good,
		StatusIncomplete: cli.Warn,
		StatusFailed:     cli.Bad,
		StatusUnchanged:  cli.Plain,
	} {
		if got := StatusTone(status); got != want {
			t.Errorf("StatusTone(%s) = %d, want %d", status, got, want)
		}
	}
}

func TestConsoleProgress(t *testing.T) {
	fx := newFixture(t)
	var buf bytes.Buffer
	o := fx.orchestrator(t, Options{Progress: &ConsoleProgress{W: &buf}})
	if _, err := o.Run(context.Background(), PhaseAccessSwitchPair, PhaseVirtualNetworks); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"consolidate: 2 phases", "[1/2]", PhaseAccessSwitchPair, "[2/2]", PhaseVirtualNetworks, "DONE", "2 updated"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
