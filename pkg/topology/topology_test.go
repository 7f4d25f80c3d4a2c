package topology

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"strings"
	"testing"

	"github.com/kimcharli/apstra-bp-consolidate/internal/testutil"
	"github.com/kimcharli/apstra-bp-consolidate/pkg/blueprint"
	"github.com/kimcharli/apstra-bp-consolidate/pkg/model"
	"github.com/kimcharli/apstra-bp-consolidate/pkg/util"
)

var pair = []string{"tor-a", "tor-b"}

type torFixture struct {
	f      *testutil.FakeController
	fb     *testutil.FakeBlueprint
	bp     *blueprint.Blueprint
	lagA   string
	lagB   string
	single string
}

func newTorFixture(t *testing.T) *torFixture {
	t.Helper()
	f := testutil.NewFakeController()
	fb := f.AddBlueprint("bp-tor", "AZ-1_1-R5R14")
	a := fb.AddSystem("tor-a", model.RoleLeaf)
	b := fb.AddSystem("tor-b", model.RoleLeaf)
	other := fb.AddSystem("leaf9", model.RoleLeaf)

	sys010 := fb.AddSystem("rack1-sys010", model.RoleGeneric)
	l1 := fb.Connect(a.ID, "xe-0/0/10", sys010.ID, "ens1f0", "10G")
	l2 := fb.Connect(b.ID, "xe-0/0/10", sys010.ID, "ens1f1", "10G")
	fb.Bundle([]string{l1.ID, l2.ID})
	fb.TagLink(l1.ID, "forceup")
	fb.TagLink(l2.ID, "forceup")

	sys020 := fb.AddSystem("rack1-sys020", model.RoleGeneric)
	l3 := fb.Connect(a.ID, "xe-0/0/20", sys020.ID, "eth0", "1G")
	fb.TagLink(l3.ID, "a")
	fb.TagLink(l3.ID, "b")
	fb.Connect(other.ID, "xe-0/0/20", sys020.ID, "eth1", "1G")

	upstream := fb.AddSystem("atl1-spine-gs", model.RoleGeneric)
	fb.Connect(a.ID, "et-0/0/48", upstream.ID, "et-0/0/48-a", "100G")
	fb.Connect(b.ID, "et-0/0/49", upstream.ID, "et-0/0/49-b", "100G")

	return &torFixture{f: f, fb: fb, bp: blueprint.New(f, fb.ID, fb.Label), lagA: l1.ID, lagB: l2.ID, single: l3.ID}
}

func TestPullGenericSystems(t *testing.T) {
	fx := newTorFixture(t)
	topo, err := PullGenericSystems(context.Background(), fx.bp, pair)
	if err != nil {
		t.Fatalf("PullGenericSystems: %v", err)
	}
	if got := topo.Labels(); !reflect.DeepEqual(got, []string{"rack1-sys010", "rack1-sys020"}) {
		t.Fatalf("labels = %v", got)
	}

	sys010 := topo["rack1-sys010"]
	if len(sys010) != 2 {
		t.Fatalf("rack1-sys010 links = %d, want 2", len(sys010))
	}
	a, b := sys010[fx.lagA], sys010[fx.lagB]
	if a == nil || b == nil {
		t.Fatalf("missing link records: %v", sys010)
	}
	if !a.InAggregate() || a.AggregateLink != b.AggregateLink {
		t.Errorf("members should share an aggregate: %q vs %q", a.AggregateLink, b.AggregateLink)
	}
	if a.SwLabel != "tor-a" || a.SwIfName != "xe-0/0/10" || a.GsIfName != "ens1f0" || a.Speed != "10G" {
		t.Errorf("record = %+v", a)
	}
	if !reflect.DeepEqual(a.Tags, []string{"forceup"}) {
		t.Errorf("tags = %v", a.Tags)
	}

	sys020 := topo["rack1-sys020"]
	if len(sys020) != 1 {
		t.Fatalf("rack1-sys020 should only keep the link to the pair, got %d", len(sys020))
	}
	single := sys020[fx.single]
	if single.InAggregate() {
		t.Error("single link should not be in an aggregate")
	}
	tags := append([]string{}, single.Tags...)
	sort.Strings(tags)
	if !reflect.DeepEqual(tags, []string{"a", "b"}) {
		t.Errorf("tags = %v, want a and b", single.Tags)
	}
}

func TestPullGenericSystems_ExcludesUplinks(t *testing.T) {
	fx := newTorFixture(t)
	topo, err := PullGenericSystems(context.Background(), fx.bp, pair)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := topo["atl1-spine-gs"]; ok {
		t.Error("generic system reached only through uplinks should not be extracted")
	}
	for label, gs := range topo {
		for _, l := range gs {
			if model.IsReservedUplink(l.SwIfName) {
				t.Errorf("%s has uplink %s", label, l.SwIfName)
			}
		}
	}
}

func TestPullGenericSystems_EmptyPair(t *testing.T) {
	fx := newTorFixture(t)
	topo, err := PullGenericSystems(context.Background(), fx.bp, nil)
	if err != nil || len(topo) != 0 {
		t.Fatalf("empty pair = (%v, %v)", topo, err)
	}
	if len(fx.f.Queries) != 0 {
		t.Errorf("empty pair issued %d queries", len(fx.f.Queries))
	}
}

func TestPullGenericSystems_MissingSwitch(t *testing.T) {
	fx := newTorFixture(t)
	_, err := PullGenericSystems(context.Background(), fx.bp, []string{"tor-a", "tor-z"})
	if !errors.Is(err, util.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
	if !strings.Contains(err.Error(), "tor-z") {
		t.Errorf("error should name the switch: %v", err)
	}
}

func TestPullLinkTags(t *testing.T) {
	fx := newTorFixture(t)
	tags, err := PullLinkTags(context.Background(), fx.bp, pair)
	if err != nil {
		t.Fatalf("PullLinkTags: %v", err)
	}
	if len(tags) != 3 {
		t.Fatalf("tagged links = %v", tags)
	}
	for _, id := range []string{fx.lagA, fx.lagB} {
		if !reflect.DeepEqual(tags[id], []string{"forceup"}) {
			t.Errorf("%s tags = %v", id, tags[id])
		}
	}
	single := append([]string{}, tags[fx.single]...)
	sort.Strings(single)
	if !reflect.DeepEqual(single, []string{"a", "b"}) {
		t.Errorf("single tags = %v", tags[fx.single])
	}
}

func TestMerge_AccumulatesTags(t *testing.T) {
	topo := model.Topology{}
	base := Row{GSLabel: "sys1", LinkID: "link-1", SwLabel: "tor-a", SwIfName: "xe-0/0/1", Speed: "10G"}

	first := base
	first.Tags = []string{"a"}
	second := base
	second.Tags = []string{"b"}
	second.Aggregate = "evpn-1"

	Merge(topo, first)
	Merge(topo, second)

	rec := topo["sys1"]["link-1"]
	if !reflect.DeepEqual(rec.Tags, []string{"a", "b"}) {
		t.Errorf("tags = %v", rec.Tags)
	}
	if rec.AggregateLink != "evpn-1" {
		t.Errorf("aggregate = %q", rec.AggregateLink)
	}
	if len(topo["sys1"]) != 1 {
		t.Errorf("duplicate binding created %d records", len(topo["sys1"]))
	}
}

func TestMerge_DropsUplinks(t *testing.T) {
	topo := model.Topology{}
	for _, ifName := range model.ReservedUplinks {
		if Merge(topo, Row{GSLabel: "gs", LinkID: ifName, SwIfName: ifName}) {
			t.Errorf("%s should be dropped", ifName)
		}
	}
	if len(topo) != 0 {
		t.Errorf("topology = %v", topo)
	}
}

func TestQueries_RenderPairLiteral(t *testing.T) {
	q := LinksQuery([]string{"tor'a", "tor-b"}).String()
	if !strings.Contains(q, `label=is_in(['tor\'a', 'tor-b'])`) {
		t.Errorf("pair not escaped: %s", q)
	}
}
