package ctassoc

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/kimcharli/apstra-bp-consolidate/pkg/apstra"
	"github.com/kimcharli/apstra-bp-consolidate/pkg/blueprint"
	"github.com/kimcharli/apstra-bp-consolidate/pkg/model"
	"github.com/kimcharli/apstra-bp-consolidate/pkg/qe"
	"github.com/kimcharli/apstra-bp-consolidate/pkg/util"
)

// VniCt holds the tagged and untagged single-VLAN templates of one VNI
type VniCt struct {
	VNI        int
	TaggedID   string
	UntaggedID string

	table   *VniCtTable
	refused map[bool]error
}

// CreateError reports a template the controller refused to create
type CreateError struct {
	VNI    int
	Tagged bool
	Err    error
}

func (e *CreateError) Error() string {
	return fmt.Sprintf("creating %s connectivity template for vni %d: %v", tagName(e.Tagged), e.VNI, e.Err)
}

func (e *CreateError) Unwrap() error {
	return e.Err
}

func (v *VniCt) set(id string, tagged bool) {
	if tagged {
		v.TaggedID = id
	} else {
		v.UntaggedID = id
	}
}

// ID returns the template id of the requested taggedness. A missing template
// is created on the spot; that is logged as a warning since every VNI in use
// is expected to have both. A refused creation returns a *CreateError and is
// not attempted again through this table.
func (v *VniCt) ID(ctx context.Context, tagged bool) (string, error) {
	id := v.UntaggedID
	if tagged {
		id = v.TaggedID
	}
	if id != "" {
		return id, nil
	}
	if err := v.refused[tagged]; err != nil {
		return "", err
	}

	bp := v.table.bp
	log := util.WithBlueprint(bp.Label).WithField("vni", v.VNI)
	rows, err := bp.Query(ctx, qe.From(qe.Node(model.NodeVirtualNetwork, qe.Eq("vn_id", strconv.Itoa(v.VNI)), qe.Name(bVN))))
	if err != nil {
		return "", fmt.Errorf("looking up virtual network %d: %w", v.VNI, err)
	}
	row, ok := rows.First()
	if !ok {
		return "", util.NewNotFoundError("virtual network", strconv.Itoa(v.VNI), bp.Label)
	}
	ct := &apstra.SingleVLANCT{
		Label:  ctLabel(row.String(bVN, "label"), tagged),
		VNID:   row.ID(bVN),
		Tagged: tagged,
	}
	log.Warnf("no %s connectivity template, creating %s", tagName(tagged), ct.Label)
	id, err = bp.CreateSingleVLANCT(ctx, ct)
	if err != nil {
		cerr := &CreateError{VNI: v.VNI, Tagged: tagged, Err: err}
		if v.refused == nil {
			v.refused = map[bool]error{}
		}
		v.refused[tagged] = cerr
		return "", cerr
	}
	v.set(id, tagged)
	v.table.Created++
	return id, nil
}

func tagName(tagged bool) string {
	if tagged {
		return "tagged"
	}
	return "untagged"
}

func ctLabel(vnLabel string, tagged bool) string {
	return fmt.Sprintf("%s-%s", vnLabel, tagName(tagged))
}

// VniCtTable maps VNI to its templates
type VniCtTable struct {
	// Created counts templates ID had to create
	Created int

	bp   *blueprint.Blueprint
	byID map[int]*VniCt
}

// NewVniCtTable returns an empty table bound to bp
func NewVniCtTable(bp *blueprint.Blueprint) *VniCtTable {
	return &VniCtTable{bp: bp, byID: map[int]*VniCt{}}
}

// Get returns the entry of a VNI, adding an empty one when absent so that
// ID can create its templates.
func (t *VniCtTable) Get(vni int) *VniCt {
	if e, ok := t.byID[vni]; ok {
		return e
	}
	e := &VniCt{VNI: vni, table: t}
	t.byID[vni] = e
	return e
}

// Lookup returns the entry of a VNI without adding one
func (t *VniCtTable) Lookup(vni int) (*VniCt, bool) {
	e, ok := t.byID[vni]
	return e, ok
}

// VNIs returns the known VNIs sorted
func (t *VniCtTable) VNIs() []int {
	out := make([]int, 0, len(t.byID))
	for vni := range t.byID {
		out = append(out, vni)
	}
	sort.Ints(out)
	return out
}

// VniCtQuery matches every batch policy whose first subpolicy attaches a
// single VLAN.
func VniCtQuery() *qe.Query {
	return qe.From(qe.Node(model.NodeEndpointPolicy, qe.Eq("policy_type_name", model.PolicyTypeBatch), qe.Name(bBatch)).
		Out(model.RelEpSubpolicy).Node(model.NodeEndpointPolicy).
		Out(model.RelEpFirstSubpolicy).Node(model.NodeEndpointPolicy, qe.Eq("policy_type_name", model.PolicyTypeAttachSingleVLAN), qe.Name(bSingle)).
		Out(model.RelVNToAttach).Node(model.NodeVirtualNetwork, qe.Name(bVN)))
}

// PullVniCtTable reads the single-VLAN templates of bp, attached or not
func PullVniCtTable(ctx context.Context, bp *blueprint.Blueprint) (*VniCtTable, error) {
	rows, err := bp.Query(ctx, VniCtQuery())
	if err != nil {
		return nil, fmt.Errorf("pulling vni to connectivity template table: %w", err)
	}
	t := NewVniCtTable(bp)
	for _, row := range rows {
		var vn model.VirtualNetwork
		if _, err := row.Decode(bVN, &vn); err != nil {
			return nil, err
		}
		vni, err := vn.VNI()
		if err != nil {
			util.WithBlueprint(bp.Label).Warnf("skipping: %v", err)
			continue
		}
		var single model.EndpointPolicy
		if _, err := row.Decode(bSingle, &single); err != nil {
			return nil, err
		}
		t.Get(vni).set(row.ID(bBatch), single.Tagged())
	}
	return t, nil
}
