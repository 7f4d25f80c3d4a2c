// Package report implements the read-only commands that support a
// consolidation: finding virtual networks the main blueprint lacks, dumping
// cabling maps and pulling rendered configurations for comparison.
package report

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/kimcharli/apstra-bp-consolidate/pkg/blueprint"
	"github.com/kimcharli/apstra-bp-consolidate/pkg/identity"
	"github.com/kimcharli/apstra-bp-consolidate/pkg/model"
	"github.com/kimcharli/apstra-bp-consolidate/pkg/qe"
	"github.com/kimcharli/apstra-bp-consolidate/pkg/topology"
	"github.com/kimcharli/apstra-bp-consolidate/pkg/util"
)

// minConfigSize is the largest rendering treated as empty; an unrendered
// system may still return a newline.
const minConfigSize = 2

// MissingVNs lists, per blueprint, the VNIs main does not carry
type MissingVNs struct {
	Blueprint string `json:"blueprint"`
	VNIs      []int  `json:"vnis"`
}

func blueprintVNIs(ctx context.Context, bp *blueprint.Blueprint) ([]int, error) {
	rows, err := bp.Query(ctx, qe.From(qe.Node(model.NodeVirtualNetwork, qe.Name("vn"))))
	if err != nil {
		return nil, fmt.Errorf("pulling virtual networks of %s: %w", bp.Label, err)
	}
	seen := map[int]bool{}
	var vnis []int
	for _, row := range rows {
		var vn model.VirtualNetwork
		if _, err := row.Decode("vn", &vn); err != nil {
			return nil, err
		}
		vni, err := vn.VNI()
		if err != nil {
			return nil, err
		}
		if !seen[vni] {
			seen[vni] = true
			vnis = append(vnis, vni)
		}
	}
	sort.Ints(vnis)
	return vnis, nil
}

// FindMissingVNs compares every blueprint in others with main and returns
// the ones carrying VNIs main lacks. main itself is skipped if listed.
func FindMissingVNs(ctx context.Context, main *blueprint.Blueprint, others []*blueprint.Blueprint) ([]MissingVNs, error) {
	mainVNIs, err := blueprintVNIs(ctx, main)
	if err != nil {
		return nil, err
	}
	util.WithBlueprint(main.Label).Infof("%d virtual networks", len(mainVNIs))

	var out []MissingVNs
	for _, bp := range others {
		if bp.ID == main.ID {
			continue
		}
		vnis, err := blueprintVNIs(ctx, bp)
		if err != nil {
			return nil, err
		}
		var missing []int
		for _, vni := range vnis {
			if !util.Contains(mainVNIs, vni) {
				missing = append(missing, vni)
			}
		}
		log := util.WithBlueprint(bp.Label)
		if len(missing) == 0 {
			log.Debugf("all %d virtual networks present in %s", len(vnis), main.Label)
			continue
		}
		log.Warnf("%d virtual networks absent from %s: %v", len(missing), main.Label, missing)
		out = append(out, MissingVNs{Blueprint: bp.Label, VNIs: missing})
	}
	return out, nil
}

// File is one file written by a report
type File struct {
	Path  string `json:"path"`
	Bytes int    `json:"bytes"`
}

func (f File) String() string {
	return fmt.Sprintf("%s (%s)", f.Path, humanize.Bytes(uint64(f.Bytes)))
}

// CablingMap is the YAML document written per blueprint
type CablingMap struct {
	Blueprint      string         `yaml:"blueprint"`
	SwitchPair     []string       `yaml:"switch_pair"`
	GenericSystems model.Topology `yaml:"generic_systems"`
}

// CollectCablingMaps writes the generic systems cabled to pair in each
// blueprint to <dir>/<blueprint>.yaml. A blueprint without the pair is
// skipped.
func CollectCablingMaps(ctx context.Context, bps []*blueprint.Blueprint, pair []string, dir string) ([]File, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	var files []File
	for _, bp := range bps {
		topo, err := topology.PullGenericSystems(ctx, bp, pair)
		if errors.Is(err, util.ErrNotFound) {
			util.WithBlueprint(bp.Label).Warnf("no cabling map: %v", err)
			continue
		}
		if err != nil {
			return files, err
		}
		data, err := yaml.Marshal(&CablingMap{Blueprint: bp.Label, SwitchPair: pair, GenericSystems: topo})
		if err != nil {
			return files, fmt.Errorf("encoding cabling map of %s: %w", bp.Label, err)
		}
		path := filepath.Join(dir, util.SanitizeName(bp.Label)+".yaml")
		if err := os.WriteFile(path, data, 0644); err != nil {
			return files, err
		}
		f := File{Path: path, Bytes: len(data)}
		util.WithBlueprint(bp.Label).Infof("%d generic systems written to %s", len(topo), f)
		files = append(files, f)
	}
	return files, nil
}

// PullConfigurations writes the rendered configuration of each switch of
// pair in each blueprint to <dir>/<blueprint>/<label>-rendered.txt. Empty
// renderings and switches absent from a blueprint are skipped.
func PullConfigurations(ctx context.Context, bps []*blueprint.Blueprint, pair []string, dir string) ([]File, error) {
	var files []File
	for _, bp := range bps {
		log := util.WithBlueprint(bp.Label)
		ids := identity.NewResolver(bp)
		outDir := filepath.Join(dir, util.SanitizeName(bp.Label))
		for _, label := range pair {
			id, found, err := ids.SystemID(ctx, label)
			if err != nil {
				return files, err
			}
			if !found {
				log.Warnf("%s absent, no configuration pulled", label)
				continue
			}
			rendered, err := bp.RenderedConfig(ctx, id)
			if err != nil {
				return files, fmt.Errorf("rendering %s in %s: %w", label, bp.Label, err)
			}
			if len(rendered) <= minConfigSize {
				log.Warnf("%s has no rendered configuration", label)
				continue
			}
			if err := os.MkdirAll(outDir, 0755); err != nil {
				return files, err
			}
			path := filepath.Join(outDir, label+"-rendered.txt")
			if err := os.WriteFile(path, []byte(rendered), 0644); err != nil {
				return files, err
			}
			f := File{Path: path, Bytes: len(rendered)}
			log.Infof("wrote %s", f)
			files = append(files, f)
		}
	}
	return files, nil
}

// TotalBytes sums the sizes of files for display
func TotalBytes(files []File) string {
	var n uint64
	for _, f := range files {
		n += uint64(f.Bytes)
	}
	return humanize.Bytes(n)
}
