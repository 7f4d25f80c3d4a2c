package migrate

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kimcharli/apstra-bp-consolidate/pkg/apstra"
)

// PendingPairs holds the links of a switch pair from just before the legacy
// generic system is deleted until the pair is created. Once the legacy
// system is gone the target no longer records where the pair was cabled, so
// a run that fails in between resumes from here.
type PendingPairs interface {
	Save(tor string, spec *apstra.SwitchSystemLinksSpec) error
	// Load returns found == false when nothing is pending for tor.
	Load(tor string) (spec *apstra.SwitchSystemLinksSpec, found bool, err error)
	Clear(tor string) error
}

// memoryPending keeps pending pairs for the life of the process
type memoryPending map[string]*apstra.SwitchSystemLinksSpec

func (m memoryPending) Save(tor string, spec *apstra.SwitchSystemLinksSpec) error {
	m[tor] = spec
	return nil
}

func (m memoryPending) Load(tor string) (*apstra.SwitchSystemLinksSpec, bool, error) {
	spec, ok := m[tor]
	return spec, ok, nil
}

func (m memoryPending) Clear(tor string) error {
	delete(m, tor)
	return nil
}

// FilePending stores each pending pair as <Dir>/<tor>.pair.json
type FilePending struct {
	Dir string
}

// NewFilePending returns a store rooted at dir; dir is created on first Save
func NewFilePending(dir string) *FilePending {
	return &FilePending{Dir: dir}
}

func (p *FilePending) path(tor string) string {
	return filepath.Join(p.Dir, tor+".pair.json")
}

func (p *FilePending) Save(tor string, spec *apstra.SwitchSystemLinksSpec) error {
	if err := os.MkdirAll(p.Dir, 0755); err != nil {
		return fmt.Errorf("creating pending directory: %w", err)
	}
	data, err := json.MarshalIndent(spec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling pending pair %s: %w", tor, err)
	}
	if err := os.WriteFile(p.path(tor), data, 0644); err != nil {
		return fmt.Errorf("writing pending pair %s: %w", tor, err)
	}
	return nil
}

func (p *FilePending) Load(tor string) (*apstra.SwitchSystemLinksSpec, bool, error) {
	data, err := os.ReadFile(p.path(tor))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading pending pair %s: %w", tor, err)
	}
	var spec apstra.SwitchSystemLinksSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, false, fmt.Errorf("parsing pending pair %s: %w", tor, err)
	}
	return &spec, true, nil
}

func (p *FilePending) Clear(tor string) error {
	if err := os.Remove(p.path(tor)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing pending pair %s: %w", tor, err)
	}
	return nil
}
