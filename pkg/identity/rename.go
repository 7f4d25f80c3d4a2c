package identity

import (
	"errors"
	"strings"

	"github.com/kimcharli/apstra-bp-consolidate/pkg/util"
)

// MaxLabelLength is the controller's limit on system labels.
const MaxLabelLength = 32

// Renamer derives the target label of a generic system moved from the ToR
// blueprint: a known legacy prefix is replaced by the short prefix of the
// switch pair, any other label gets the short prefix prepended. Labels are
// never truncated since truncation can collide.
type Renamer struct {
	LegacyPrefixes []string // tried in order, first match wins
	ShortPrefix    string
	MaxLen         int
}

// NewRenamer returns a renamer with the default length limit
func NewRenamer(shortPrefix string, legacyPrefixes []string) *Renamer {
	return &Renamer{LegacyPrefixes: legacyPrefixes, ShortPrefix: shortPrefix, MaxLen: MaxLabelLength}
}

// ShortPrefixFrom strips the site prefix from the ToR name: "atl1tor-r5r14"
// becomes "r5r14".
func ShortPrefixFrom(torLabel, sitePrefix string) string {
	return strings.TrimPrefix(torLabel, sitePrefix)
}

// RenameChecked returns the target label, or a LengthError carrying the
// original label when the result would exceed the limit.
func (r *Renamer) RenameChecked(label string) (string, error) {
	if r.ShortPrefix == "" {
		return label, nil
	}
	rest := label
	for _, p := range r.LegacyPrefixes {
		if p != "" && strings.HasPrefix(label, p) {
			rest = label[len(p):]
			break
		}
	}
	candidate := r.ShortPrefix + "-" + rest
	max := r.MaxLen
	if max <= 0 {
		max = MaxLabelLength
	}
	if len(candidate) > max {
		return label, &util.LengthError{Original: label, Candidate: candidate, Max: max}
	}
	return candidate, nil
}

// Rename is RenameChecked with the overflow logged and the original kept
func (r *Renamer) Rename(label string) string {
	out, err := r.RenameChecked(label)
	var lerr *util.LengthError
	if errors.As(err, &lerr) {
		util.WithField("label", label).Warnf("not renaming: %v", err)
	}
	return out
}
