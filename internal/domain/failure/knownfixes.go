package failure

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ericfisherdev/releaseintel/internal/domain/model"
)

//go:embed knownfixes.yaml
var builtinFixesYAML []byte

// KnownFixes is a static table of remediations keyed by log substrings.
type KnownFixes struct {
	fixes []model.KnownFix
}

// ParseKnownFixes decodes a YAML list of fixes. Entries without a pattern are
// rejected.
func ParseKnownFixes(data []byte) ([]model.KnownFix, error) {
	var fixes []model.KnownFix
	if err := yaml.Unmarshal(data, &fixes); err != nil {
		return nil, fmt.Errorf("decode known fixes: %w", err)
	}
	for i, f := range fixes {
		if strings.TrimSpace(f.Pattern) == "" {
			return nil, fmt.Errorf("known fix %d has an empty pattern", i)
		}
	}
	return fixes, nil
}

// DefaultKnownFixes returns the built-in table.
func DefaultKnownFixes() *KnownFixes {
	fixes, err := ParseKnownFixes(builtinFixesYAML)
	if err != nil {
		panic(fmt.Sprintf("built-in known fixes: %v", err))
	}
	return &KnownFixes{fixes: fixes}
}

// LoadKnownFixes returns the built-in table extended with the entries of the
// YAML file at extraPath. An empty path yields the built-in table.
func LoadKnownFixes(extraPath string) (*KnownFixes, error) {
	table := DefaultKnownFixes()
	if extraPath == "" {
		return table, nil
	}

	data, err := os.ReadFile(extraPath)
	if err != nil {
		return nil, fmt.Errorf("read known fixes %s: %w", extraPath, err)
	}
	extra, err := ParseKnownFixes(data)
	if err != nil {
		return nil, fmt.Errorf("known fixes %s: %w", extraPath, err)
	}

	table.fixes = append(table.fixes, extra...)
	return table, nil
}

// Len returns the number of entries.
func (k *KnownFixes) Len() int {
	return len(k.fixes)
}

// Match returns every entry whose pattern occurs in log, case-insensitively,
// in table order.
func (k *KnownFixes) Match(log string) []model.KnownFix {
	if log == "" {
		return nil
	}

	lower := strings.ToLower(log)
	var matches []model.KnownFix
	for _, f := range k.fixes {
		if strings.Contains(lower, strings.ToLower(f.Pattern)) {
			matches = append(matches, f)
		}
	}
	return matches
}

// DedupeFixes drops fixes whose pattern was already seen; the first wins.
func DedupeFixes(fixes []model.KnownFix) []model.KnownFix {
	seen := make(map[string]bool, len(fixes))
	out := make([]model.KnownFix, 0, len(fixes))
	for _, f := range fixes {
		if seen[f.Pattern] {
			continue
		}
		seen[f.Pattern] = true
		out = append(out, f)
	}
	return out
}
