package patch

import (
	"fmt"
	"strings"

	"github.com/aymanbagabas/go-udiff"
	"github.com/pmezard/go-difflib/difflib"
)

// Stat summarizes how many lines a patch adds and removes, surfaced in
// tool output so a caller can decide whether to apply a patch without
// re-reading the whole diff.
type Stat struct {
	Added   int
	Removed int
}

// Stats computes line-level add/remove counts between oldContent and
// newContent using difflib's sequence matcher — the same algorithm the
// Python/Go difflib family uses for "diff -u"-style stats.
func Stats(oldContent, newContent string) Stat {
	oldLines := difflib.SplitLines(oldContent)
	newLines := difflib.SplitLines(newContent)
	matcher := difflib.NewMatcher(oldLines, newLines)

	var st Stat
	for _, op := range matcher.GetOpCodes() {
		switch op.Tag {
		case 'r':
			st.Removed += op.I2 - op.I1
			st.Added += op.J2 - op.J1
		case 'd':
			st.Removed += op.I2 - op.I1
		case 'i':
			st.Added += op.J2 - op.J1
		}
	}
	return st
}

// UnifiedDiff renders a human-readable "diff -u"-style preview of the
// change, used by create_patch's tool output and by export/session
// rendering — independent of the diffmatchpatch-format patch text Apply
// and Create exchange, which is optimized for machine application, not
// for reading.
func UnifiedDiff(path, oldContent, newContent string) (string, error) {
	edits := udiff.Strings(oldContent, newContent)
	unified, err := udiff.ToUnified(path, path, oldContent, edits)
	if err != nil {
		return "", fmt.Errorf("render unified diff: %w", err)
	}
	var b strings.Builder
	b.WriteString(unified.String())
	return b.String(), nil
}
