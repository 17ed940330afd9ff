package render

import (
	"html"
	"sort"
	"strings"

	"github.com/lila-repro/lila/pkg/repro"
)

// SortFlat de-duplicates paths and orders them reproduced first, then failed, then
// unchecked, alphabetically within each group. Unclassified paths sort as unchecked.
func SortFlat(paths []string, states map[string]repro.State) []string {
	seen := make(map[string]struct{}, len(paths))
	sorted := make([]string, 0, len(paths))
	for _, p := range paths {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		sorted = append(sorted, p)
	}
	priority := func(p string) int {
		if s, ok := states[p]; ok {
			return s.Priority()
		}
		return repro.NoBuilds.Priority()
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		pi, pj := priority(sorted[i]), priority(sorted[j])
		if pi != pj {
			return pi < pj
		}
		return sorted[i] < sorted[j]
	})
	return sorted
}

// FlatText renders paths without nesting, one line each.
func FlatText(paths []string, states map[string]repro.State) string {
	var b strings.Builder
	for _, p := range SortFlat(paths, states) {
		b.WriteString(repro.ShortName(p))
		if state, ok := states[p]; ok {
			b.WriteString(" " + state.Label())
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// Flat renders paths as a single list of <details> entries.
func Flat(paths []string, states map[string]repro.State, opts HTMLOptions) string {
	var b strings.Builder
	b.WriteString("<details open><summary>Outputs</summary>\n<ul>")
	for _, p := range SortFlat(paths, states) {
		b.WriteString(`<li><details open><summary title="` + html.EscapeString(p) + `">`)
		writeNodeLabel(&b, states, opts, p)
		b.WriteString("</summary></details></li>\n")
	}
	b.WriteString("</ul></details>")
	return b.String()
}
