// Package render projects reproducibility states onto a dependency graph.
//
// Every walk keeps its own set of visited nodes. A node reached a second time is
// printed with Ellipsis and its children are not expanded again, so cyclic and
// re-converging graphs render in bounded output. Walks use an explicit stack,
// so deep chains do not grow the goroutine stack.
package render

import (
	"strings"

	"github.com/lila-repro/lila/pkg/repro"
	"github.com/lila-repro/lila/pkg/sbom"
)

// Ellipsis marks a node whose subtree was already rendered.
const Ellipsis = "…"

const indentUnit = "  "

type seenSet map[string]struct{}

// visit marks node as seen and reports whether it was new.
func (s seenSet) visit(node string) bool {
	if _, ok := s[node]; ok {
		return false
	}
	s[node] = struct{}{}
	return true
}

// Text renders the graph as one line per node, two spaces of indent per level,
// starting at the root. Classified nodes are followed by their state label.
func Text(g sbom.Graph, states map[string]repro.State) string {
	type frame struct {
		node  string
		depth int
	}
	var b strings.Builder
	seen := seenSet{}
	index := g.Index()
	stack := []frame{{node: g.Root}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		b.WriteString(strings.Repeat(indentUnit, f.depth))
		b.WriteString(repro.ShortName(f.node))
		if !seen.visit(f.node) {
			b.WriteString(" " + Ellipsis + "\n")
			continue
		}
		if state, ok := states[f.node]; ok {
			b.WriteString(" " + state.Label())
		}
		b.WriteByte('\n')
		children := index[f.node]
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, frame{node: children[i], depth: f.depth + 1})
		}
	}
	return b.String()
}
