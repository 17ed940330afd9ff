package render

import (
	"html"
	"strings"

	"github.com/lila-repro/lila/pkg/repro"
	"github.com/lila-repro/lila/pkg/sbom"
)

// HTMLOptions controls node links in the markup views.
type HTMLOptions struct {
	// Derivations maps out paths to derivation hashes. Mapped nodes link to
	// /derivations/<hash>.
	Derivations map[string]string
}

// HTML renders the graph as nested <details> elements starting at the root.
func HTML(g sbom.Graph, states map[string]repro.State, opts HTMLOptions) string {
	// an item is either a node to expand or markup closing an expanded one
	type item struct {
		node   string
		markup string
	}
	var b strings.Builder
	seen := seenSet{}
	index := g.Index()
	b.WriteString("<details open>")
	stack := []item{{node: g.Root}}
	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if it.markup != "" {
			b.WriteString(it.markup)
			continue
		}

		title := html.EscapeString(it.node)
		if !seen.visit(it.node) {
			b.WriteString(`<summary title="` + title + `">` + Ellipsis + "</summary>")
			continue
		}
		b.WriteString(`<summary title="` + title + `">`)
		writeNodeLabel(&b, states, opts, it.node)
		b.WriteString("</summary>\n<ul>")
		stack = append(stack, item{markup: "</ul>"})
		children := index[it.node]
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack,
				item{markup: "</details></li>"},
				item{node: children[i]},
				item{markup: "<li><details open>"},
			)
		}
	}
	b.WriteString("</details>")
	return b.String()
}

func writeNodeLabel(b *strings.Builder, states map[string]repro.State, opts HTMLOptions, node string) {
	if state, ok := states[node]; ok {
		b.WriteString(`<span class="state" title="` + html.EscapeString(state.Label()) + `">`)
		b.WriteString(state.Icon())
		b.WriteString("</span> ")
	}
	name := html.EscapeString(repro.PackageName(node))
	if drv, ok := opts.Derivations[node]; ok {
		b.WriteString(`<a href="/derivations/` + html.EscapeString(drv) + `">` + name + "</a>")
		return
	}
	b.WriteString(name)
}
