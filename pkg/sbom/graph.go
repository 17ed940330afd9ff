package sbom

// Edge is one dependencies[] entry: ref depends on each element of DependsOn, in order.
type Edge struct {
	Ref       string
	DependsOn []string
}

// Graph is the directed dependency graph of a document. It may contain cycles.
type Graph struct {
	Root  string
	Edges []Edge
}

// GraphOf extracts the dependency graph of doc. A nil document yields an empty graph.
func GraphOf(doc *Document) Graph {
	deps := doc.dependencies()
	g := Graph{Root: doc.Root(), Edges: make([]Edge, 0, len(deps))}
	for _, d := range deps {
		e := Edge{Ref: d.Ref}
		if d.Dependencies != nil {
			e.DependsOn = append([]string(nil), (*d.Dependencies)...)
		}
		g.Edges = append(g.Edges, e)
	}
	return g
}

// HasDependencies reports whether any edge has a target. Documents without any
// are rendered as flat lists.
func (g Graph) HasDependencies() bool {
	for _, e := range g.Edges {
		if len(e.DependsOn) > 0 {
			return true
		}
	}
	return false
}

// Index maps every ref to the concatenated targets of its edges, in document order.
func (g Graph) Index() map[string][]string {
	index := make(map[string][]string, len(g.Edges))
	for _, e := range g.Edges {
		index[e.Ref] = append(index[e.Ref], e.DependsOn...)
	}
	return index
}

// Children returns the targets of every edge whose ref is node, in document order.
func (g Graph) Children(node string) []string {
	var children []string
	for _, e := range g.Edges {
		if e.Ref == node {
			children = append(children, e.DependsOn...)
		}
	}
	return children
}
