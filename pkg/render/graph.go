package render

import (
	"github.com/lila-repro/lila/pkg/repro"
	"github.com/lila-repro/lila/pkg/sbom"
)

// Node is one vertex of a force-directed layout.
type Node struct {
	ID    int    `json:"id"`
	Path  string `json:"path"`
	Label string `json:"label"`
	State string `json:"state,omitempty"`
	Icon  string `json:"icon,omitempty"`
}

// Link is a directed edge between two node ids.
type Link struct {
	Source int `json:"source"`
	Target int `json:"target"`
}

// GraphPayload is the node/link list consumed by force-graph front ends.
type GraphPayload struct {
	Nodes []Node `json:"nodes"`
	Links []Link `json:"links"`
}

// Graph assigns every path a stable id, extracted paths first in order of first
// appearance and then any edge endpoint not yet known, and emits one link per
// distinct (ref, dependsOn) pair.
func Graph(g sbom.Graph, paths []string, states map[string]repro.State) GraphPayload {
	ids := make(map[string]int, len(paths))
	payload := GraphPayload{Nodes: []Node{}, Links: []Link{}}
	id := func(path string) int {
		if n, ok := ids[path]; ok {
			return n
		}
		n := len(payload.Nodes)
		ids[path] = n
		node := Node{ID: n, Path: path, Label: repro.ShortName(path)}
		if state, ok := states[path]; ok {
			node.State = state.String()
			node.Icon = state.Icon()
		}
		payload.Nodes = append(payload.Nodes, node)
		return n
	}

	for _, p := range paths {
		id(p)
	}
	seen := make(map[Link]struct{})
	for _, e := range g.Edges {
		for _, target := range e.DependsOn {
			l := Link{Source: id(e.Ref), Target: id(target)}
			if _, dup := seen[l]; dup {
				continue
			}
			seen[l] = struct{}{}
			payload.Links = append(payload.Links, l)
		}
	}
	return payload
}
