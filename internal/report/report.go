// Package report builds the summary view of a report: counts per reproducibility
// bucket, outputs grouped by external issue links, and the rendered tree.
package report

import (
	"fmt"
	"regexp"

	"github.com/lila-repro/lila/internal/data/model"
	"github.com/lila-repro/lila/pkg/render"
	"github.com/lila-repro/lila/pkg/repro"
	"github.com/lila-repro/lila/pkg/sbom"
)

// Item is one output listed in a group.
type Item struct {
	Name          string   `json:"name"`
	Path          string   `json:"path"`
	Link          string   `json:"link"`
	ExternalLinks []string `json:"external_links"`
}

// Group is a set of outputs sharing an external link. The first group of every
// list has an empty label and collects outputs without a shared link.
type Group struct {
	Label string `json:"label"`
	Link  string `json:"link,omitempty"`
	Items []Item `json:"items"`
}

// View is everything the report page shows.
type View struct {
	Title                string  `json:"title"`
	ReproducibleN        string  `json:"reproducible_n"`
	NotReproducibleN     string  `json:"not_reproducible_n"`
	NotCheckedN          string  `json:"not_checked_n"`
	Reproducible         []Group `json:"reproducible"`
	NotReproducible      []Group `json:"not_reproducible"`
	NotCheckedOneBuild   []Group `json:"not_checked_one_build"`
	NotCheckedNoBuilds   []Group `json:"not_checked_no_builds"`
	Tree                 string  `json:"-"`
	Total                int     `json:"total"`
	CountReproducible    int     `json:"count_reproducible"`
	CountNotReproducible int     `json:"count_not_reproducible"`
	CountNotChecked      int     `json:"count_not_checked"`
}

// Input is what Build needs to know about one report.
type Input struct {
	States       map[string]repro.State
	Derivations  map[string]string
	Root         string
	Paths        []string
	LinkPatterns []model.LinkPattern
	Graph        sbom.Graph
}

// NumberAndPercentage formats n as a share of total, e.g. "3 (42.8%)".
func NumberAndPercentage(n, total int) string {
	if total == 0 {
		return fmt.Sprintf("%d (0%%)", n)
	}
	return fmt.Sprintf("%d (%.1f%%)", n, 100*float64(n)/float64(total))
}

// Build computes the view. Paths are taken in order, duplicates ignored.
func Build(in Input) View {
	matcher := newLinkMatcher(in.LinkPatterns)

	var reproduced, failed, oneBuild, noBuilds []string
	seen := make(map[string]struct{}, len(in.Paths))
	for _, p := range in.Paths {
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		switch in.States[p] {
		case repro.SuccessfullyReproduced:
			reproduced = append(reproduced, p)
		case repro.PartiallyReproduced, repro.ConsistentlyNondeterministic:
			failed = append(failed, p)
		case repro.OneBuild:
			oneBuild = append(oneBuild, p)
		default:
			noBuilds = append(noBuilds, p)
		}
	}
	total := len(seen)
	notChecked := len(oneBuild) + len(noBuilds)

	var tree string
	if in.Graph.HasDependencies() {
		tree = render.HTML(in.Graph, in.States, render.HTMLOptions{Derivations: in.Derivations})
	} else {
		tree = render.Flat(in.Paths, in.States, render.HTMLOptions{Derivations: in.Derivations})
	}

	return View{
		Title:                repro.PackageName(in.Root),
		Total:                total,
		CountReproducible:    len(reproduced),
		CountNotReproducible: len(failed),
		CountNotChecked:      notChecked,
		ReproducibleN:        NumberAndPercentage(len(reproduced), total),
		NotReproducibleN:     NumberAndPercentage(len(failed), total),
		NotCheckedN:          NumberAndPercentage(notChecked, total),
		Reproducible:         groupOutputs(reproduced, matcher, in.Derivations),
		NotReproducible:      groupOutputs(failed, matcher, in.Derivations),
		NotCheckedOneBuild:   groupOutputs(oneBuild, matcher, in.Derivations),
		NotCheckedNoBuilds:   groupOutputs(noBuilds, matcher, in.Derivations),
		Tree:                 tree,
	}
}

type linkPattern struct {
	re   *regexp.Regexp
	link string
}

type linkMatcher []linkPattern

// newLinkMatcher compiles patterns anchored at the start of the output name.
// Patterns that do not compile are skipped.
func newLinkMatcher(patterns []model.LinkPattern) linkMatcher {
	m := make(linkMatcher, 0, len(patterns))
	for _, lp := range patterns {
		re, err := regexp.Compile(`^(?:` + lp.Pattern + `)`)
		if err != nil {
			continue
		}
		m = append(m, linkPattern{re: re, link: lp.Link})
	}
	return m
}

// links returns the links of every pattern matching the package name of path.
func (m linkMatcher) links(path string) []string {
	name := repro.PackageName(path)
	links := []string{}
	for _, lp := range m {
		if lp.re.MatchString(name) {
			links = append(links, lp.link)
		}
	}
	return links
}

// sharedLinks returns, in order of first repeat, the links attached to more than one output.
func sharedLinks(all [][]string) []string {
	once := make(map[string]bool)
	var multi []string
	for _, links := range all {
		for _, l := range links {
			seenOnce, ok := once[l]
			switch {
			case !ok:
				once[l] = true
			case seenOnce:
				once[l] = false
				multi = append(multi, l)
			}
		}
	}
	return multi
}

func groupOutputs(paths []string, m linkMatcher, derivations map[string]string) []Group {
	all := make([][]string, len(paths))
	for i, p := range paths {
		all[i] = m.links(p)
	}
	groups := []Group{{Label: "", Items: []Item{}}}
	index := map[string]int{}
	for _, l := range sharedLinks(all) {
		index[l] = len(groups)
		groups = append(groups, Group{Label: l, Link: l, Items: []Item{}})
	}
	for i, p := range paths {
		item := Item{
			Name:          repro.PackageName(p),
			Path:          p,
			Link:          itemLink(p, derivations),
			ExternalLinks: all[i],
		}
		at := 0
		if len(all[i]) > 0 {
			if g, ok := index[all[i][0]]; ok {
				at = g
			}
		}
		groups[at].Items = append(groups[at].Items, item)
	}
	return groups
}

func itemLink(path string, derivations map[string]string) string {
	if drv, ok := derivations[path]; ok {
		return "/derivations/" + drv
	}
	return "/attestations/by-output/" + repro.ShortName(path)
}
