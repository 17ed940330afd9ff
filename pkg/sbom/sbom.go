// Package sbom reads the CycloneDX documents that define the scope of a report.
package sbom

import (
	"bytes"
	"fmt"
	"io"

	cdx "github.com/CycloneDX/cyclonedx-go"

	"github.com/lila-repro/lila/pkg/repro"
)

// Property names set by Nix SBOM generators.
const (
	PropertyOutPath    = "nix:out_path"
	PropertyOutputPath = "nix:output_path"
	PropertyDrvPath    = "nix:drv_path"
	PropertyOutput     = "nix:output"
)

// MediaType is the content type of a CycloneDX JSON document.
const MediaType = "application/vnd.cyclonedx+json"

// Document is a decoded report definition.
type Document struct {
	bom *cdx.BOM
}

// Parse decodes a CycloneDX JSON document and checks that it has a root
// component, a component list and a dependency list.
func Parse(data []byte) (*Document, error) {
	return Decode(bytes.NewReader(data))
}

// Decode is Parse over a reader.
func Decode(r io.Reader) (*Document, error) {
	bom := new(cdx.BOM)
	if err := cdx.NewBOMDecoder(r, cdx.BOMFileFormatJSON).Decode(bom); err != nil {
		return nil, fmt.Errorf("%w: decoding sbom: %v", repro.ErrMalformedInput, err)
	}
	if bom.Metadata == nil || bom.Metadata.Component == nil || bom.Metadata.Component.BOMRef == "" {
		return nil, fmt.Errorf("%w: sbom has no metadata.component.bom-ref", repro.ErrMalformedInput)
	}
	if bom.Components == nil {
		return nil, fmt.Errorf("%w: sbom has no components", repro.ErrMalformedInput)
	}
	if bom.Dependencies == nil {
		return nil, fmt.Errorf("%w: sbom has no dependencies", repro.ErrMalformedInput)
	}
	return &Document{bom: bom}, nil
}

// Root returns the bom-ref of the document's root component.
func (d *Document) Root() string {
	if d == nil || d.bom == nil || d.bom.Metadata == nil || d.bom.Metadata.Component == nil {
		return ""
	}
	return d.bom.Metadata.Component.BOMRef
}

func (d *Document) components() []cdx.Component {
	if d == nil || d.bom == nil || d.bom.Components == nil {
		return nil
	}
	return *d.bom.Components
}

func (d *Document) dependencies() []cdx.Dependency {
	if d == nil || d.bom == nil || d.bom.Dependencies == nil {
		return nil
	}
	return *d.bom.Dependencies
}

func properties(c *cdx.Component) []cdx.Property {
	if c.Properties == nil {
		return nil
	}
	return *c.Properties
}

// ExtractOutputPaths lists the out path of every component that carries one, in
// document order. Duplicates are kept.
func ExtractOutputPaths(doc *Document) []string {
	components := doc.components()
	paths := make([]string, 0, len(components))
	for i := range components {
		if p, ok := outPath(&components[i]); ok {
			paths = append(paths, p)
		}
	}
	return paths
}

func outPath(c *cdx.Component) (string, bool) {
	var alias string
	for _, p := range properties(c) {
		switch p.Name {
		case PropertyOutPath:
			return p.Value, true
		case PropertyOutputPath:
			if alias == "" {
				alias = p.Value
			}
		}
	}
	return alias, alias != ""
}

// Element is a component reduced to what a rebuilder needs.
type Element struct {
	OutPath string `json:"out_path"`
	DrvPath string `json:"drv_path,omitempty"`
	Output  string `json:"output,omitempty"`
}

// ExtractElements keys every component with an out path by that path. Later
// components win when two share a path.
func ExtractElements(doc *Document) map[string]Element {
	elements := ElementsInOrder(doc)
	out := make(map[string]Element, len(elements))
	for _, e := range elements {
		out[e.OutPath] = e
	}
	return out
}

// ElementsInOrder returns the de-duplicated elements in order of first appearance,
// each carrying the properties of the last component with that path.
func ElementsInOrder(doc *Document) []Element {
	components := doc.components()
	index := make(map[string]int, len(components))
	var elements []Element
	for i := range components {
		path, ok := outPath(&components[i])
		if !ok {
			continue
		}
		e := Element{OutPath: path}
		for _, p := range properties(&components[i]) {
			switch p.Name {
			case PropertyDrvPath:
				e.DrvPath = p.Value
			case PropertyOutput:
				e.Output = p.Value
			}
		}
		if at, seen := index[path]; seen {
			elements[at] = e
			continue
		}
		index[path] = len(elements)
		elements = append(elements, e)
	}
	return elements
}

// OutputToDerivation maps out paths to the derivation hash of the component that
// produces them. Components without a well-formed nix:drv_path are skipped.
func OutputToDerivation(doc *Document) map[string]string {
	out := make(map[string]string)
	for _, e := range ElementsInOrder(doc) {
		if e.DrvPath == "" {
			continue
		}
		hash, err := repro.ParseDerivationPath(e.DrvPath)
		if err != nil {
			continue
		}
		out[e.OutPath] = hash
	}
	return out
}
