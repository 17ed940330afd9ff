package sbom

import (
	"bytes"
	"fmt"
	"io"

	cdx "github.com/CycloneDX/cyclonedx-go"
)

// NewFlatDocument builds a document with one component per element and no
// dependency edges. The root bom-ref is name.
func NewFlatDocument(name string, elements []Element) *Document {
	bom := cdx.NewBOM()
	bom.Metadata = &cdx.Metadata{
		Component: &cdx.Component{
			BOMRef: name,
			Type:   cdx.ComponentTypeApplication,
			Name:   name,
		},
	}
	components := make([]cdx.Component, 0, len(elements))
	deps := make([]cdx.Dependency, 0, len(elements))
	for _, e := range elements {
		props := []cdx.Property{{Name: PropertyOutPath, Value: e.OutPath}}
		if e.DrvPath != "" {
			props = append(props, cdx.Property{Name: PropertyDrvPath, Value: e.DrvPath})
		}
		if e.Output != "" {
			props = append(props, cdx.Property{Name: PropertyOutput, Value: e.Output})
		}
		components = append(components, cdx.Component{
			BOMRef:     e.OutPath,
			Type:       cdx.ComponentTypeLibrary,
			Name:       e.OutPath,
			Properties: &props,
		})
		deps = append(deps, cdx.Dependency{Ref: e.OutPath})
	}
	bom.Components = &components
	bom.Dependencies = &deps
	return &Document{bom: bom}
}

// Encode writes doc as indented CycloneDX JSON.
func (d *Document) Encode(w io.Writer) error {
	if d == nil || d.bom == nil {
		return fmt.Errorf("document cannot be nil")
	}
	if err := cdx.NewBOMEncoder(w, cdx.BOMFileFormatJSON).SetPretty(true).Encode(d.bom); err != nil {
		return fmt.Errorf("encoding sbom: %w", err)
	}
	return nil
}

// Bytes is Encode into a buffer.
func (d *Document) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := d.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
