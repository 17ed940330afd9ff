package repro

import (
	"fmt"
	"strings"
)

// NarInfoContentType is the media type build-cache clients expect.
const NarInfoContentType = "text/x-nix-narinfo"

// NarInfo is the small key/value document served to binary-cache clients for one attestation.
type NarInfo struct {
	StorePath string
	NarHash   string
	// Deriver is the derivation hash; left empty when the derivation record is missing.
	Deriver string
	Sig     string
}

// String renders the document. URL and NarSize are fixed placeholders.
func (n NarInfo) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "StorePath: %s\n", n.StorePath)
	b.WriteString("URL: no\n")
	fmt.Fprintf(&b, "NarHash: %s\n", n.NarHash)
	b.WriteString("NarSize: 1\n")
	if n.Deriver != "" {
		fmt.Fprintf(&b, "Deriver: %s%s\n", n.Deriver, drvSuffix)
	}
	fmt.Fprintf(&b, "Sig: %s\n", n.Sig)
	return b.String()
}
