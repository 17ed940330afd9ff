package repro

import (
	"fmt"
	"strings"
)

// DefaultStorePrefix is the store directory output paths live under.
const DefaultStorePrefix = "/nix/store"

// drvSuffix terminates derivation file names.
const drvSuffix = ".drv"

// StorePath is a parsed content-addressed path of the form <prefix>/<digest>-<name>.
type StorePath struct {
	Prefix string
	Digest string
	Name   string
}

// ParseStorePath splits an output path into its prefix, digest and name.
func ParseStorePath(path string) (StorePath, error) {
	slash := strings.LastIndexByte(path, '/')
	if slash <= 0 || !strings.HasPrefix(path, "/") {
		return StorePath{}, fmt.Errorf("%w: store path %q is not absolute", ErrMalformedInput, path)
	}
	base := path[slash+1:]
	dash := strings.IndexByte(base, '-')
	if dash <= 0 || dash == len(base)-1 {
		return StorePath{}, fmt.Errorf("%w: store path %q has no <digest>-<name> component", ErrMalformedInput, path)
	}
	return StorePath{
		Prefix: path[:slash],
		Digest: base[:dash],
		Name:   base[dash+1:],
	}, nil
}

// NewStorePath builds a path under the default store prefix.
func NewStorePath(digest, name string) StorePath {
	return StorePath{Prefix: DefaultStorePrefix, Digest: digest, Name: name}
}

// String renders the full path.
func (p StorePath) String() string {
	return p.Prefix + "/" + p.Base()
}

// Base is the path without its prefix, <digest>-<name>.
func (p StorePath) Base() string {
	return p.Digest + "-" + p.Name
}

// OutputPath joins a digest and a name under the default store prefix.
func OutputPath(digest, name string) string {
	return NewStorePath(digest, name).String()
}

// ShortName strips the store prefix from path, returning it unchanged when it does not parse.
func ShortName(path string) string {
	p, err := ParseStorePath(path)
	if err != nil {
		return path
	}
	return p.Base()
}

// PackageName strips the prefix and digest from path, returning it unchanged when it does not parse.
func PackageName(path string) string {
	p, err := ParseStorePath(path)
	if err != nil {
		return path
	}
	return p.Name
}

// ParseDerivationPath extracts the derivation hash (<digest>-<name> without ".drv")
// from a path such as /nix/store/<digest>-<name>.drv.
func ParseDerivationPath(drvPath string) (string, error) {
	if !strings.HasSuffix(drvPath, drvSuffix) {
		return "", fmt.Errorf("%w: derivation path %q does not end in %s", ErrMalformedInput, drvPath, drvSuffix)
	}
	p, err := ParseStorePath(strings.TrimSuffix(drvPath, drvSuffix))
	if err != nil {
		return "", err
	}
	return p.Base(), nil
}
