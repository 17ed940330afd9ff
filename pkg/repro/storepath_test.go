package repro

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseStorePath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		want    StorePath
		wantErr bool
	}{
		{
			name: "regular output",
			path: "/nix/store/0a1b2c3d4e5f6g7h8i9j0k1l2m3n4o5p-hello-2.12.1",
			want: StorePath{Prefix: "/nix/store", Digest: "0a1b2c3d4e5f6g7h8i9j0k1l2m3n4o5p", Name: "hello-2.12.1"},
		},
		{
			name: "custom store",
			path: "/var/lib/store/abc-foo",
			want: StorePath{Prefix: "/var/lib/store", Digest: "abc", Name: "foo"},
		},
		{name: "relative", path: "nix/store/abc-foo", wantErr: true},
		{name: "bare name", path: "abc-foo", wantErr: true},
		{name: "no dash", path: "/nix/store/abcfoo", wantErr: true},
		{name: "empty digest", path: "/nix/store/-foo", wantErr: true},
		{name: "empty name", path: "/nix/store/abc-", wantErr: true},
		{name: "root only", path: "/abc-foo", wantErr: true},
		{name: "empty", path: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseStorePath(tt.path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseStorePath() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedInput) {
					t.Errorf("ParseStorePath() error = %v, want ErrMalformedInput", err)
				}
				return
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParseStorePath() mismatch (-want +got):\n%s", diff)
			}
			if got.String() != tt.path {
				t.Errorf("String() = %q, want %q", got.String(), tt.path)
			}
		})
	}
}

func TestStorePathHelpers(t *testing.T) {
	if got := OutputPath("abc", "hello-1.0"); got != "/nix/store/abc-hello-1.0" {
		t.Errorf("OutputPath() = %q", got)
	}
	if got := ShortName("/nix/store/abc-hello-1.0"); got != "abc-hello-1.0" {
		t.Errorf("ShortName() = %q", got)
	}
	if got := ShortName("not-a-path"); got != "not-a-path" {
		t.Errorf("ShortName() = %q", got)
	}
	if got := PackageName("/nix/store/abc-hello-1.0"); got != "hello-1.0" {
		t.Errorf("PackageName() = %q", got)
	}
}

func TestParseDerivationPath(t *testing.T) {
	tests := []struct {
		path    string
		want    string
		wantErr bool
	}{
		{path: "/nix/store/abc-hello-1.0.drv", want: "abc-hello-1.0"},
		{path: "/nix/store/abc-hello-1.0", wantErr: true},
		{path: "abc-hello.drv", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := ParseDerivationPath(tt.path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDerivationPath() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseDerivationPath() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNarInfoString(t *testing.T) {
	n := NarInfo{
		StorePath: "/nix/store/abc-hello",
		NarHash:   "sha256:1111",
		Deriver:   "def-hello",
		Sig:       "cache.example.org-1:c2ln",
	}
	want := "StorePath: /nix/store/abc-hello\n" +
		"URL: no\n" +
		"NarHash: sha256:1111\n" +
		"NarSize: 1\n" +
		"Deriver: def-hello.drv\n" +
		"Sig: cache.example.org-1:c2ln\n"
	if diff := cmp.Diff(want, n.String()); diff != "" {
		t.Errorf("String() mismatch (-want +got):\n%s", diff)
	}

	n.Deriver = ""
	want = "StorePath: /nix/store/abc-hello\nURL: no\nNarHash: sha256:1111\nNarSize: 1\nSig: cache.example.org-1:c2ln\n"
	if diff := cmp.Diff(want, n.String()); diff != "" {
		t.Errorf("String() without deriver mismatch (-want +got):\n%s", diff)
	}
}
