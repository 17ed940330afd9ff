package cmd

import (
	"fmt"
	"runtime/debug"
)

// Version and CommitSHA can be set via:
// -ldflags="-X 'github.com/lila-repro/lila/cmd.Version=$TAG' -X 'github.com/lila-repro/lila/cmd.CommitSHA=$SHA'"
var (
	Version   string
	CommitSHA string
)

func init() {
	if Version == "" {
		i, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		Version = i.Main.Version
	}
}

// versionString is the JSON document printed by --version.
func versionString() string {
	return fmt.Sprintf(`{"version": "%s", "commit": "%s"}`, Version, CommitSHA)
}
