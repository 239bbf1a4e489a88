// Package dabovar holds build information and small helpers shared by all
// dabo packages.
package dabovar

import (
	"runtime/debug"
)

// Version of the dabo build, derived from the Go module build info.
var Version = "(devel)"

func init() {
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	Version = buildInfo.Main.Version
	if Version != "(devel)" {
		return
	}
	var rev string
	var modified bool
	for _, setting := range buildInfo.Settings {
		switch setting.Key {
		case "vcs.revision":
			rev = setting.Value
		case "vcs.modified":
			modified = setting.Value == "true"
		}
	}
	if rev == "" {
		return
	}
	Version = rev
	if modified {
		Version += "+modifications"
	}
}
