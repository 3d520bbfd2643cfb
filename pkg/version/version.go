// Package version gates every conversation with the registry on an exact
// match of the protocol version compiled into the binary.
//
// The version is stamped at link time:
//
//	go build -ldflags "-X github.com/hamzalsheikh/howl/pkg/version.version=1.2.0"
//
// Unstamped builds fall back to the VCS revision recorded by the toolchain,
// and to "dev" when there is none.
package version

import (
	"runtime/debug"
	"sync"
)

// set by the linker
var version string

var resolved = sync.OnceValue(func() string {
	if version != "" {
		return version
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	var revision, modified string
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.modified":
			modified = s.Value
		}
	}
	if revision != "" {
		if modified == "true" {
			return revision + "-dirty"
		}
		return revision
	}
	if info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "dev"
})

// Version returns the protocol version of this process.
func Version() string {
	return resolved()
}
