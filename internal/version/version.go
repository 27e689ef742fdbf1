// Package version carries build metadata of the wildcheck binary.
package version

import (
	"fmt"
	"runtime"
)

// Set via ldflags at build time:
//
//	-X github.com/tomatool/wildcheck/internal/version.Version=v1.2.0
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// String is the one-line form shown by --version
func String() string {
	if Commit == "none" {
		return Version
	}
	short := Commit
	if len(short) > 7 {
		short = short[:7]
	}
	return fmt.Sprintf("%s (%s, %s)", Version, short, BuildDate)
}

// Info returns version information
func Info() map[string]string {
	return map[string]string{
		"version": Version,
		"commit":  Commit,
		"built":   BuildDate,
		"go":      runtime.Version(),
		"os/arch": runtime.GOOS + "/" + runtime.GOARCH,
	}
}
