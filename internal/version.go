package internal

import (
	"fmt"
	"runtime"
)

// Version is the current version of salachat.
// This should be updated with each release.
const Version = "0.4.0"

// VersionString is what `salachat version` prints.
func VersionString() string {
	return fmt.Sprintf("salachat %s (%s/%s, %s)", Version, runtime.GOOS, runtime.GOARCH, runtime.Version())
}
