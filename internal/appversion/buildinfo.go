// Package appversion provides build-time version information.
package appversion

import "runtime/debug"

// version is set at build time via -ldflags "-X asyncbuild/internal/appversion.version=...".
var version = "dev" //nolint:gochecknoglobals // ldflags requires package-level var

// String returns the current version. Builds without ldflags fall back to
// the module version recorded by `go install`.
func String() string {
	if version != "dev" {
		return version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return version
}
