// Package buildinfo contains build information.
//
// Build information can be overridden during compilation by passing
// -ldflags "-X github.com/linux-test-project/ltx/pkg/buildinfo.VersionSuffix=value"
// to "go build".
package buildinfo

// Version identifies the version of the executor. On development commits
// it identifies the next release.
const Version = "0.0.1"

// VersionSuffix is appended to Version to build the full version string.
// It can be overridden when building; distribution packages should set it
// to the empty string.
var VersionSuffix = "-dev"

// Full returns the full version string.
func Full() string {
	return Version + VersionSuffix
}
