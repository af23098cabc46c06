// Package version is set at build time:
//
//	go build -ldflags "-X github.com/jeanpaul/tutor/pkg/version.Version=1.2.0 -X github.com/jeanpaul/tutor/pkg/version.Commit=$(git rev-parse --short HEAD)"
package version

var (
	Version = "dev"
	Commit  = "none"
)

// String is the form printed by --version.
func String() string {
	return Version + " (" + Commit + ")"
}
