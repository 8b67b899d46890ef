package rpm

import (
	"context"
	"time"

	"github.com/blackwell-systems/rpmannotate/internal/snapshot"
)

// Source enumerates the packages currently installed on the host.
type Source interface {
	Snapshot(ctx context.Context) (snapshot.Snapshot, error)
}

// Package is one installed package as reported by rpm.
type Package struct {
	Name    string
	Version string
	Release string
}

// VersionRelease returns the "version-release" identifier used in snapshots.
func (p Package) VersionRelease() string {
	return p.Version + "-" + p.Release
}

// Query modes.
const (
	// ModeQuery lists every package with a single formatted `rpm -qa`.
	ModeQuery = "query"
	// ModeDetail lists packages with `rpm -qa` and resolves each one with
	// `rpm -qi`.
	ModeDetail = "detail"
)

// Options configures the rpm package source.
type Options struct {
	Binary      string
	Mode        string
	Timeout     time.Duration
	DetailLimit int
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		Binary:  "/bin/rpm",
		Mode:    ModeQuery,
		Timeout: 2 * time.Minute,
	}
}
