// Package version provides build metadata for the ember binary.
package version

// Build information, set at link time.
var (
	Version = "devel"
	Commit  = "unknown"
)
