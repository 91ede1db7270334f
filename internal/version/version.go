// Package version holds build identification. Version is overridden at
// release time via -ldflags "-X .../internal/version.Version=v1.2.3".
package version

// Version is the herald build version.
var Version = "dev"
