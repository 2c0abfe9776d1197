// Package version carries the build version, injected via -ldflags.
package version

// Value is overridden at build time.
var Value = "dev"
