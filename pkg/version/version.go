// Package version holds the build-time version string, overridden at link
// time via -ldflags the way the teacher's own cmd/root/version.go does.
package version

// Version is the product version reported in the User-Agent header of
// outbound webhook deliveries.
// Overridden at build time; "dev" otherwise.
var Version = "dev"
