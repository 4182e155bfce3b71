package utils

import "os"

// IsDebugEnabled reports whether verbose debug logging should be emitted.
// Debug output is on everywhere except release deployments, and can be
// forced on with EPHEM_DEBUG=1.
func IsDebugEnabled() bool {
	if os.Getenv("EPHEM_DEBUG") == "1" {
		return true
	}
	return os.Getenv("GIN_MODE") != "release"
}
