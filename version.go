// Package explore provides the version information of the explorer.
package explore

// Version is the current version of explore-go.
const Version = "0.1.0"

// GetVersion returns the current version string.
func GetVersion() string {
	return Version
}
