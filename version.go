package xdpbind

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is a driver API version advertised by a provider.
type Version struct {
	Major uint32
	Minor uint32
	Patch uint32
}

// DefaultMinimumDriverAPIVersion is used when the registry is not configured with a minimum.
var DefaultMinimumDriverAPIVersion = Version{Major: 1}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// ParseVersion parses major.minor.patch, missing trailing components are zero.
func ParseVersion(s string) (Version, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) == 0 || len(parts) > 3 || parts[0] == "" {
		return Version{}, fmt.Errorf("invalid version %q", s)
	}

	var out [3]uint32
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return Version{}, fmt.Errorf("invalid version %q: %w", s, err)
		}
		out[i] = uint32(n)
	}

	return Version{Major: out[0], Minor: out[1], Patch: out[2]}, nil
}

// compatibleWith reports whether a provider offered version v can be used by a core whose minimum is min.
// Majors must match exactly, minor and patch must both be at least the minimum.
func (v Version) compatibleWith(min Version) bool {
	return v.Major == min.Major && v.Minor >= min.Minor && v.Patch >= min.Patch
}

// compatibleVersions filters offered down to the versions usable against min, preserving the provider's order.
func compatibleVersions(offered []Version, min Version) []Version {
	var out []Version
	for _, v := range offered {
		if v.compatibleWith(min) {
			out = append(out, v)
		}
	}
	return out
}
