package xdpbind

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVersion(t *testing.T) {
	v, err := ParseVersion("1.3.5")
	require.NoError(t, err)
	assert.Equal(t, Version{1, 3, 5}, v)
	assert.Equal(t, "1.3.5", v.String())

	v, err = ParseVersion("2")
	require.NoError(t, err)
	assert.Equal(t, Version{Major: 2}, v)

	for _, bad := range []string{"", "1.2.3.4", "a.b", "1.-1", "99999999999"} {
		_, err = ParseVersion(bad)
		assert.Error(t, err, bad)
	}
}

func TestCompatibleVersions(t *testing.T) {
	min := Version{1, 3, 0}

	// 1.2.0 is below the minimum minor and 2.0.0 has the wrong major
	assert.Empty(t, compatibleVersions([]Version{{1, 2, 0}, {2, 0, 0}}, min))

	assert.Equal(t, []Version{{1, 3, 5}}, compatibleVersions([]Version{{1, 3, 5}}, min))

	// Provider order is preserved, the first entry is tried first
	assert.Equal(t,
		[]Version{{1, 4, 0}, {1, 3, 0}},
		compatibleVersions([]Version{{1, 4, 0}, {0, 9, 9}, {1, 3, 0}}, min),
	)

	// Patch is compared independently of minor
	assert.False(t, Version{1, 4, 0}.compatibleWith(Version{1, 3, 1}))
}
