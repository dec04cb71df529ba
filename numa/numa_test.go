package numa

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCPUList(t *testing.T) {
	cpus, err := parseCPUList("0-3,8,10-11\n")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3, 8, 10, 11}, cpus)

	cpus, err = parseCPUList("")
	require.NoError(t, err)
	assert.Empty(t, cpus)

	for _, bad := range []string{"a", "1-b", "4-2", "1,,2"} {
		_, err = parseCPUList(bad)
		assert.Error(t, err, bad)
	}
}

func TestPin_Restores(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	n := CurrentNode()
	assert.GreaterOrEqual(t, int(n), 0)

	restore, err := Pin(n)
	if err != nil {
		t.Skipf("affinity not permitted here: %v", err)
	}
	restore()

	// Pinning to a node that does not exist is a no-op
	restore, err = Pin(Node(1 << 20))
	require.NoError(t, err)
	restore()
}
