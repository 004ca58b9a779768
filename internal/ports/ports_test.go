// ABOUTME: Tests for ephemeral port allocation.
// ABOUTME: Validates that allocated ports are usable and the temporary socket is released.

package ports

import (
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocate_ReturnsUsablePort(t *testing.T) {
	port, err := Allocate()
	require.NoError(t, err)
	assert.Greater(t, port, 0)
	assert.LessOrEqual(t, port, 65535)

	// The temporary socket must have been released: binding the same port
	// again should succeed.
	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	require.NoError(t, err, "allocated port should be free after Allocate returns")
	l.Close()
}

func TestAllocate_SequentialCallsDistinct(t *testing.T) {
	// The OS cycles through the ephemeral range, so back-to-back allocations
	// should not collide under normal conditions.
	seen := make(map[int]bool)
	for i := 0; i < 10; i++ {
		port, err := Allocate()
		require.NoError(t, err)
		assert.False(t, seen[port], "port %d allocated twice in sequence", port)
		seen[port] = true
	}
}
