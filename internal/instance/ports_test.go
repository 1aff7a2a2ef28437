package instance

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFirstFree(t *testing.T) {
	t.Run("skips ports claimed by store containers", func(t *testing.T) {
		port, err := firstFree(map[int]bool{6379: true, 6380: true})
		require.NoError(t, err)
		require.GreaterOrEqual(t, port, 6381)
		require.LessOrEqual(t, port, endPort)
	})

	t.Run("reports the exhausted range", func(t *testing.T) {
		used := make(map[int]bool)
		for p := startPort; p <= endPort; p++ {
			used[p] = true
		}
		_, err := firstFree(used)
		require.EqualError(t, err, "no available Redis ports (range 6379-6478 exhausted)")
	})
}

func TestIsPortBindable(t *testing.T) {
	t.Run("returns true for available port", func(t *testing.T) {
		listener, err := net.Listen("tcp", "localhost:0")
		require.NoError(t, err)
		port := listener.Addr().(*net.TCPAddr).Port
		listener.Close()

		require.True(t, isPortBindable(port))
	})

	t.Run("returns false for port in use", func(t *testing.T) {
		listener, err := net.Listen("tcp", "localhost:0")
		require.NoError(t, err)
		defer listener.Close()

		port := listener.Addr().(*net.TCPAddr).Port
		require.False(t, isPortBindable(port))
	})
}
