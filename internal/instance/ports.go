package instance

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"

	dockerpkg "github.com/dyluth/flock/internal/docker"
)

// Host ports handed to store containers.
const (
	startPort = 6379
	endPort   = 6478
)

// FindNextAvailablePort returns the first port in 6379-6478 that no flock
// store container claims and that can be bound on this host.
func FindNextAvailablePort(ctx context.Context, cli *client.Client) (int, error) {
	f := filters.NewArgs()
	f.Add("label", fmt.Sprintf("%s=true", dockerpkg.LabelProject))
	f.Add("label", dockerpkg.StoreFilter())

	containers, err := cli.ContainerList(ctx, container.ListOptions{All: true, Filters: f})
	if err != nil {
		return 0, fmt.Errorf("failed to query Docker containers: %w", err)
	}

	used := make(map[int]bool)
	for _, c := range containers {
		if port, err := strconv.Atoi(c.Labels[dockerpkg.LabelRedisPort]); err == nil {
			used[port] = true
		}
	}
	return firstFree(used)
}

func firstFree(used map[int]bool) (int, error) {
	for port := startPort; port <= endPort; port++ {
		if !used[port] && isPortBindable(port) {
			return port, nil
		}
	}
	return 0, fmt.Errorf("no available Redis ports (range %d-%d exhausted)", startPort, endPort)
}

func isPortBindable(port int) bool {
	listener, err := net.Listen("tcp", fmt.Sprintf("localhost:%d", port))
	if err != nil {
		return false
	}
	listener.Close()
	return true
}
