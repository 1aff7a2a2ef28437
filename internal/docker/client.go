package docker

import (
	"context"
	"errors"
	"fmt"

	"github.com/docker/docker/client"
)

// ErrDaemonUnavailable wraps failures to reach the Docker daemon.
var ErrDaemonUnavailable = errors.New("Docker daemon not accessible")

// NewClient connects to the daemon named by the DOCKER_* environment, with
// API version negotiation, and pings it. Extra options are applied last.
func NewClient(ctx context.Context, opts ...client.Opt) (*client.Client, error) {
	opts = append([]client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}, opts...)
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}

	if _, err := cli.Ping(ctx); err != nil {
		cli.Close()
		return nil, fmt.Errorf(`%w: %v

A local store needs Docker. Start the daemon, or set redis.addr in
flock.yml to an existing Redis and skip 'flock store'`, ErrDaemonUnavailable, err)
	}
	return cli, nil
}
