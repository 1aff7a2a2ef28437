package instance

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"

	dockerpkg "github.com/dyluth/flock/internal/docker"
)

// Store is a running store container.
type Store struct {
	Instance    string
	ContainerID string
	Port        int
}

// HostEnv overrides the host store ports are published on.
const HostEnv = "FLOCK_STORE_HOST"

// Addr is the address to put in redis.addr.
func (s Store) Addr() string {
	return net.JoinHostPort(storeHost(), strconv.Itoa(s.Port))
}

// storeHost is where published ports are reached: HostEnv when set, the
// Docker host from inside a container, localhost otherwise.
func storeHost() string {
	if h := os.Getenv(HostEnv); h != "" {
		return h
	}
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return "host.docker.internal"
	}
	return "localhost"
}

// ErrNoStore is returned when an instance has no store container.
var ErrNoStore = errors.New("no store container")

// Up starts a Redis container for instanceName on the next free port. It
// refuses to start a second store for the same instance.
func Up(ctx context.Context, cli *client.Client, instanceName, image string) (*Store, error) {
	if err := ValidateName(instanceName); err != nil {
		return nil, err
	}
	if image == "" {
		image = dockerpkg.DefaultStoreImage
	}

	existing, err := Containers(ctx, cli, instanceName)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return nil, fmt.Errorf("instance '%s' already has a store (%s)", instanceName, DetermineStatus(existing))
	}

	port, err := FindNextAvailablePort(ctx, cli)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate Redis port: %w", err)
	}

	if err := pullIfMissing(ctx, cli, image); err != nil {
		return nil, err
	}

	labels := dockerpkg.BuildLabels(instanceName, dockerpkg.ComponentStore)
	labels[dockerpkg.LabelRedisPort] = strconv.Itoa(port)

	resp, err := cli.ContainerCreate(ctx, &container.Config{
		Image:        image,
		Labels:       labels,
		ExposedPorts: nat.PortSet{"6379/tcp": struct{}{}},
	}, &container.HostConfig{
		PortBindings: nat.PortMap{
			"6379/tcp": []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: strconv.Itoa(port)}},
		},
	}, nil, nil, dockerpkg.StoreContainerName(instanceName))
	if err != nil {
		return nil, fmt.Errorf("failed to create Redis container: %w", err)
	}

	if err := cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		_ = cli.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return nil, fmt.Errorf("failed to start Redis container: %w", err)
	}

	return &Store{Instance: instanceName, ContainerID: resp.ID, Port: port}, nil
}

// Find returns the store container of instanceName, or ErrNoStore.
func Find(ctx context.Context, cli *client.Client, instanceName string) (*Store, error) {
	containers, err := Containers(ctx, cli, instanceName)
	if err != nil {
		return nil, err
	}
	for _, c := range containers {
		if c.Labels[dockerpkg.LabelComponent] != dockerpkg.ComponentStore {
			continue
		}
		port, err := strconv.Atoi(c.Labels[dockerpkg.LabelRedisPort])
		if err != nil {
			return nil, fmt.Errorf("store container %s has no valid port label", c.ID)
		}
		return &Store{Instance: instanceName, ContainerID: c.ID, Port: port}, nil
	}
	return nil, fmt.Errorf("%w for instance '%s'", ErrNoStore, instanceName)
}

// Down stops and removes every container of instanceName. It returns the
// number removed.
func Down(ctx context.Context, cli *client.Client, instanceName string) (int, error) {
	containers, err := Containers(ctx, cli, instanceName)
	if err != nil {
		return 0, err
	}

	timeout := 10
	for _, c := range containers {
		// Already stopped containers fail here; removal below is forced.
		_ = cli.ContainerStop(ctx, c.ID, container.StopOptions{Timeout: &timeout})
		if err := cli.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
			return 0, fmt.Errorf("failed to remove %s: %w", c.ID, err)
		}
	}
	return len(containers), nil
}

func pullIfMissing(ctx context.Context, cli *client.Client, image string) error {
	if _, _, err := cli.ImageInspectWithRaw(ctx, image); err == nil {
		return nil
	}
	reader, err := cli.ImagePull(ctx, image, types.ImagePullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull %s: %w", image, err)
	}
	defer reader.Close()
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("failed to pull %s: %w", image, err)
	}
	return nil
}
