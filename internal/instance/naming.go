// Package instance manages the local Redis store backing a flock instance:
// naming, port allocation and the container lifecycle behind
// `flock store up` and `flock store down`.
package instance

import (
	"context"
	"fmt"
	"regexp"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"

	dockerpkg "github.com/dyluth/flock/internal/docker"
)

// MaxNameLength keeps instance names usable as DNS labels.
const MaxNameLength = 63

// NamePattern: lowercase alphanumerics and inner hyphens.
var NamePattern = regexp.MustCompile(`^[a-z0-9]([-a-z0-9]*[a-z0-9])?$`)

// ValidateName checks an instance name against DNS label rules. The name is
// used both in Redis key prefixes and in container names.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("instance name cannot be empty")
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("instance name too long: %d characters (max: %d)", len(name), MaxNameLength)
	}
	if !NamePattern.MatchString(name) {
		return fmt.Errorf("invalid instance name '%s': must be lowercase alphanumeric with hyphens (not at start/end)", name)
	}
	return nil
}

// Containers lists every container labelled with instanceName.
func Containers(ctx context.Context, cli *client.Client, instanceName string) ([]types.Container, error) {
	f := filters.NewArgs()
	f.Add("label", dockerpkg.InstanceFilter(instanceName))
	containers, err := cli.ContainerList(ctx, container.ListOptions{All: true, Filters: f})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}
	return containers, nil
}
