package docker

import (
	"fmt"
)

// Label keys set on every container flock creates.
const (
	LabelProject      = "flock.project"
	LabelInstanceName = "flock.instance.name"
	LabelComponent    = "flock.component"
	LabelRedisPort    = "flock.redis.port"
)

// ComponentStore marks the Redis container backing the batch lock and state.
const ComponentStore = "store"

// DefaultStoreImage is the Redis image started by `flock store up`.
const DefaultStoreImage = "redis:7-alpine"

// BuildLabels creates the label set for an instance's container.
func BuildLabels(instanceName, component string) map[string]string {
	labels := map[string]string{
		LabelProject:      "true",
		LabelInstanceName: instanceName,
	}
	if component != "" {
		labels[LabelComponent] = component
	}
	return labels
}

// StoreContainerName returns the Redis container name for an instance.
func StoreContainerName(instanceName string) string {
	return fmt.Sprintf("flock-redis-%s", instanceName)
}

// InstanceFilter selects the containers of one instance.
func InstanceFilter(instanceName string) string {
	return fmt.Sprintf("%s=%s", LabelInstanceName, instanceName)
}

// StoreFilter selects every flock store container.
func StoreFilter() string {
	return fmt.Sprintf("%s=%s", LabelComponent, ComponentStore)
}
