package docker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildLabels(t *testing.T) {
	labels := BuildLabels("d7-upgrade", ComponentStore)

	assert.Equal(t, "true", labels[LabelProject])
	assert.Equal(t, "d7-upgrade", labels[LabelInstanceName])
	assert.Equal(t, ComponentStore, labels[LabelComponent])
	assert.Len(t, labels, 3)
}

func TestBuildLabels_NoComponent(t *testing.T) {
	labels := BuildLabels("dev", "")

	assert.NotContains(t, labels, LabelComponent)
	assert.Len(t, labels, 2)
}

func TestNaming(t *testing.T) {
	assert.Equal(t, "flock-redis-prod", StoreContainerName("prod"))
	assert.Equal(t, "flock.instance.name=prod", InstanceFilter("prod"))
	assert.Equal(t, "flock.component=store", StoreFilter())
}
