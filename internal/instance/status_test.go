package instance

import (
	"testing"

	"github.com/docker/docker/api/types"
	"github.com/stretchr/testify/assert"
)

func TestDetermineStatus(t *testing.T) {
	tests := []struct {
		name   string
		states []string
		want   Status
	}{
		{"no containers", nil, StatusMissing},
		{"running store", []string{"running"}, StatusRunning},
		{"exited store", []string{"exited"}, StatusStopped},
		{"partly running", []string{"running", "exited"}, StatusDegraded},
		{"created but not started", []string{"created"}, StatusStopped},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var containers []types.Container
			for _, s := range tt.states {
				containers = append(containers, types.Container{State: s})
			}
			assert.Equal(t, tt.want, DetermineStatus(containers))
		})
	}
}

func TestStoreAddr(t *testing.T) {
	s := Store{Instance: "prod", Port: 6381}
	assert.Contains(t, []string{"localhost:6381", "host.docker.internal:6381"}, s.Addr())
}

func TestStoreAddrHonoursHostOverride(t *testing.T) {
	t.Setenv(HostEnv, "redis.internal")
	s := Store{Instance: "prod", Port: 6390}
	assert.Equal(t, "redis.internal:6390", s.Addr())
}

func TestOnlyRunningStoresAreUsable(t *testing.T) {
	assert.True(t, StatusRunning.Usable())
	for _, s := range []Status{StatusDegraded, StatusStopped, StatusMissing} {
		assert.False(t, s.Usable(), s)
	}
}
