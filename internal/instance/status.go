package instance

import (
	"github.com/docker/docker/api/types"
)

// Status summarises the containers of an instance.
type Status string

const (
	StatusRunning  Status = "Running"
	StatusDegraded Status = "Degraded"
	StatusStopped  Status = "Stopped"
	StatusMissing  Status = "Missing"
)

// Usable reports whether a store in this state accepts connections.
func (s Status) Usable() bool {
	return s == StatusRunning
}

// DetermineStatus folds container states into one instance status: Running
// when every container runs, Degraded when only some do.
func DetermineStatus(containers []types.Container) Status {
	states := make(map[string]int)
	for _, c := range containers {
		states[c.State]++
	}

	switch running := states["running"]; {
	case len(containers) == 0:
		return StatusMissing
	case running == len(containers):
		return StatusRunning
	case running > 0:
		return StatusDegraded
	}
	return StatusStopped
}
