// Package filter selects the batch events shown by watch.
package filter

import (
	"fmt"
	"path/filepath"

	"github.com/dyluth/flock/pkg/blackboard"
)

// Criteria are ANDed together. Empty fields match everything.
type Criteria struct {
	BatchID  string // exact batch ID
	TypeGlob string // glob over the event type, e.g. "fail*"
}

// Validate rejects malformed glob patterns.
func (c Criteria) Validate() error {
	if c.TypeGlob == "" {
		return nil
	}
	if _, err := filepath.Match(c.TypeGlob, ""); err != nil {
		return fmt.Errorf("invalid type pattern %q: %w", c.TypeGlob, err)
	}
	return nil
}

// MatchesBatch reports whether e belongs to the selected batch.
func (c Criteria) MatchesBatch(e *blackboard.BatchEvent) bool {
	return c.BatchID == "" || e.BatchID == c.BatchID
}

// Matches reports whether e passes every criterion.
func (c Criteria) Matches(e *blackboard.BatchEvent) bool {
	if !c.MatchesBatch(e) {
		return false
	}
	if c.TypeGlob != "" {
		matched, err := filepath.Match(c.TypeGlob, string(e.Type))
		if err != nil || !matched {
			return false
		}
	}
	return true
}

// HasFilters reports whether any criterion is set.
func (c Criteria) HasFilters() bool {
	return c.BatchID != "" || c.TypeGlob != ""
}
