package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dyluth/flock/pkg/blackboard"
)

func TestCriteriaMatches(t *testing.T) {
	progress := &blackboard.BatchEvent{BatchID: "a", Type: blackboard.BatchEventProgress}
	failed := &blackboard.BatchEvent{BatchID: "b", Type: blackboard.BatchEventFailed}

	tests := []struct {
		name     string
		criteria Criteria
		event    *blackboard.BatchEvent
		want     bool
	}{
		{"empty matches all", Criteria{}, progress, true},
		{"batch match", Criteria{BatchID: "a"}, progress, true},
		{"batch mismatch", Criteria{BatchID: "a"}, failed, false},
		{"type glob", Criteria{TypeGlob: "fail*"}, failed, true},
		{"type glob mismatch", Criteria{TypeGlob: "fail*"}, progress, false},
		{"both", Criteria{BatchID: "b", TypeGlob: "failed"}, failed, true},
		{"bad glob never matches", Criteria{TypeGlob: "["}, failed, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.criteria.Matches(tt.event))
		})
	}
}

func TestCriteriaValidate(t *testing.T) {
	assert.NoError(t, Criteria{}.Validate())
	assert.NoError(t, Criteria{TypeGlob: "*ed"}.Validate())
	assert.Error(t, Criteria{TypeGlob: "["}.Validate())
}

func TestHasFilters(t *testing.T) {
	assert.False(t, Criteria{}.HasFilters())
	assert.True(t, Criteria{TypeGlob: "*"}.HasFilters())
	assert.True(t, Criteria{BatchID: "x"}.HasFilters())
}
