package timespec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	ms, err := Parse("2026-03-01T10:00:00Z", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-2*time.Hour).UnixMilli(), ms)

	ms, err = Parse("30m", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-30*time.Minute).UnixMilli(), ms)

	_, err = Parse("", now)
	assert.Error(t, err)
	_, err = Parse("yesterday", now)
	assert.ErrorContains(t, err, "invalid time specification")
}

func TestParseRange(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	r, err := ParseRange("", "", now)
	require.NoError(t, err)
	assert.True(t, r.Contains(0))
	assert.True(t, r.Contains(now.UnixMilli()))

	r, err = ParseRange("2h", "1h", now)
	require.NoError(t, err)
	assert.True(t, r.Contains(now.Add(-90*time.Minute).UnixMilli()))
	assert.False(t, r.Contains(now.Add(-3*time.Hour).UnixMilli()))
	assert.False(t, r.Contains(now.UnixMilli()))

	_, err = ParseRange("1h", "2h", now)
	assert.ErrorContains(t, err, "--since must be before --until")

	_, err = ParseRange("bogus", "", now)
	assert.ErrorContains(t, err, "invalid --since")
	_, err = ParseRange("", "bogus", now)
	assert.ErrorContains(t, err, "invalid --until")
}
