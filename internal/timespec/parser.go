// Package timespec parses the --since and --until bounds used to filter
// batch history.
package timespec

import (
	"fmt"
	"time"
)

// Range is a time window in Unix milliseconds. A zero bound is open.
type Range struct {
	SinceMs int64
	UntilMs int64
}

// Contains reports whether ms falls inside the window.
func (r Range) Contains(ms int64) bool {
	if r.SinceMs > 0 && ms < r.SinceMs {
		return false
	}
	if r.UntilMs > 0 && ms > r.UntilMs {
		return false
	}
	return true
}

// Parse turns spec into Unix milliseconds. spec is either an RFC3339
// timestamp or a Go duration counted back from now ("90m" is 90 minutes ago).
func Parse(spec string, now time.Time) (int64, error) {
	if spec == "" {
		return 0, fmt.Errorf("empty time specification")
	}
	if t, err := time.Parse(time.RFC3339, spec); err == nil {
		return t.UnixMilli(), nil
	}
	if d, err := time.ParseDuration(spec); err == nil {
		return now.Add(-d).UnixMilli(), nil
	}
	return 0, fmt.Errorf("invalid time specification: %s (use a duration like '2h' or RFC3339 like '2026-01-02T15:04:05Z')", spec)
}

// ParseRange parses optional --since and --until values.
func ParseRange(since, until string, now time.Time) (Range, error) {
	var r Range
	var err error
	if since != "" {
		if r.SinceMs, err = Parse(since, now); err != nil {
			return Range{}, fmt.Errorf("invalid --since: %w", err)
		}
	}
	if until != "" {
		if r.UntilMs, err = Parse(until, now); err != nil {
			return Range{}, fmt.Errorf("invalid --until: %w", err)
		}
	}
	if r.SinceMs > 0 && r.UntilMs > 0 && r.SinceMs >= r.UntilMs {
		return Range{}, fmt.Errorf("--since must be before --until")
	}
	return r, nil
}
