// Package resolver expands short batch ID prefixes to full batch IDs.
package resolver

import (
	"context"
	"fmt"
	"strings"

	"github.com/dyluth/flock/pkg/blackboard"
)

// MinShortIDLength is the shortest prefix accepted.
const MinShortIDLength = 6

// BatchStore is the part of the blackboard the resolver reads.
type BatchStore interface {
	GetBatch(ctx context.Context, batchID string) (*blackboard.Batch, error)
	ScanBatches(ctx context.Context, prefix string) ([]string, error)
}

// ResolveBatchID returns the full batch ID for id, which may be a full UUID
// or a unique prefix of at least MinShortIDLength characters.
func ResolveBatchID(ctx context.Context, store BatchStore, id string) (string, error) {
	if len(id) == 36 && strings.Count(id, "-") == 4 {
		if _, err := store.GetBatch(ctx, id); err != nil {
			if blackboard.IsNotFound(err) {
				return "", &NotFoundError{ShortID: id}
			}
			return "", fmt.Errorf("failed to verify batch existence: %w", err)
		}
		return id, nil
	}

	if len(id) < MinShortIDLength {
		return "", fmt.Errorf("short ID must be at least %d characters (got %d)", MinShortIDLength, len(id))
	}

	matches, err := store.ScanBatches(ctx, id)
	if err != nil {
		return "", fmt.Errorf("failed to search for batch: %w", err)
	}

	switch len(matches) {
	case 0:
		return "", &NotFoundError{ShortID: id}
	case 1:
		return matches[0], nil
	default:
		return "", &AmbiguousError{ShortID: id, Matches: matches}
	}
}

// NotFoundError means no batch matched.
type NotFoundError struct {
	ShortID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no batches found matching '%s'", e.ShortID)
}

// AmbiguousError means several batches share the prefix.
type AmbiguousError struct {
	ShortID string
	Matches []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("ambiguous short ID '%s' matches %d batches", e.ShortID, len(e.Matches))
}

// Suggestions lists up to five candidates for an ambiguous prefix.
func (e *AmbiguousError) Suggestions() []string {
	out := make([]string, 0, 6)
	for i, id := range e.Matches {
		if i == 5 {
			out = append(out, fmt.Sprintf("...and %d more", len(e.Matches)-5))
			break
		}
		out = append(out, id)
	}
	return out
}
