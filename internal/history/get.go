package history

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/dyluth/flock/pkg/blackboard"
)

// Show writes one batch as indented JSON, operations included.
func Show(ctx context.Context, store Store, batchID string, w io.Writer) error {
	if _, err := uuid.Parse(batchID); err != nil {
		return fmt.Errorf("invalid batch ID format: must be a valid UUID")
	}

	b, err := store.GetBatch(ctx, batchID)
	if err != nil {
		if blackboard.IsNotFound(err) {
			return &NotFoundError{BatchID: batchID}
		}
		return fmt.Errorf("failed to fetch batch: %w", err)
	}
	return FormatSingleJSON(w, b)
}

// NotFoundError means the batch never existed or has expired.
type NotFoundError struct {
	BatchID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("batch with ID '%s' not found", e.BatchID)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	_, ok := err.(*NotFoundError)
	return ok
}
