package driven

import "context"

// CheckpointStore defines the driven port for the per-stream processing cursor.
type CheckpointStore interface {
	// Get returns the last processed id for the stream, or 0 if none was committed.
	Get(ctx context.Context, stream string) (int64, error)

	// Set advances the cursor. An id lower than or equal to the stored one is
	// ignored, so the cursor never moves backwards.
	Set(ctx context.Context, stream string, id int64) error
}
