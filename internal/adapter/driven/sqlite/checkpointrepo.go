package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ericfisherdev/gitwatch/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CheckpointStore = (*CheckpointRepo)(nil)

// CheckpointRepo is the SQLite implementation of the CheckpointStore port interface.
type CheckpointRepo struct {
	db *DB
}

// NewCheckpointRepo creates a new CheckpointRepo backed by the given DB.
func NewCheckpointRepo(db *DB) *CheckpointRepo {
	return &CheckpointRepo{db: db}
}

// Get returns the last processed id for the stream, or 0 if none was stored.
func (r *CheckpointRepo) Get(ctx context.Context, stream string) (int64, error) {
	const query = `SELECT last_processed_id FROM checkpoints WHERE stream = ?`

	var id int64
	err := r.db.Reader.QueryRowContext(ctx, query, stream).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get checkpoint %s: %w", stream, err)
	}
	return id, nil
}

// Set upserts the cursor. The conflict clause only applies forward moves, so
// a stale writer can never rewind the stream.
func (r *CheckpointRepo) Set(ctx context.Context, stream string, id int64) error {
	const query = `INSERT INTO checkpoints (stream, last_processed_id, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(stream) DO UPDATE SET
			last_processed_id = excluded.last_processed_id,
			updated_at = excluded.updated_at
		WHERE excluded.last_processed_id > checkpoints.last_processed_id`

	_, err := r.db.Writer.ExecContext(ctx, query, stream, id, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("set checkpoint %s to %d: %w", stream, id, err)
	}
	return nil
}
