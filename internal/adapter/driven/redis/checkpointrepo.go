// Package redis implements the CheckpointStore port on Redis so that several
// gitwatch instances can share one cursor.
package redis

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ericfisherdev/gitwatch/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CheckpointStore = (*CheckpointRepo)(nil)

// advanceScript sets the key only when the new id is greater than the stored one.
var advanceScript = goredis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local candidate = tonumber(ARGV[1])
if candidate > current then
	redis.call('SET', KEYS[1], ARGV[1])
	return 1
end
return 0
`)

// CheckpointRepo stores one integer key per stream.
type CheckpointRepo struct {
	client goredis.UniversalClient
	prefix string
}

// NewCheckpointRepo creates a CheckpointRepo. Keys are namespaced as
// "<prefix>checkpoint:<stream>".
func NewCheckpointRepo(client goredis.UniversalClient, prefix string) *CheckpointRepo {
	return &CheckpointRepo{client: client, prefix: prefix}
}

func (r *CheckpointRepo) key(stream string) string {
	return r.prefix + "checkpoint:" + stream
}

// Get returns the stored cursor, or 0 when the key does not exist.
func (r *CheckpointRepo) Get(ctx context.Context, stream string) (int64, error) {
	id, err := r.client.Get(ctx, r.key(stream)).Int64()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get checkpoint %s: %w", stream, err)
	}
	return id, nil
}

// Set advances the cursor atomically on the server.
func (r *CheckpointRepo) Set(ctx context.Context, stream string, id int64) error {
	if err := advanceScript.Run(ctx, r.client, []string{r.key(stream)}, id).Err(); err != nil {
		return fmt.Errorf("set checkpoint %s to %d: %w", stream, id, err)
	}
	return nil
}
