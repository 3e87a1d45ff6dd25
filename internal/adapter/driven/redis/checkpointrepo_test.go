package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestRepo creates a CheckpointRepo backed by miniredis for testing.
func newTestRepo(t *testing.T) (*CheckpointRepo, *miniredis.Miniredis) {
	t.Helper()

	mini := miniredis.RunT(t)

	client := goredis.NewClient(&goredis.Options{Addr: mini.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewCheckpointRepo(client, "gitwatch-test:"), mini
}

func TestCheckpointRepo_GetDefault(t *testing.T) {
	repo, _ := newTestRepo(t)

	id, err := repo.Get(context.Background(), "owner/repo")
	require.NoError(t, err)
	assert.Equal(t, int64(0), id)
}

func TestCheckpointRepo_SetStoresUnderPrefixedKey(t *testing.T) {
	repo, mini := newTestRepo(t)

	require.NoError(t, repo.Set(context.Background(), "owner/repo", 42))

	mini.CheckGet(t, "gitwatch-test:checkpoint:owner/repo", "42")
}

func TestCheckpointRepo_NeverMovesBackwards(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Set(ctx, "owner/repo", 10))
	require.NoError(t, repo.Set(ctx, "owner/repo", 4))
	require.NoError(t, repo.Set(ctx, "owner/repo", 10))

	id, err := repo.Get(ctx, "owner/repo")
	require.NoError(t, err)
	assert.Equal(t, int64(10), id)

	require.NoError(t, repo.Set(ctx, "owner/repo", 11))

	id, err = repo.Get(ctx, "owner/repo")
	require.NoError(t, err)
	assert.Equal(t, int64(11), id)
}

func TestCheckpointRepo_NonDecreasingOverSequence(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	var highest int64
	for _, id := range []int64{3, 1, 7, 7, 2, 15, 9, 16, 0} {
		require.NoError(t, repo.Set(ctx, "owner/repo", id))
		highest = max(highest, id)

		got, err := repo.Get(ctx, "owner/repo")
		require.NoError(t, err)
		assert.Equal(t, highest, got, "after Set(%d)", id)
	}
}

func TestCheckpointRepo_StreamsAreIndependent(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Set(ctx, "owner/a", 100))
	require.NoError(t, repo.Set(ctx, "owner/b", 5))

	a, err := repo.Get(ctx, "owner/a")
	require.NoError(t, err)
	b, err := repo.Get(ctx, "owner/b")
	require.NoError(t, err)

	assert.Equal(t, int64(100), a)
	assert.Equal(t, int64(5), b)
}

func TestCheckpointRepo_CorruptValue(t *testing.T) {
	repo, mini := newTestRepo(t)
	require.NoError(t, mini.Set("gitwatch-test:checkpoint:owner/repo", "not-a-number"))

	_, err := repo.Get(context.Background(), "owner/repo")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "get checkpoint owner/repo")
}

func TestCheckpointRepo_ServerUnavailable(t *testing.T) {
	repo, mini := newTestRepo(t)
	mini.Close()

	err := repo.Set(context.Background(), "owner/repo", 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "set checkpoint owner/repo to 1")
}
