package application_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/gitwatch/internal/application"
	"github.com/ericfisherdev/gitwatch/internal/domain/model"
)

func events(ids ...int64) []model.RepoEvent {
	out := make([]model.RepoEvent, 0, len(ids))
	for _, id := range ids {
		out = append(out, model.RepoEvent{ID: id, Type: "PushEvent"})
	}
	return out
}

func TestEventSync_DeliversOldestFirstAndAdvancesCheckpoint(t *testing.T) {
	source := &fakeEventSource{events: events(30, 10, 20)}
	checkpoints := newMemCheckpointStore()
	sink := &recordingSink{}

	svc := application.NewEventSync(source, checkpoints, sink, "org/repo")

	n, err := svc.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []int64{10, 20, 30}, sink.delivered)
	assert.Equal(t, []int64{10, 20, 30}, checkpoints.sets)

	last, err := checkpoints.Get(context.Background(), "org/repo")
	require.NoError(t, err)
	assert.Equal(t, int64(30), last)
}

func TestEventSync_SkipsAlreadyProcessed(t *testing.T) {
	source := &fakeEventSource{events: events(10, 20, 30)}
	checkpoints := newMemCheckpointStore()
	sink := &recordingSink{}
	ctx := context.Background()

	svc := application.NewEventSync(source, checkpoints, sink, "org/repo")

	_, err := svc.Sync(ctx)
	require.NoError(t, err)

	source.events = append(source.events, events(40)...)
	n, err := svc.Sync(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, n)
	assert.Equal(t, []int64{10, 20, 30, 40}, sink.delivered)
	assert.Equal(t, []int64{0, 30}, source.after, "second pass starts from the checkpoint")
}

func TestEventSync_IgnoresStaleEventsFromSource(t *testing.T) {
	checkpoints := newMemCheckpointStore()
	require.NoError(t, checkpoints.Set(context.Background(), "org/repo", 25))
	checkpoints.sets = nil

	// A source that ignores afterID must still not cause reprocessing.
	source := &staleSource{events: events(10, 20, 30)}
	sink := &recordingSink{}

	svc := application.NewEventSync(source, checkpoints, sink, "org/repo")

	n, err := svc.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []int64{30}, sink.delivered)
}

type staleSource struct {
	events []model.RepoEvent
}

func (s *staleSource) FetchEventsSince(_ context.Context, _ string, _ int64) ([]model.RepoEvent, error) {
	return s.events, nil
}

func TestEventSync_StopsAtFirstSinkFailure(t *testing.T) {
	source := &fakeEventSource{events: events(1, 2, 3)}
	checkpoints := newMemCheckpointStore()
	sink := &recordingSink{failOn: 2}

	svc := application.NewEventSync(source, checkpoints, sink, "org/repo")

	n, err := svc.Sync(context.Background())
	require.ErrorIs(t, err, errSinkDown)
	assert.Equal(t, 1, n)

	last, err := checkpoints.Get(context.Background(), "org/repo")
	require.NoError(t, err)
	assert.Equal(t, int64(1), last, "checkpoint stays at the last delivered event")

	sink.failOn = 0
	n, err = svc.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []int64{1, 2, 3}, sink.delivered)
}

func TestEventSync_FetchError(t *testing.T) {
	fetchErr := errors.New("upstream down")
	source := &fakeEventSource{err: fetchErr}
	checkpoints := newMemCheckpointStore()

	svc := application.NewEventSync(source, checkpoints, &recordingSink{}, "org/repo")

	n, err := svc.Sync(context.Background())
	require.ErrorIs(t, err, fetchErr)
	assert.Equal(t, 0, n)
	assert.Empty(t, checkpoints.sets)
}

func TestEventSync_CheckpointWriteError(t *testing.T) {
	writeErr := errors.New("disk full")
	source := &fakeEventSource{events: events(5)}
	checkpoints := newMemCheckpointStore()
	checkpoints.setErr = writeErr

	svc := application.NewEventSync(source, checkpoints, &recordingSink{}, "org/repo")

	_, err := svc.Sync(context.Background())
	assert.ErrorIs(t, err, writeErr)
}
