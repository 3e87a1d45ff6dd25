// Package application contains use-case orchestration services.
package application

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ericfisherdev/gitwatch/internal/domain/model"
	"github.com/ericfisherdev/gitwatch/internal/domain/port/driven"
)

// EventSync moves new repository events from the upstream to the sink,
// using the checkpoint to skip everything already delivered. Its Sync method
// is the poll function driven by the DeliveryGate.
type EventSync struct {
	source      driven.EventSource
	checkpoints driven.CheckpointStore
	sink        driven.EventSink
	repo        string
}

// NewEventSync creates an EventSync for a single repository stream.
func NewEventSync(source driven.EventSource, checkpoints driven.CheckpointStore, sink driven.EventSink, repoFullName string) *EventSync {
	return &EventSync{
		source:      source,
		checkpoints: checkpoints,
		sink:        sink,
		repo:        repoFullName,
	}
}

// Sync delivers every event newer than the checkpoint, oldest first, and
// advances the checkpoint after each one. It stops at the first failure so the
// next pass resumes from the last delivered event.
func (s *EventSync) Sync(ctx context.Context) (int, error) {
	start := time.Now()

	last, err := s.checkpoints.Get(ctx, s.repo)
	if err != nil {
		return 0, fmt.Errorf("read checkpoint: %w", err)
	}

	events, err := s.source.FetchEventsSince(ctx, s.repo, last)
	if err != nil {
		return 0, fmt.Errorf("fetch events for %s: %w", s.repo, err)
	}

	slices.SortFunc(events, func(a, b model.RepoEvent) int {
		return cmp.Compare(a.ID, b.ID)
	})

	var delivered, skipped int
	for _, ev := range events {
		if ctx.Err() != nil {
			return delivered, ctx.Err()
		}
		if ev.ID <= last {
			skipped++
			continue
		}

		if err := s.sink.Deliver(ctx, ev); err != nil {
			return delivered, fmt.Errorf("deliver event %d (%s): %w", ev.ID, ev.Type, err)
		}
		if err := s.checkpoints.Set(ctx, s.repo, ev.ID); err != nil {
			return delivered, fmt.Errorf("advance checkpoint to %d: %w", ev.ID, err)
		}

		last = ev.ID
		delivered++
	}

	log.Info().
		Str("repo", s.repo).
		Int("fetched", len(events)).
		Int("delivered", delivered).
		Int("skipped", skipped).
		Int64("checkpoint", last).
		Dur("duration", time.Since(start).Round(time.Millisecond)).
		Msg("event sync complete")

	return delivered, nil
}
