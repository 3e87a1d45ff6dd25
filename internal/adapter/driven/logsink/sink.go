// Package logsink implements the EventSink port by writing each delivered
// event as one structured log line.
package logsink

import (
	"context"
	"io"

	"github.com/rs/zerolog"

	"github.com/ericfisherdev/gitwatch/internal/domain/model"
	"github.com/ericfisherdev/gitwatch/internal/domain/port/driven"
)

var _ driven.EventSink = (*Sink)(nil)

// Sink writes events as JSON lines, one per event.
type Sink struct {
	logger       zerolog.Logger
	withPayloads bool
}

// New creates a sink writing to w. Payloads are included only when
// withPayloads is set, since they can be large.
func New(w io.Writer, withPayloads bool) *Sink {
	return &Sink{
		logger:       zerolog.New(w).With().Timestamp().Str("component", "event_sink").Logger(),
		withPayloads: withPayloads,
	}
}

// Deliver writes ev. It fails only when ctx is already done.
func (s *Sink) Deliver(ctx context.Context, ev model.RepoEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	entry := s.logger.Log().
		Int64("event_id", ev.ID).
		Str("type", ev.Type).
		Str("actor", ev.Actor).
		Str("repo", ev.Repo).
		Time("created_at", ev.CreatedAt)
	if s.withPayloads && len(ev.Payload) > 0 {
		entry = entry.RawJSON("payload", ev.Payload)
	}
	entry.Msg("repository event")
	return nil
}
