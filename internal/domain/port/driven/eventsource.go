package driven

import (
	"context"

	"github.com/ericfisherdev/gitwatch/internal/domain/model"
)

// EventSource fetches repository activity from the upstream API.
type EventSource interface {
	// FetchEventsSince returns events with an ID greater than afterID,
	// ordered oldest first.
	FetchEventsSince(ctx context.Context, repoFullName string, afterID int64) ([]model.RepoEvent, error)
}

// EventSink receives each new event exactly once, in order. Formatting and
// chat delivery live behind this port.
type EventSink interface {
	Deliver(ctx context.Context, event model.RepoEvent) error
}

// DeliveryProbe reports whether push-based delivery is configured for the
// watched repository. It is consulted once at startup.
type DeliveryProbe interface {
	WebhookInstalled(ctx context.Context) (bool, error)
}
