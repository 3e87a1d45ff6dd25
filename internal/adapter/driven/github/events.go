package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strconv"

	gh "github.com/google/go-github/v82/github"
	"github.com/rs/zerolog/log"

	"github.com/ericfisherdev/gitwatch/internal/domain/model"
	"github.com/ericfisherdev/gitwatch/internal/domain/port/driven"
)

var _ driven.EventSource = (*EventFetcher)(nil)

const (
	eventsPerPage = 100
	// maxEventPages is the depth GitHub serves for the repository events
	// timeline.
	maxEventPages = 3
)

// Requester executes one API call. *Executor satisfies it.
type Requester interface {
	Execute(ctx context.Context, target string, opts RequestOptions, preview bool) (*http.Response, error)
}

// EventFetcher reads a repository's event timeline through the executor.
type EventFetcher struct {
	exec Requester
}

// NewEventFetcher creates a fetcher that issues requests through exec.
func NewEventFetcher(exec Requester) *EventFetcher {
	return &EventFetcher{exec: exec}
}

// FetchEventsSince returns the repository's events with an ID greater than
// afterID, oldest first. GitHub lists newest first, so paging stops at the
// first already-seen event.
func (f *EventFetcher) FetchEventsSince(ctx context.Context, repoFullName string, afterID int64) ([]model.RepoEvent, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return nil, err
	}

	var newest []model.RepoEvent

pages:
	for page := 1; page <= maxEventPages; page++ {
		target := fmt.Sprintf("repos/%s/%s/events?per_page=%d&page=%d", owner, repo, eventsPerPage, page)

		events, notModified, err := f.fetchPage(ctx, target)
		if err != nil {
			return nil, fmt.Errorf("listing events for %s (page %d): %w", repoFullName, page, err)
		}
		if notModified {
			break
		}

		for _, ev := range events {
			mapped, err := mapEvent(ev)
			if err != nil {
				log.Warn().Err(err).Str("repo", repoFullName).Msg("skipping malformed event")
				continue
			}
			if mapped.ID <= afterID {
				break pages
			}
			newest = append(newest, mapped)
		}

		if len(events) < eventsPerPage {
			break
		}
	}

	slices.Reverse(newest)

	log.Debug().
		Str("repo", repoFullName).
		Int64("after_id", afterID).
		Int("count", len(newest)).
		Msg("fetched repository events")

	if newest == nil {
		newest = []model.RepoEvent{}
	}
	return newest, nil
}

func (f *EventFetcher) fetchPage(ctx context.Context, target string) ([]*gh.Event, bool, error) {
	resp, err := f.exec.Execute(ctx, target, RequestOptions{}, false)
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotModified {
		return nil, true, nil
	}

	var events []*gh.Event
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		return nil, false, fmt.Errorf("decoding events: %w", err)
	}
	return events, false, nil
}

// mapEvent converts a go-github Event to a domain RepoEvent.
// It uses GetXxx() helper methods exclusively to avoid nil pointer panics.
func mapEvent(ev *gh.Event) (model.RepoEvent, error) {
	id, err := strconv.ParseInt(ev.GetID(), 10, 64)
	if err != nil {
		return model.RepoEvent{}, fmt.Errorf("parsing event id %q: %w", ev.GetID(), err)
	}

	var payload json.RawMessage
	if ev.RawPayload != nil {
		payload = *ev.RawPayload
	}

	return model.RepoEvent{
		ID:        id,
		Type:      ev.GetType(),
		Actor:     ev.GetActor().GetLogin(),
		Repo:      ev.GetRepo().GetName(),
		CreatedAt: ev.GetCreatedAt().Time,
		Payload:   payload,
	}, nil
}
