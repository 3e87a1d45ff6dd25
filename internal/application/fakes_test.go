package application_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ericfisherdev/gitwatch/internal/domain/model"
	"github.com/ericfisherdev/gitwatch/internal/domain/port/driven"
)

// --- Fake clock ---

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// --- In-memory CredentialStore ---

type memCredentialStore struct {
	mu    sync.Mutex
	creds []model.Credential
}

var _ driven.CredentialStore = (*memCredentialStore)(nil)

func (m *memCredentialStore) Add(_ context.Context, cred model.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.creds {
		if c.Secret == cred.Secret {
			return driven.ErrCredentialExists
		}
	}
	cred.ID = int64(len(m.creds) + 1)
	cred.IsActive = true
	m.creds = append(m.creds, cred)
	return nil
}

func (m *memCredentialStore) ListActive(_ context.Context) ([]model.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Credential
	for _, c := range m.creds {
		if c.IsActive {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memCredentialStore) List(_ context.Context) ([]model.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Credential(nil), m.creds...), nil
}

func (m *memCredentialStore) Get(_ context.Context, secret string) (*model.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.creds {
		if c.Secret == secret {
			found := c
			return &found, nil
		}
	}
	return nil, nil
}

func (m *memCredentialStore) RecordUsage(_ context.Context, secret string, remaining int, resetAt, usedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.creds {
		if m.creds[i].Secret == secret {
			m.creds[i].UsageCount++
			m.creds[i].LastUsedAt = usedAt
			m.creds[i].RateLimitRemaining = remaining
			m.creds[i].RateLimitResetAt = resetAt
		}
	}
	return nil
}

func (m *memCredentialStore) Deactivate(_ context.Context, secret string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.creds {
		if m.creds[i].Secret == secret {
			m.creds[i].IsActive = false
		}
	}
	return nil
}

// put inserts a credential with explicit rate-limit state, bypassing Add.
func (m *memCredentialStore) put(secret string, remaining int, resetAt time.Time, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds = append(m.creds, model.Credential{
		ID:                 int64(len(m.creds) + 1),
		Secret:             secret,
		RateLimitRemaining: remaining,
		RateLimitResetAt:   resetAt,
		IsActive:           active,
	})
}

// --- In-memory CheckpointStore ---

type memCheckpointStore struct {
	mu     sync.Mutex
	ids    map[string]int64
	sets   []int64
	setErr error
}

func newMemCheckpointStore() *memCheckpointStore {
	return &memCheckpointStore{ids: make(map[string]int64)}
}

func (m *memCheckpointStore) Get(_ context.Context, stream string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ids[stream], nil
}

func (m *memCheckpointStore) Set(_ context.Context, stream string, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	m.sets = append(m.sets, id)
	if id > m.ids[stream] {
		m.ids[stream] = id
	}
	return nil
}

// --- Event source and sink ---

type fakeEventSource struct {
	events []model.RepoEvent
	err    error
	after  []int64
}

func (f *fakeEventSource) FetchEventsSince(_ context.Context, _ string, afterID int64) ([]model.RepoEvent, error) {
	f.after = append(f.after, afterID)
	if f.err != nil {
		return nil, f.err
	}
	var out []model.RepoEvent
	for _, ev := range f.events {
		if ev.ID > afterID {
			out = append(out, ev)
		}
	}
	return out, nil
}

type recordingSink struct {
	delivered []int64
	failOn    int64
}

var errSinkDown = errors.New("sink unavailable")

func (s *recordingSink) Deliver(_ context.Context, ev model.RepoEvent) error {
	if s.failOn != 0 && ev.ID == s.failOn {
		return errSinkDown
	}
	s.delivered = append(s.delivered, ev.ID)
	return nil
}

// --- Delivery probe ---

type stubProbe struct {
	installed bool
	err       error
}

func (p stubProbe) WebhookInstalled(_ context.Context) (bool, error) {
	return p.installed, p.err
}
