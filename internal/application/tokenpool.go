package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ericfisherdev/gitwatch/internal/domain/model"
	"github.com/ericfisherdev/gitwatch/internal/domain/port/driven"
)

// TokenPool hands out the best available credential for the next request and
// keeps the per-credential rate-limit bookkeeping current.
//
// Acquire and RecordUsage are single round trips to the CredentialStore and
// take no in-process lock: two concurrent requests may occasionally draw the
// same credential, and the upstream rate limit remains the backstop. A local
// mutex would not hold across several gitwatch instances sharing one store.
type TokenPool struct {
	store driven.CredentialStore
	now   func() time.Time
}

// NewTokenPool creates a TokenPool backed by store. now may be nil, in which
// case time.Now is used.
func NewTokenPool(store driven.CredentialStore, now func() time.Time) *TokenPool {
	if now == nil {
		now = time.Now
	}
	return &TokenPool{store: store, now: now}
}

// Acquire returns the usable credential with the most remaining quota, or
// nil if every active credential is exhausted and its window has not reset.
func (p *TokenPool) Acquire(ctx context.Context) (*model.Credential, error) {
	creds, err := p.store.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire credential: %w", err)
	}

	best := selectCredential(creds, p.now())
	if best == nil {
		log.Debug().Int("active", len(creds)).Msg("no usable credential in pool")
	}
	return best, nil
}

// selectCredential picks the usable credential with the highest remaining
// quota. Ties keep the earlier credential in store order.
func selectCredential(creds []model.Credential, now time.Time) *model.Credential {
	var best *model.Credential
	for i := range creds {
		c := &creds[i]
		if !c.Usable(now) {
			continue
		}
		if best == nil || c.RateLimitRemaining > best.RateLimitRemaining {
			best = c
		}
	}
	if best == nil {
		return nil
	}
	picked := *best
	return &picked
}

// RecordUsage stores the rate-limit window reported with a response.
func (p *TokenPool) RecordUsage(ctx context.Context, secret string, remaining int, resetAt time.Time) error {
	if err := p.store.RecordUsage(ctx, secret, remaining, resetAt, p.now()); err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// Deactivate permanently retires a credential the upstream rejected.
// Calling it again for the same secret is a no-op.
func (p *TokenPool) Deactivate(ctx context.Context, secret string) error {
	if err := p.store.Deactivate(ctx, secret); err != nil {
		return fmt.Errorf("deactivate credential %s: %w", model.Fingerprint(secret)[:12], err)
	}
	log.Warn().Str("credential", model.Fingerprint(secret)[:12]).Msg("credential deactivated")
	return nil
}

// Add registers a credential with the default quota. A duplicate secret is
// logged and otherwise ignored.
func (p *TokenPool) Add(ctx context.Context, secret string) error {
	cred := model.Credential{
		Secret:             secret,
		RateLimitRemaining: model.DefaultRateLimit,
		RateLimitResetAt:   time.Unix(0, 0).UTC(),
		IsActive:           true,
		CreatedAt:          p.now(),
	}

	err := p.store.Add(ctx, cred)
	if errors.Is(err, driven.ErrCredentialExists) {
		log.Info().Str("credential", cred.Label()).Msg("credential already registered")
		return nil
	}
	if err != nil {
		return err
	}

	log.Info().Str("credential", cred.Label()).Msg("credential registered")
	return nil
}

// Provision registers the startup credential list in order. Empty entries are
// skipped; the first store failure aborts.
func (p *TokenPool) Provision(ctx context.Context, secrets []string) error {
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		if err := p.Add(ctx, secret); err != nil {
			return fmt.Errorf("provision credentials: %w", err)
		}
	}
	return nil
}

// Stats returns every credential in the pool, including deactivated ones.
func (p *TokenPool) Stats(ctx context.Context) ([]model.Credential, error) {
	creds, err := p.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	return creds, nil
}
