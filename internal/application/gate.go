package application

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ericfisherdev/gitwatch/internal/domain/model"
	"github.com/ericfisherdev/gitwatch/internal/domain/port/driven"
)

// Sentinel errors returned by DeliveryGate.
var (
	// ErrGateAlreadyInitialized is returned by a second call to Init.
	ErrGateAlreadyInitialized = errors.New("delivery gate already initialized")

	// ErrGateNotInitialized is returned by TriggerPoll before Init.
	ErrGateNotInitialized = errors.New("delivery gate not initialized")

	// ErrPollInFlight is returned by TriggerPoll when a poll is already
	// running. The running poll is asked to go around once more.
	ErrPollInFlight = errors.New("poll already in flight")
)

// PollFunc fetches and processes everything new since the checkpoint and
// returns how many items it processed.
type PollFunc func(ctx context.Context) (int, error)

// GateConfig holds the operational tuning of the delivery gate.
type GateConfig struct {
	// PollInterval is the tick period of the gate's timer.
	PollInterval time.Duration
	// TemporaryPollingWindow is how long temporary polling lasts after the
	// webhook path failed. It should span at least one missed delivery cycle.
	TemporaryPollingWindow time.Duration
	// WebhookStaleAfter bounds how long the webhook path may stay silent.
	// In webhook mode a reconciliation poll runs once neither a webhook nor a
	// poll succeeded within it, and temporary polling only hands back to
	// webhooks if one arrived within it. Zero disables both checks.
	WebhookStaleAfter time.Duration
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// DeliveryGate decides whether new events are obtained by polling or by
// waiting for webhooks, and falls back to temporary polling when either path
// reports a failure.
//
// Transition methods only update in-memory state under a short lock and never
// fail, so they are safe to call from any goroutine in any interleaving.
type DeliveryGate struct {
	probe driven.DeliveryProbe
	cfg   GateConfig
	now   func() time.Time

	mu                   sync.Mutex
	initialized          bool
	pollFn               PollFunc
	mode                 model.DeliveryMode
	expiresAt            time.Time
	lastWebhookAt        time.Time
	lastSuccessfulPollAt time.Time
	startedAt            time.Time
	cancel               context.CancelFunc
	done                 chan struct{}

	inFlight atomic.Bool
	rerun    atomic.Bool
}

// NewDeliveryGate creates a gate. It does nothing until Init is called.
func NewDeliveryGate(probe driven.DeliveryProbe, cfg GateConfig) *DeliveryGate {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Minute
	}
	if cfg.TemporaryPollingWindow <= 0 {
		cfg.TemporaryPollingWindow = 10 * time.Minute
	}
	return &DeliveryGate{probe: probe, cfg: cfg, now: now}
}

// Init binds the poll function, runs the capability probe once to pick the
// initial mode, and starts the timer. The timer stops when ctx is canceled or
// Stop is called. Init may only be called once.
func (g *DeliveryGate) Init(ctx context.Context, pollFn PollFunc) error {
	g.mu.Lock()
	if g.initialized {
		g.mu.Unlock()
		return ErrGateAlreadyInitialized
	}
	g.initialized = true
	g.pollFn = pollFn
	g.mu.Unlock()

	installed, err := g.probe.WebhookInstalled(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("delivery capability probe failed, falling back to polling")
		installed = false
	}

	mode := model.DeliveryPollingPrimary
	if installed {
		mode = model.DeliveryWebhookPrimary
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	g.mu.Lock()
	g.mode = mode
	g.startedAt = g.now()
	g.cancel = cancel
	g.done = done
	g.mu.Unlock()

	log.Info().
		Str("mode", string(mode)).
		Dur("poll_interval", g.cfg.PollInterval).
		Dur("temporary_window", g.cfg.TemporaryPollingWindow).
		Msg("delivery gate initialized")

	go g.run(loopCtx, done)
	return nil
}

// run drives Tick on the configured interval. Ticks that fire while a poll
// is still running are dropped by the ticker.
func (g *DeliveryGate) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(g.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("delivery gate stopped")
			return
		case <-ticker.C:
			g.Tick(ctx)
		}
	}
}

// Stop cancels the timer and waits for the loop to exit. A poll that is in
// flight finishes on its own.
func (g *DeliveryGate) Stop() {
	g.mu.Lock()
	cancel, done := g.cancel, g.done
	g.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// WebhookReceived records a verified webhook delivery. Temporary polling ends
// immediately since the push path has just proven healthy.
func (g *DeliveryGate) WebhookReceived() {
	g.mu.Lock()
	now := g.now()
	g.lastWebhookAt = now
	restored := g.mode == model.DeliveryTemporaryPolling
	if restored {
		g.mode = model.DeliveryWebhookPrimary
		g.expiresAt = time.Time{}
	}
	g.mu.Unlock()

	if restored {
		log.Info().Msg("webhook received, leaving temporary polling")
	}
}

// EnableTemporaryPolling switches from webhook delivery to time-bounded
// polling, or pushes the expiry of an active window further out. It is a
// no-op in polling-primary mode.
func (g *DeliveryGate) EnableTemporaryPolling() {
	g.mu.Lock()
	now := g.now()
	prev := g.mode
	switch g.mode {
	case model.DeliveryWebhookPrimary:
		g.mode = model.DeliveryTemporaryPolling
		g.expiresAt = now.Add(g.cfg.TemporaryPollingWindow)
	case model.DeliveryTemporaryPolling:
		if next := now.Add(g.cfg.TemporaryPollingWindow); next.After(g.expiresAt) {
			g.expiresAt = next
		}
	case model.DeliveryPollingPrimary:
	}
	expiresAt := g.expiresAt
	g.mu.Unlock()

	switch prev {
	case model.DeliveryWebhookPrimary:
		log.Warn().Time("expires_at", expiresAt).Msg("temporary polling enabled")
	case model.DeliveryTemporaryPolling:
		log.Debug().Time("expires_at", expiresAt).Msg("temporary polling extended")
	}
}

// HandleTransientError is the notification target for failed upstream calls.
func (g *DeliveryGate) HandleTransientError(err error) {
	log.Warn().Err(err).Msg("transient delivery failure reported")
	g.EnableTemporaryPolling()
}

// HandleProcessingError is the notification target for failures while
// processing a webhook-triggered update.
func (g *DeliveryGate) HandleProcessingError(err error) {
	log.Warn().Err(err).Msg("processing failure reported")
	g.EnableTemporaryPolling()
}

// Tick runs one timer step: it polls when the current mode calls for it and
// no other poll is in flight.
func (g *DeliveryGate) Tick(ctx context.Context) {
	if !g.shouldPoll() {
		return
	}
	if _, err := g.runPoll(ctx, false); errors.Is(err, ErrPollInFlight) {
		log.Debug().Msg("tick skipped, poll already in flight")
	}
}

// TriggerPoll runs the poll function now, regardless of mode. If a poll is
// already running, that poll goes around once more after it finishes and
// ErrPollInFlight is returned.
func (g *DeliveryGate) TriggerPoll(ctx context.Context) (int, error) {
	g.mu.Lock()
	initialized := g.pollFn != nil
	g.mu.Unlock()

	if !initialized {
		return 0, ErrGateNotInitialized
	}
	return g.runPoll(ctx, true)
}

// Status returns a snapshot of the gate state.
func (g *DeliveryGate) Status() model.GateStatus {
	g.mu.Lock()
	defer g.mu.Unlock()

	return model.GateStatus{
		Mode:                      g.mode,
		TemporaryPollingExpiresAt: g.expiresAt,
		LastWebhookAt:             g.lastWebhookAt,
		LastSuccessfulPollAt:      g.lastSuccessfulPollAt,
		PollInFlight:              g.inFlight.Load(),
	}
}

// Mode returns the current delivery mode.
func (g *DeliveryGate) Mode() model.DeliveryMode {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.mode
}

func (g *DeliveryGate) shouldPoll() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch g.mode {
	case model.DeliveryPollingPrimary, model.DeliveryTemporaryPolling:
		return true
	case model.DeliveryWebhookPrimary:
		return g.reconciliationDue(g.now())
	default:
		return false
	}
}

// reconciliationDue reports whether the webhook path has been silent long
// enough that a safety-net poll should run. Caller holds g.mu.
func (g *DeliveryGate) reconciliationDue(now time.Time) bool {
	if g.cfg.WebhookStaleAfter <= 0 {
		return false
	}
	latest := g.startedAt
	if g.lastWebhookAt.After(latest) {
		latest = g.lastWebhookAt
	}
	if g.lastSuccessfulPollAt.After(latest) {
		latest = g.lastSuccessfulPollAt
	}
	return now.Sub(latest) >= g.cfg.WebhookStaleAfter
}

// webhookFresh reports whether a webhook arrived recently enough to trust the
// push path again. Caller holds g.mu.
func (g *DeliveryGate) webhookFresh(now time.Time) bool {
	if g.cfg.WebhookStaleAfter <= 0 {
		return true
	}
	return !g.lastWebhookAt.IsZero() && now.Sub(g.lastWebhookAt) <= g.cfg.WebhookStaleAfter
}

// runPoll guarantees that at most one poll function invocation is running.
// With coalesce set, a caller that finds a poll in flight asks it to run once
// more instead of being dropped.
func (g *DeliveryGate) runPoll(ctx context.Context, coalesce bool) (int, error) {
	if coalesce {
		g.rerun.Store(true)
	}

	total := 0
	for first := true; ; first = false {
		if !g.inFlight.CompareAndSwap(false, true) {
			if first {
				return 0, ErrPollInFlight
			}
			// Another caller started a poll and will pick up the rerun.
			return total, nil
		}

		g.rerun.Store(false)
		n, err := g.pollOnce(ctx)
		g.inFlight.Store(false)

		total += n
		if err != nil {
			// A coalesced webhook trigger already returned ErrPollInFlight to
			// its caller; the failure is reported here on its behalf.
			if g.rerun.Swap(false) {
				g.HandleProcessingError(err)
			}
			return total, err
		}
		if !g.rerun.Load() {
			return total, nil
		}
	}
}

func (g *DeliveryGate) pollOnce(ctx context.Context) (int, error) {
	g.mu.Lock()
	pollFn := g.pollFn
	mode := g.mode
	g.mu.Unlock()

	start := time.Now()
	n, err := pollFn(ctx)
	if err != nil {
		log.Error().Err(err).Str("mode", string(mode)).Msg("poll failed")
		return n, err
	}

	g.recordPollSuccess()

	log.Debug().
		Str("mode", string(mode)).
		Int("processed", n).
		Dur("duration", time.Since(start).Round(time.Millisecond)).
		Msg("poll complete")
	return n, nil
}

// recordPollSuccess stamps the poll time and settles an expired temporary
// polling window: back to webhooks when they are fresh, otherwise another
// window.
func (g *DeliveryGate) recordPollSuccess() {
	g.mu.Lock()
	now := g.now()
	g.lastSuccessfulPollAt = now

	var restored, extended bool
	if g.mode == model.DeliveryTemporaryPolling && now.After(g.expiresAt) {
		if g.webhookFresh(now) {
			g.mode = model.DeliveryWebhookPrimary
			g.expiresAt = time.Time{}
			restored = true
		} else {
			g.expiresAt = now.Add(g.cfg.TemporaryPollingWindow)
			extended = true
		}
	}
	expiresAt := g.expiresAt
	g.mu.Unlock()

	switch {
	case restored:
		log.Info().Msg("temporary polling window elapsed, webhook delivery resumed")
	case extended:
		log.Warn().Time("expires_at", expiresAt).Msg("no recent webhooks, temporary polling extended")
	}
}
