// Package httphandler is the HTTP driving adapter: the GitHub webhook
// receiver and a small read-only status API.
package httphandler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	gh "github.com/google/go-github/v82/github"
	"github.com/rs/zerolog/log"

	"github.com/ericfisherdev/gitwatch/internal/application"
	"github.com/ericfisherdev/gitwatch/internal/domain/model"
)

// defaultProcessTimeout bounds the poll run for one webhook delivery.
const defaultProcessTimeout = 2 * time.Minute

// DeliveryGate is the part of the delivery gate the HTTP adapter drives.
type DeliveryGate interface {
	WebhookReceived()
	TriggerPoll(ctx context.Context) (int, error)
	HandleProcessingError(err error)
	Status() model.GateStatus
}

// CredentialLister lists the pooled credentials.
type CredentialLister interface {
	Stats(ctx context.Context) ([]model.Credential, error)
}

// Handler is the HTTP driving adapter that serves the webhook receiver and
// the status API.
type Handler struct {
	gate           DeliveryGate
	creds          CredentialLister
	repo           string
	webhookSecret  []byte
	processTimeout time.Duration

	wg sync.WaitGroup
}

// NewHandler creates a Handler with all required dependencies. Webhooks are
// rejected until webhookSecret is non-empty.
func NewHandler(gate DeliveryGate, creds CredentialLister, repoFullName, webhookSecret string) *Handler {
	return &Handler{
		gate:           gate,
		creds:          creds,
		repo:           repoFullName,
		webhookSecret:  []byte(webhookSecret),
		processTimeout: defaultProcessTimeout,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with request id, logging and recovery middleware.
func NewServeMux(h *Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /webhooks/github", h.GitHubWebhook)
	mux.HandleFunc("GET /api/v1/health", h.Health)
	mux.HandleFunc("GET /api/v1/delivery", h.Delivery)
	mux.HandleFunc("GET /api/v1/credentials", h.Credentials)

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(mux)
	wrapped = loggingMiddleware(wrapped)
	wrapped = requestIDMiddleware(wrapped)

	return wrapped
}

// Wait blocks until every webhook-triggered poll started by the handler has
// finished. Call it after the HTTP server has stopped accepting requests.
func (h *Handler) Wait() {
	h.wg.Wait()
}

// GitHubWebhook verifies a webhook delivery and, for anything but a ping,
// signals the delivery gate and starts processing in the background. The
// delivery is acknowledged with 202 before processing completes.
func (h *Handler) GitHubWebhook(w http.ResponseWriter, r *http.Request) {
	if len(h.webhookSecret) == 0 {
		writeError(w, http.StatusServiceUnavailable, "webhook receiver not configured")
		return
	}

	payload, err := gh.ValidatePayload(r, h.webhookSecret)
	if err != nil {
		log.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("rejected webhook delivery")
		writeError(w, http.StatusUnauthorized, "invalid webhook signature")
		return
	}

	eventType := gh.WebHookType(r)
	if eventType == "" {
		writeError(w, http.StatusBadRequest, "missing X-GitHub-Event header")
		return
	}

	deliveryID := gh.DeliveryID(r)
	if deliveryID == "" {
		deliveryID = uuid.NewString()
	}

	event, err := gh.ParseWebHook(eventType, payload)
	if err != nil {
		if !json.Valid(payload) {
			writeError(w, http.StatusBadRequest, "malformed webhook payload")
			return
		}
		// Event types unknown to go-github are still a valid signal.
		event = nil
	}

	resp := WebhookResponse{Status: "accepted", Event: eventType, DeliveryID: deliveryID}

	if eventType == "ping" {
		resp.Status = "pong"
		writeJSON(w, http.StatusOK, resp)
		return
	}

	if repo := repoOf(event); repo != "" && !strings.EqualFold(repo, h.repo) {
		log.Debug().Str("event", eventType).Str("repo", repo).Msg("ignoring webhook for another repository")
		resp.Status = "ignored"
		writeJSON(w, http.StatusAccepted, resp)
		return
	}

	h.gate.WebhookReceived()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.process(eventType, deliveryID)
	}()

	writeJSON(w, http.StatusAccepted, resp)
}

// process runs the poll function for a webhook delivery. Failures hand
// delivery over to temporary polling.
func (h *Handler) process(eventType, deliveryID string) {
	ctx, cancel := context.WithTimeout(context.Background(), h.processTimeout)
	defer cancel()

	n, err := h.gate.TriggerPoll(ctx)
	switch {
	case errors.Is(err, application.ErrPollInFlight):
		log.Debug().Str("delivery_id", deliveryID).Msg("webhook coalesced into running poll")
	case err != nil:
		log.Error().Err(err).
			Str("event", eventType).
			Str("delivery_id", deliveryID).
			Msg("webhook processing failed")
		h.gate.HandleProcessingError(err)
	default:
		log.Info().
			Str("event", eventType).
			Str("delivery_id", deliveryID).
			Int("processed", n).
			Msg("webhook processed")
	}
}

// repoOf returns the full name of the repository a parsed webhook event
// refers to, or "" when the event carries none.
func repoOf(event any) string {
	switch e := event.(type) {
	case interface{ GetRepo() *gh.Repository }:
		return e.GetRepo().GetFullName()
	case interface{ GetRepo() *gh.PushEventRepository }:
		return e.GetRepo().GetFullName()
	default:
		return ""
	}
}

// Health returns a simple health check response.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Mode:   string(h.gate.Status().Mode),
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}

// Delivery returns the delivery gate state.
func (h *Handler) Delivery(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, toDeliveryResponse(h.gate.Status()))
}

// Credentials lists the pooled credentials by fingerprint.
func (h *Handler) Credentials(w http.ResponseWriter, r *http.Request) {
	creds, err := h.creds.Stats(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to list credentials")
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]CredentialResponse, 0, len(creds))
	for _, c := range creds {
		resp = append(resp, toCredentialResponse(c))
	}

	writeJSON(w, http.StatusOK, resp)
}
