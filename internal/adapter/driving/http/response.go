package httphandler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ericfisherdev/gitwatch/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is the JSON response for the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	Mode   string `json:"mode"`
	Time   string `json:"time"`
}

// WebhookResponse acknowledges a webhook delivery.
type WebhookResponse struct {
	Status     string `json:"status"`
	Event      string `json:"event"`
	DeliveryID string `json:"delivery_id"`
}

// DeliveryResponse is the JSON representation of the delivery gate state.
// Timestamps are RFC 3339 and omitted when unset.
type DeliveryResponse struct {
	Mode                      string `json:"mode"`
	TemporaryPollingExpiresAt string `json:"temporary_polling_expires_at,omitempty"`
	LastWebhookAt             string `json:"last_webhook_at,omitempty"`
	LastSuccessfulPollAt      string `json:"last_successful_poll_at,omitempty"`
	PollInFlight              bool   `json:"poll_in_flight"`
}

// CredentialResponse describes one pooled credential. The secret itself is
// never exposed; Fingerprint is a short hash prefix.
type CredentialResponse struct {
	ID                 int64  `json:"id"`
	Fingerprint        string `json:"fingerprint"`
	Active             bool   `json:"active"`
	UsageCount         int64  `json:"usage_count"`
	RateLimitRemaining int    `json:"rate_limit_remaining"`
	RateLimitResetAt   string `json:"rate_limit_reset_at,omitempty"`
	LastUsedAt         string `json:"last_used_at,omitempty"`
}

func toDeliveryResponse(s model.GateStatus) DeliveryResponse {
	return DeliveryResponse{
		Mode:                      string(s.Mode),
		TemporaryPollingExpiresAt: formatOptionalTime(s.TemporaryPollingExpiresAt),
		LastWebhookAt:             formatOptionalTime(s.LastWebhookAt),
		LastSuccessfulPollAt:      formatOptionalTime(s.LastSuccessfulPollAt),
		PollInFlight:              s.PollInFlight,
	}
}

func toCredentialResponse(c model.Credential) CredentialResponse {
	return CredentialResponse{
		ID:                 c.ID,
		Fingerprint:        c.Label(),
		Active:             c.IsActive,
		UsageCount:         c.UsageCount,
		RateLimitRemaining: c.RateLimitRemaining,
		RateLimitResetAt:   formatOptionalTime(c.RateLimitResetAt),
		LastUsedAt:         formatOptionalTime(c.LastUsedAt),
	}
}

// formatOptionalTime formats t as RFC 3339 in UTC, or "" for the zero time
// and the Unix epoch.
func formatOptionalTime(t time.Time) string {
	if t.IsZero() || t.Unix() == 0 {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
