package model

import "time"

// DeliveryMode is the way new events currently reach the service.
type DeliveryMode string

const (
	// DeliveryWebhookPrimary relies on pushed webhook deliveries.
	DeliveryWebhookPrimary DeliveryMode = "webhook_primary"
	// DeliveryPollingPrimary polls the API on every tick because no webhook
	// integration is installed.
	DeliveryPollingPrimary DeliveryMode = "polling_primary"
	// DeliveryTemporaryPolling polls for a bounded window after the webhook
	// path failed.
	DeliveryTemporaryPolling DeliveryMode = "temporary_polling"
)

// GateStatus is a point-in-time view of the delivery gate.
type GateStatus struct {
	Mode                      DeliveryMode
	TemporaryPollingExpiresAt time.Time
	LastWebhookAt             time.Time
	LastSuccessfulPollAt      time.Time
	PollInFlight              bool
}
