// Package driven defines secondary port interfaces for external adapters.
package driven

import (
	"context"
	"errors"
	"time"

	"github.com/ericfisherdev/gitwatch/internal/domain/model"
)

// ErrCredentialExists is returned by CredentialStore.Add when a credential
// with the same secret is already registered.
var ErrCredentialExists = errors.New("credential already exists")

// CredentialStore defines the driven port for the durable token pool.
// Credentials are never deleted; Deactivate is the only terminal transition.
type CredentialStore interface {
	// Add registers a new credential. Returns ErrCredentialExists on a duplicate secret.
	Add(ctx context.Context, cred model.Credential) error

	// ListActive returns all active credentials in storage order.
	ListActive(ctx context.Context) ([]model.Credential, error)

	// List returns every credential, active or not.
	List(ctx context.Context) ([]model.Credential, error)

	// Get returns the credential for the given secret, or (nil, nil) if unknown.
	Get(ctx context.Context, secret string) (*model.Credential, error)

	// RecordUsage increments the usage counter, stamps usedAt and overwrites
	// the rate-limit window with the values reported by the upstream.
	RecordUsage(ctx context.Context, secret string, remaining int, resetAt, usedAt time.Time) error

	// Deactivate marks the credential inactive. Deactivating an inactive or
	// unknown credential is not an error.
	Deactivate(ctx context.Context, secret string) error
}
