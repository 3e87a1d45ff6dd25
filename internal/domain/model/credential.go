// Package model holds the domain types shared by the application and its adapters.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// DefaultRateLimit is the quota assigned to a freshly registered credential
// before the upstream has reported its real window.
const DefaultRateLimit = 5000

// Credential is one GitHub token in the rotating pool together with its usage
// statistics and the last rate-limit window reported by the API.
type Credential struct {
	ID                 int64
	Secret             string
	UsageCount         int64
	LastUsedAt         time.Time
	RateLimitRemaining int
	RateLimitResetAt   time.Time
	IsActive           bool
	CreatedAt          time.Time
}

// Usable reports whether the credential may be handed out at the given time:
// it is active and either has quota left or its window has already reset.
func (c Credential) Usable(now time.Time) bool {
	if !c.IsActive {
		return false
	}
	return c.RateLimitRemaining > 0 || !c.RateLimitResetAt.After(now)
}

// Fingerprint returns the stable identifier of the credential's secret.
func (c Credential) Fingerprint() string {
	return Fingerprint(c.Secret)
}

// Label is a short, log-safe name for the credential.
func (c Credential) Label() string {
	return Fingerprint(c.Secret)[:12]
}

// Fingerprint hashes a secret so it can be indexed and logged without
// exposing the token itself.
func Fingerprint(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}
