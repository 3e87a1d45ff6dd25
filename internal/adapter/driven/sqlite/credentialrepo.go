package sqlite

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ericfisherdev/gitwatch/internal/domain/model"
	"github.com/ericfisherdev/gitwatch/internal/domain/port/driven"
)

// ErrSecretKeyRequired is returned when an encrypted credential is read by a
// repo that was constructed without a key.
var ErrSecretKeyRequired = errors.New("credential is encrypted: set GITWATCH_SECRET_KEY")

// encryptedPrefix marks secrets stored as AES-256-GCM ciphertext.
const encryptedPrefix = "v1:"

// Compile-time interface satisfaction check.
var _ driven.CredentialStore = (*CredentialRepo)(nil)

// CredentialRepo is the SQLite implementation of the CredentialStore port interface.
// Rows are keyed by the SHA-256 fingerprint of the secret; the secret itself is
// encrypted with AES-256-GCM when a key is configured.
type CredentialRepo struct {
	db  *DB
	key []byte // 32-byte AES-256 key; nil stores secrets as plaintext.
}

// NewCredentialRepo creates a new CredentialRepo. key must be 32 bytes for AES-256-GCM,
// or nil to store secrets unencrypted.
func NewCredentialRepo(db *DB, key []byte) *CredentialRepo {
	return &CredentialRepo{db: db, key: key}
}

const credentialColumns = `id, secret, usage_count, last_used_at, rate_limit_remaining, rate_limit_reset_at, is_active, created_at`

// Add inserts a new credential. Returns driven.ErrCredentialExists if the
// same secret is already registered.
func (r *CredentialRepo) Add(ctx context.Context, cred model.Credential) error {
	stored, err := r.seal(cred.Secret)
	if err != nil {
		return err
	}

	createdAt := cred.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	const query = `INSERT INTO credentials (fingerprint, secret, rate_limit_remaining, rate_limit_reset_at, is_active, created_at)
		VALUES (?, ?, ?, ?, 1, ?)`
	_, err = r.db.Writer.ExecContext(ctx, query,
		cred.Fingerprint(), stored, cred.RateLimitRemaining, formatTime(cred.RateLimitResetAt), formatTime(createdAt))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return fmt.Errorf("add credential %s: %w", cred.Label(), driven.ErrCredentialExists)
		}
		return fmt.Errorf("add credential %s: %w", cred.Label(), err)
	}
	return nil
}

// ListActive returns all active credentials in insertion order.
func (r *CredentialRepo) ListActive(ctx context.Context) ([]model.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM credentials WHERE is_active = 1 ORDER BY id`
	return r.query(ctx, query)
}

// List returns all credentials in insertion order.
func (r *CredentialRepo) List(ctx context.Context) ([]model.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM credentials ORDER BY id`
	return r.query(ctx, query)
}

// Get returns the credential for the given secret. Returns nil, nil if it is not registered.
func (r *CredentialRepo) Get(ctx context.Context, secret string) (*model.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM credentials WHERE fingerprint = ?`

	cred, err := r.scan(r.db.Reader.QueryRowContext(ctx, query, model.Fingerprint(secret)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get credential: %w", err)
	}
	return &cred, nil
}

// RecordUsage bumps the usage counter and overwrites the rate-limit window.
func (r *CredentialRepo) RecordUsage(ctx context.Context, secret string, remaining int, resetAt, usedAt time.Time) error {
	const query = `UPDATE credentials
		SET usage_count = usage_count + 1, last_used_at = ?, rate_limit_remaining = ?, rate_limit_reset_at = ?
		WHERE fingerprint = ?`
	_, err := r.db.Writer.ExecContext(ctx, query, formatTime(usedAt), remaining, formatTime(resetAt), model.Fingerprint(secret))
	if err != nil {
		return fmt.Errorf("record credential usage: %w", err)
	}
	return nil
}

// Deactivate flips is_active to false. Idempotent; unknown secrets are ignored.
func (r *CredentialRepo) Deactivate(ctx context.Context, secret string) error {
	const query = `UPDATE credentials SET is_active = 0 WHERE fingerprint = ?`
	_, err := r.db.Writer.ExecContext(ctx, query, model.Fingerprint(secret))
	if err != nil {
		return fmt.Errorf("deactivate credential: %w", err)
	}
	return nil
}

func (r *CredentialRepo) query(ctx context.Context, query string) ([]model.Credential, error) {
	rows, err := r.db.Reader.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var creds []model.Credential
	for rows.Next() {
		cred, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, cred)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credentials: %w", err)
	}
	return creds, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func (r *CredentialRepo) scan(row rowScanner) (model.Credential, error) {
	var (
		cred       model.Credential
		stored     string
		lastUsedAt sql.NullString
		resetAt    string
		createdAt  string
	)

	err := row.Scan(&cred.ID, &stored, &cred.UsageCount, &lastUsedAt,
		&cred.RateLimitRemaining, &resetAt, &cred.IsActive, &createdAt)
	if err != nil {
		return model.Credential{}, err
	}

	cred.Secret, err = r.open(stored)
	if err != nil {
		return model.Credential{}, fmt.Errorf("decrypt credential %d: %w", cred.ID, err)
	}

	if lastUsedAt.Valid {
		if cred.LastUsedAt, err = parseTime(lastUsedAt.String); err != nil {
			return model.Credential{}, fmt.Errorf("parse last_used_at for credential %d: %w", cred.ID, err)
		}
	}
	if cred.RateLimitResetAt, err = parseTime(resetAt); err != nil {
		return model.Credential{}, fmt.Errorf("parse rate_limit_reset_at for credential %d: %w", cred.ID, err)
	}
	if cred.CreatedAt, err = parseTime(createdAt); err != nil {
		return model.Credential{}, fmt.Errorf("parse created_at for credential %d: %w", cred.ID, err)
	}

	return cred, nil
}

// seal encrypts plaintext using AES-256-GCM and returns a prefixed base64 string
// containing the nonce (12 bytes) prepended to the ciphertext. Without a key
// the plaintext is returned unchanged.
func (r *CredentialRepo) seal(plaintext string) (string, error) {
	if r.key == nil {
		return plaintext, nil
	}

	gcm, err := r.gcm()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("rand nonce: %w", err)
	}

	// Seal appends the ciphertext to nonce, producing: nonce || ciphertext || tag.
	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return encryptedPrefix + base64.StdEncoding.EncodeToString(ciphertext), nil
}

// open reverses seal.
func (r *CredentialRepo) open(stored string) (string, error) {
	encoded, ok := strings.CutPrefix(stored, encryptedPrefix)
	if !ok {
		return stored, nil
	}
	if r.key == nil {
		return "", ErrSecretKeyRequired
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}

	gcm, err := r.gcm()
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", errors.New("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("gcm.Open: %w", err)
	}

	return string(plaintext), nil
}

func (r *CredentialRepo) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(r.key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return gcm, nil
}
