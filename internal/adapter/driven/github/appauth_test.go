package github_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ghAdapter "github.com/ericfisherdev/gitwatch/internal/adapter/driven/github"
)

// newAppKey generates an RSA key and returns it with its PKCS#1 PEM encoding.
func newAppKey(t *testing.T) (*rsa.PrivateKey, []byte) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}
	return key, pem.EncodeToMemory(block)
}

// appServer fakes the installation endpoints of the GitHub Apps API. Only
// octo/hello has the App installed.
type appServer struct {
	key         *rsa.PublicKey
	lookups     atomic.Int32
	mints       atomic.Int32
	badJWTs     atomic.Int32
	lastIssuer  atomic.Value
	tokenExpiry time.Time
}

func (s *appServer) checkJWT(r *http.Request) bool {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(bearer(r), claims, func(*jwt.Token) (any, error) {
		return s.key, nil
	}, jwt.WithValidMethods([]string{"RS256"}))
	if err != nil {
		s.badJWTs.Add(1)
		return false
	}
	s.lastIssuer.Store(claims.Issuer)
	return true
}

func (s *appServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/{owner}/{repo}/installation", func(w http.ResponseWriter, r *http.Request) {
		s.lookups.Add(1)
		if !s.checkJWT(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.PathValue("owner") != "octo" || r.PathValue("repo") != "hello" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"Not Found"}`))
			return
		}
		_, _ = w.Write([]byte(`{"id": 42}`))
	})
	mux.HandleFunc("POST /app/installations/42/access_tokens", func(w http.ResponseWriter, r *http.Request) {
		s.mints.Add(1)
		if !s.checkJWT(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = fmt.Fprintf(w, `{"token":"ghs_minted_%d","expires_at":%q}`, s.mints.Load(), s.tokenExpiry.Format(time.RFC3339))
	})
	return mux
}

func newTestAppAuth(t *testing.T, expiry time.Time) (*ghAdapter.AppAuth, *appServer) {
	t.Helper()

	key, pemBytes := newAppKey(t)
	fake := &appServer{key: &key.PublicKey, tokenExpiry: expiry}

	server := httptest.NewServer(fake.handler())
	t.Cleanup(server.Close)

	auth, err := ghAdapter.NewAppAuth(1234, pemBytes, server.Client(), server.URL)
	require.NoError(t, err)

	return auth, fake
}

func TestNewAppAuth_RejectsInvalidKey(t *testing.T) {
	_, err := ghAdapter.NewAppAuth(1, []byte("not a key"), nil, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing app private key")
}

func TestAppAuth_InstallationTokenIsCached(t *testing.T) {
	auth, fake := newTestAppAuth(t, time.Now().Add(time.Hour))
	ctx := context.Background()

	first, err := auth.InstallationToken(ctx, "octo", "hello")
	require.NoError(t, err)
	second, err := auth.InstallationToken(ctx, "octo", "hello")
	require.NoError(t, err)

	assert.Equal(t, "ghs_minted_1", first)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), fake.mints.Load())
	assert.Zero(t, fake.badJWTs.Load())
	assert.Equal(t, "1234", fake.lastIssuer.Load())
}

func TestAppAuth_ExpiringTokenIsRenewed(t *testing.T) {
	auth, fake := newTestAppAuth(t, time.Now().Add(30*time.Second))
	ctx := context.Background()

	first, err := auth.InstallationToken(ctx, "octo", "hello")
	require.NoError(t, err)
	second, err := auth.InstallationToken(ctx, "octo", "hello")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.Equal(t, int32(2), fake.mints.Load())
}

func TestAppAuth_ForgetDropsCachedToken(t *testing.T) {
	auth, fake := newTestAppAuth(t, time.Now().Add(time.Hour))
	ctx := context.Background()

	_, err := auth.InstallationToken(ctx, "octo", "hello")
	require.NoError(t, err)
	auth.Forget("octo", "hello")
	_, err = auth.InstallationToken(ctx, "octo", "hello")
	require.NoError(t, err)

	assert.Equal(t, int32(2), fake.mints.Load())
}

func TestAppAuth_NotInstalled(t *testing.T) {
	auth, _ := newTestAppAuth(t, time.Now().Add(time.Hour))

	_, err := auth.InstallationToken(context.Background(), "octo", "other")
	assert.ErrorIs(t, err, ghAdapter.ErrNoInstallation)
}

func TestInstallationProbe(t *testing.T) {
	auth, _ := newTestAppAuth(t, time.Now().Add(time.Hour))
	ctx := context.Background()

	installed, err := ghAdapter.NewInstallationProbe(auth, "octo/hello").WebhookInstalled(ctx)
	require.NoError(t, err)
	assert.True(t, installed)

	installed, err = ghAdapter.NewInstallationProbe(auth, "octo/other").WebhookInstalled(ctx)
	require.NoError(t, err)
	assert.False(t, installed)

	installed, err = ghAdapter.NewInstallationProbe(nil, "octo/hello").WebhookInstalled(ctx)
	require.NoError(t, err)
	assert.False(t, installed)

	_, err = ghAdapter.NewInstallationProbe(auth, "not-a-repo").WebhookInstalled(ctx)
	assert.Error(t, err)
}
