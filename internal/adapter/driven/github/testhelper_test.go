package github_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	ghAdapter "github.com/ericfisherdev/gitwatch/internal/adapter/driven/github"
	"github.com/ericfisherdev/gitwatch/internal/adapter/driven/sqlite"
	"github.com/ericfisherdev/gitwatch/internal/application"
	"github.com/ericfisherdev/gitwatch/internal/domain/model"
)

// newTestPool creates a TokenPool over a migrated SQLite database in a temp
// directory and registers the given secrets in order.
func newTestPool(t *testing.T, secrets ...string) (*application.TokenPool, *sqlite.CredentialRepo) {
	t.Helper()
	ctx := context.Background()

	db, err := sqlite.NewDB(ctx, filepath.Join(t.TempDir(), "gitwatch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = sqlite.RunMigrations(ctx, db)
	require.NoError(t, err)

	repo := sqlite.NewCredentialRepo(db, nil)
	pool := application.NewTokenPool(repo, nil)
	require.NoError(t, pool.Provision(ctx, secrets))

	return pool, repo
}

// getCredential loads a credential by secret, failing the test if missing.
func getCredential(t *testing.T, repo *sqlite.CredentialRepo, secret string) model.Credential {
	t.Helper()

	cred, err := repo.Get(context.Background(), secret)
	require.NoError(t, err)
	require.NotNil(t, cred)
	return *cred
}

// newTestExecutor creates an Executor that talks to an httptest server
// running handler. Retries back off for a millisecond.
func newTestExecutor(t *testing.T, handler http.Handler, tokens ghAdapter.TokenSource, notifier ghAdapter.Notifier, mutate ...func(*ghAdapter.ExecutorConfig)) (*ghAdapter.Executor, *httptest.Server) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := ghAdapter.ExecutorConfig{
		HTTPClient:     server.Client(),
		BaseURL:        server.URL + "/",
		RetryBaseDelay: time.Millisecond,
	}
	for _, m := range mutate {
		m(&cfg)
	}

	exec, err := ghAdapter.NewExecutor(tokens, notifier, cfg)
	require.NoError(t, err)

	return exec, server
}

// recordingNotifier captures failures reported by the executor.
type recordingNotifier struct {
	mu   sync.Mutex
	errs []error
}

func (n *recordingNotifier) HandleTransientError(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errs = append(n.errs, err)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.errs)
}

// staticInstallation is an InstallationTokenSource returning a fixed token.
type staticInstallation struct {
	token string
	err   error
	calls []string
}

func (s *staticInstallation) InstallationToken(_ context.Context, owner, repo string) (string, error) {
	s.calls = append(s.calls, owner+"/"+repo)
	return s.token, s.err
}

// bearer returns the token carried by the request's Authorization header.
func bearer(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) < len(prefix) {
		return ""
	}
	return h[len(prefix):]
}
