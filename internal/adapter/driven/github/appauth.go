package github

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	gh "github.com/google/go-github/v82/github"
	"github.com/rs/zerolog/log"
)

// ErrNoInstallation is returned when the GitHub App is not installed on the
// requested repository.
var ErrNoInstallation = errors.New("github app not installed on repository")

// installationTokenSkew renews cached installation tokens this long before
// GitHub expires them.
const installationTokenSkew = time.Minute

// AppAuth authenticates as a GitHub App and mints installation tokens. It is
// the executor's fallback when the token pool has nothing usable.
type AppAuth struct {
	appID  int64
	key    *rsa.PrivateKey
	client *gh.Client
	now    func() time.Time

	mu     sync.Mutex
	tokens map[string]installationToken
}

type installationToken struct {
	token     string
	expiresAt time.Time
}

// NewAppAuth parses the App's PEM-encoded private key. A nil httpClient uses
// http.DefaultClient; an empty baseURL targets api.github.com.
func NewAppAuth(appID int64, privateKeyPEM []byte, httpClient *http.Client, baseURL string) (*AppAuth, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("parsing app private key: %w", err)
	}

	client := gh.NewClient(httpClient)
	if baseURL != "" {
		u, err := parseBaseURL(baseURL)
		if err != nil {
			return nil, err
		}
		client.BaseURL = u
	}

	return &AppAuth{
		appID:  appID,
		key:    key,
		client: client,
		now:    time.Now,
		tokens: make(map[string]installationToken),
	}, nil
}

// appJWT signs the short-lived token that identifies the App itself. The
// issued-at time is backdated to tolerate clock drift.
func (a *AppAuth) appJWT() (string, error) {
	now := a.now()
	claims := jwt.RegisteredClaims{
		Issuer:    strconv.FormatInt(a.appID, 10),
		IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
		ExpiresAt: jwt.NewNumericDate(now.Add(9 * time.Minute)),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(a.key)
	if err != nil {
		return "", fmt.Errorf("signing app jwt: %w", err)
	}
	return signed, nil
}

// InstallationID looks up the App's installation on owner/repo. It returns
// ErrNoInstallation when GitHub answers 404.
func (a *AppAuth) InstallationID(ctx context.Context, owner, repo string) (int64, error) {
	token, err := a.appJWT()
	if err != nil {
		return 0, err
	}

	inst, _, err := a.client.WithAuthToken(token).Apps.FindRepositoryInstallation(ctx, owner, repo)
	if err != nil {
		if isNotFound(err) {
			return 0, ErrNoInstallation
		}
		return 0, fmt.Errorf("finding installation for %s/%s: %w", owner, repo, err)
	}
	return inst.GetID(), nil
}

// InstallationToken returns an installation access token for owner/repo,
// reusing a cached one until shortly before it expires.
func (a *AppAuth) InstallationToken(ctx context.Context, owner, repo string) (string, error) {
	key := owner + "/" + repo

	a.mu.Lock()
	cached, ok := a.tokens[key]
	a.mu.Unlock()
	if ok && a.now().Before(cached.expiresAt.Add(-installationTokenSkew)) {
		return cached.token, nil
	}

	id, err := a.InstallationID(ctx, owner, repo)
	if err != nil {
		return "", err
	}

	appToken, err := a.appJWT()
	if err != nil {
		return "", err
	}

	tok, _, err := a.client.WithAuthToken(appToken).Apps.CreateInstallationToken(ctx, id, nil)
	if err != nil {
		return "", fmt.Errorf("creating installation token for %s: %w", key, err)
	}

	a.mu.Lock()
	a.tokens[key] = installationToken{token: tok.GetToken(), expiresAt: tok.GetExpiresAt().Time}
	a.mu.Unlock()

	log.Debug().Str("repo", key).Int64("installation_id", id).Msg("minted installation token")
	return tok.GetToken(), nil
}

// Forget drops the cached token for owner/repo so the next call mints a new one.
func (a *AppAuth) Forget(owner, repo string) {
	a.mu.Lock()
	delete(a.tokens, owner+"/"+repo)
	a.mu.Unlock()
}

func isNotFound(err error) bool {
	var errResp *gh.ErrorResponse
	return errors.As(err, &errResp) && errResp.Response != nil && errResp.Response.StatusCode == http.StatusNotFound
}

func parseBaseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	return u, nil
}

// splitRepo splits a "owner/repo" string into its two components.
func splitRepo(fullName string) (string, string, error) {
	parts := strings.SplitN(fullName, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repo name %q: expected owner/repo", fullName)
	}
	return parts[0], parts[1], nil
}

// repoFromPath extracts owner and repo from an API path of the form
// /repos/{owner}/{repo}/...
func repoFromPath(path string) (string, string, bool) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] == "repos" && parts[i+1] != "" && parts[i+2] != "" {
			return parts[i+1], parts[i+2], true
		}
	}
	return "", "", false
}
