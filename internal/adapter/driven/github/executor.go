// Package github implements authenticated access to the GitHub REST API: a
// request executor that rotates pooled tokens, plus the event fetcher, App
// authentication and delivery probe built on it.
package github

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"
	gh "github.com/google/go-github/v82/github"
	"github.com/gregjones/httpcache"
	"github.com/rs/zerolog/log"

	"github.com/ericfisherdev/gitwatch/internal/domain/model"
)

// DefaultBaseURL is the public GitHub REST API.
const DefaultBaseURL = "https://api.github.com/"

// lowRateLimit is the remaining-quota level below which usage is logged at
// warn level.
const lowRateLimit = 100

// maxErrorBody caps how much of a failure response is read for logging.
const maxErrorBody = 64 << 10

// TokenSource hands out pooled credentials and receives their usage.
type TokenSource interface {
	Acquire(ctx context.Context) (*model.Credential, error)
	RecordUsage(ctx context.Context, secret string, remaining int, resetAt time.Time) error
	Deactivate(ctx context.Context, secret string) error
}

// InstallationTokenSource mints App installation tokens for a repository.
type InstallationTokenSource interface {
	InstallationToken(ctx context.Context, owner, repo string) (string, error)
}

// Notifier receives failures the executor cannot recover from. Notification
// has no result: a notifier that misbehaves cannot affect the request path.
type Notifier interface {
	HandleTransientError(err error)
}

// RequestOptions describes one API call. Method defaults to GET.
type RequestOptions struct {
	Method string
	Header http.Header
	Body   []byte
	// Binary marks an attachment download. Paths under /releases/assets/ are
	// treated as binary regardless.
	Binary bool
}

// ExecutorConfig tunes the executor. Zero values select the defaults.
type ExecutorConfig struct {
	// HTTPClient performs the requests; nil means NewHTTPClient().
	HTTPClient *http.Client
	// BaseURL resolves relative targets; empty means DefaultBaseURL.
	BaseURL        string
	MaxRetries     int
	RetryBaseDelay time.Duration
	Backoff        BackoffPolicy
	// PreviewAccept is the media type sent for preview-format requests.
	PreviewAccept string
	// Fallback supplies App installation tokens when the pool is empty.
	Fallback InstallationTokenSource
}

// NewHTTPClient builds the transport stack used against the real API:
//  1. httpcache (ETag-based conditional request caching)
//  2. go-github-ratelimit (secondary rate limit middleware, sleeps on 429)
func NewHTTPClient() *http.Client {
	cacheTransport := httpcache.NewMemoryCacheTransport()
	return github_ratelimit.NewClient(cacheTransport)
}

// Executor performs authenticated GitHub API calls with bounded retries,
// credential rotation and an App-installation fallback.
type Executor struct {
	tokens   TokenSource
	notifier Notifier
	fallback InstallationTokenSource

	client     *http.Client
	noRedirect *http.Client
	baseURL    *url.URL

	maxRetries    int
	baseDelay     time.Duration
	backoff       BackoffPolicy
	previewAccept string
}

// NewExecutor creates an executor. notifier may be nil.
func NewExecutor(tokens TokenSource, notifier Notifier, cfg ExecutorConfig) (*Executor, error) {
	client := cfg.HTTPClient
	if client == nil {
		client = NewHTTPClient()
	}

	rawBase := cfg.BaseURL
	if rawBase == "" {
		rawBase = DefaultBaseURL
	}
	baseURL, err := parseBaseURL(rawBase)
	if err != nil {
		return nil, err
	}

	noRedirect := *client
	noRedirect.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	e := &Executor{
		tokens:        tokens,
		notifier:      notifier,
		fallback:      cfg.Fallback,
		client:        client,
		noRedirect:    &noRedirect,
		baseURL:       baseURL,
		maxRetries:    cfg.MaxRetries,
		baseDelay:     cfg.RetryBaseDelay,
		backoff:       cfg.Backoff,
		previewAccept: cfg.PreviewAccept,
	}
	if e.maxRetries <= 0 {
		e.maxRetries = DefaultMaxRetries
	}
	if e.baseDelay <= 0 {
		e.baseDelay = time.Second
	}
	if e.backoff == nil {
		e.backoff = LinearBackoff
	}
	return e, nil
}

// credential is the token used for one attempt. Pooled credentials report
// usage back to the pool; App installation tokens do not.
type credential struct {
	secret string
	label  string
	pooled bool
	owner  string
	repo   string
}

// Execute performs one logical call against target, which is either an API
// path relative to the base URL or an absolute URL. Success responses,
// including 304, are returned with an open body the caller must close.
// Failures are *APIError values, or wrap ErrRetriesExhausted once every
// attempt failed with a retryable error.
func (e *Executor) Execute(ctx context.Context, target string, opts RequestOptions, preview bool) (*http.Response, error) {
	u, err := e.resolve(target)
	if err != nil {
		return nil, err
	}
	if opts.Method == "" {
		opts.Method = http.MethodGet
	}
	binary := isBinaryTarget(u, opts.Binary)
	name := opts.Method + " " + u.Path

	var lastErr error
	for attempt := 1; attempt <= e.maxRetries; attempt++ {
		resp, cred, err := e.attempt(ctx, u, opts, preview, binary)
		if err == nil {
			if binary && resp.StatusCode == http.StatusFound {
				return e.followRedirect(ctx, resp)
			}
			return resp, nil
		}

		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			if ctx.Err() == nil {
				e.notify(err)
			}
			return nil, err
		}
		lastErr = err

		d := decide(attempt, apiErr.Kind, e.backoff, e.baseDelay)
		if d.Notify {
			e.notify(err)
			return nil, err
		}
		if d.Deactivate {
			e.dropCredential(ctx, cred)
		}

		log.Warn().
			Str("target", name).
			Str("kind", apiErr.Kind.String()).
			Str("credential", cred.label).
			Int("attempt", attempt).
			Int("max_attempts", e.maxRetries).
			Msg("github request failed, retrying")

		if attempt == e.maxRetries {
			break
		}
		if d.Delay > 0 {
			if err := sleep(ctx, d.Delay); err != nil {
				return nil, err
			}
		}
	}

	return nil, fmt.Errorf("%s failed after %d attempts: %w", name, e.maxRetries, errors.Join(ErrRetriesExhausted, lastErr))
}

func (e *Executor) resolve(target string) (*url.URL, error) {
	ref, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("parsing target %q: %w", target, err)
	}
	return e.baseURL.ResolveReference(ref), nil
}

// attempt runs a single request. The returned credential identifies the
// token that was used, even when the attempt failed.
func (e *Executor) attempt(ctx context.Context, u *url.URL, opts RequestOptions, preview, binary bool) (*http.Response, credential, error) {
	cred, err := e.credentialFor(ctx, u)
	if err != nil {
		return nil, cred, err
	}

	var body io.Reader
	if opts.Body != nil {
		body = bytes.NewReader(opts.Body)
	}
	req, err := http.NewRequestWithContext(ctx, opts.Method, u.String(), body)
	if err != nil {
		return nil, cred, fmt.Errorf("building request: %w", err)
	}
	req.Header = buildHeaders(opts.Header, u, cred.secret, e.previewAccept, binary, preview)

	client := e.client
	if binary {
		client = e.noRedirect
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, cred, ctxErr
		}
		kind := KindUpstreamAPI
		if isTransientNetwork(err) {
			kind = KindTransientNetwork
		}
		return nil, cred, &APIError{Kind: kind, Target: u.Path, Message: err.Error(), err: err}
	}

	e.recordUsage(ctx, cred, resp)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300,
		resp.StatusCode == http.StatusNotModified,
		resp.StatusCode == http.StatusFound && binary:
		return resp, cred, nil
	default:
		return nil, cred, failure(resp, u.Path)
	}
}

// credentialFor picks the token for the next attempt: the best pooled
// credential, else an App installation token for the target's repository.
func (e *Executor) credentialFor(ctx context.Context, u *url.URL) (credential, error) {
	c, err := e.tokens.Acquire(ctx)
	if err != nil {
		return credential{}, fmt.Errorf("acquiring credential: %w", err)
	}
	if c != nil {
		return credential{secret: c.Secret, label: c.Label(), pooled: true}, nil
	}

	if e.fallback != nil {
		if owner, repo, ok := repoFromPath(u.Path); ok {
			token, err := e.fallback.InstallationToken(ctx, owner, repo)
			if err == nil {
				return credential{secret: token, label: "app-installation", owner: owner, repo: repo}, nil
			}
			log.Warn().Err(err).Str("repo", owner+"/"+repo).Msg("app installation fallback failed")
		}
	}

	return credential{}, &APIError{
		Kind:    KindPoolExhausted,
		Target:  u.Path,
		Message: "no credentials available",
	}
}

// recordUsage stores the rate-limit window reported with resp. A failed
// write is logged and does not fail the request. Responses answered by the
// cache did not spend quota and carry stale rate-limit headers.
func (e *Executor) recordUsage(ctx context.Context, cred credential, resp *http.Response) {
	if !cred.pooled || resp.Header.Get(httpcache.XFromCache) == "1" {
		return
	}

	remaining, resetAt := rateLimitFrom(resp.Header)
	if err := e.tokens.RecordUsage(ctx, cred.secret, remaining, resetAt); err != nil {
		log.Error().Err(err).Str("credential", cred.label).Msg("failed to record credential usage")
	}

	if remaining < lowRateLimit {
		log.Warn().
			Str("credential", cred.label).
			Int("remaining", remaining).
			Time("reset_at", resetAt).
			Msg("github rate limit low")
	}
}

func (e *Executor) dropCredential(ctx context.Context, cred credential) {
	if cred.pooled {
		if err := e.tokens.Deactivate(ctx, cred.secret); err != nil {
			log.Error().Err(err).Str("credential", cred.label).Msg("failed to deactivate credential")
		}
		return
	}
	if f, ok := e.fallback.(interface{ Forget(owner, repo string) }); ok {
		f.Forget(cred.owner, cred.repo)
	}
}

// followRedirect performs the single unauthenticated request to the signed
// asset URL a binary download redirects to. Its response is returned as is.
func (e *Executor) followRedirect(ctx context.Context, resp *http.Response) (*http.Response, error) {
	location := resp.Header.Get("Location")
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	if location == "" {
		return nil, &APIError{
			Kind:       KindUpstreamAPI,
			Status:     resp.StatusCode,
			StatusText: http.StatusText(resp.StatusCode),
			Message:    "redirect without Location header",
			Target:     resp.Request.URL.Path,
		}
	}

	target, err := resp.Request.URL.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("parsing redirect location: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("building redirect request: %w", err)
	}
	req.Header.Set("Accept", acceptBinary)

	follow, err := e.noRedirect.Do(req)
	if err != nil {
		return nil, fmt.Errorf("following redirect to %s: %w", target.Host, err)
	}
	return follow, nil
}

// notify reports an unrecoverable failure to the delivery gate. A panicking
// notifier is logged and never reaches the request path.
func (e *Executor) notify(err error) {
	if e.notifier == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).AnErr("reported", err).Msg("notifier panicked")
		}
	}()
	e.notifier.HandleTransientError(err)
}

// failure converts a non-success response into an *APIError and closes its
// body. Bodies of 403 responses are not logged: they are rate-limit noise.
func failure(resp *http.Response, target string) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	_ = resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))

	apiErr := &APIError{
		Kind:       kindForStatus(resp.StatusCode),
		Status:     resp.StatusCode,
		StatusText: http.StatusText(resp.StatusCode),
		Message:    errorMessage(gh.CheckResponse(resp)),
		Target:     target,
	}

	event := log.Warn().Str("target", target).Int("status", resp.StatusCode)
	if resp.StatusCode != http.StatusForbidden {
		event = event.Bytes("body", body)
	}
	event.Msg("github request returned an error")

	return apiErr
}

// errorMessage extracts GitHub's message from a CheckResponse error.
func errorMessage(err error) string {
	var rateErr *gh.RateLimitError
	if errors.As(err, &rateErr) {
		return rateErr.Message
	}
	var abuseErr *gh.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return abuseErr.Message
	}
	var errResp *gh.ErrorResponse
	if errors.As(err, &errResp) {
		return errResp.Message
	}
	return ""
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
