package github

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
)

// ErrorKind classifies a failed upstream request. The set is closed: callers
// switch over it exhaustively.
type ErrorKind int

const (
	// KindUpstreamAPI is any non-success response not covered below.
	KindUpstreamAPI ErrorKind = iota
	// KindInvalidCredential is a 401: the token was rejected.
	KindInvalidCredential
	// KindQuotaExceeded is a 403: rate limited or forbidden for this token.
	KindQuotaExceeded
	// KindTransientNetwork is a connection reset, timeout or DNS failure.
	KindTransientNetwork
	// KindPoolExhausted means no credential and no app installation token
	// was available.
	KindPoolExhausted
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidCredential:
		return "invalid_credential"
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindTransientNetwork:
		return "transient_network"
	case KindPoolExhausted:
		return "pool_exhausted"
	case KindUpstreamAPI:
		return "upstream_api"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// ErrRetriesExhausted is wrapped by the error returned once every attempt
// allowed for a request has failed.
var ErrRetriesExhausted = errors.New("retries exhausted")

// APIError is the typed failure of one upstream request.
type APIError struct {
	Kind       ErrorKind
	Status     int
	StatusText string
	Message    string
	Target     string

	err error
}

func (e *APIError) Error() string {
	switch {
	case e.Status != 0:
		return fmt.Sprintf("github %s %s: %d %s: %s", e.Kind, e.Target, e.Status, e.StatusText, e.Message)
	case e.err != nil:
		return fmt.Sprintf("github %s %s: %v", e.Kind, e.Target, e.err)
	default:
		return fmt.Sprintf("github %s %s: %s", e.Kind, e.Target, e.Message)
	}
}

func (e *APIError) Unwrap() error { return e.err }

// kindForStatus maps a non-success HTTP status to its error kind.
func kindForStatus(status int) ErrorKind {
	switch status {
	case http.StatusUnauthorized:
		return KindInvalidCredential
	case http.StatusForbidden:
		return KindQuotaExceeded
	default:
		return KindUpstreamAPI
	}
}

// isTransientNetwork reports whether err is a failure worth retrying after a
// pause: a reset connection, a timeout or a DNS lookup failure.
func isTransientNetwork(err error) bool {
	if errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
