package github

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	acceptDefault = "application/vnd.github+json"
	acceptBinary  = "application/octet-stream"
	apiVersion    = "2022-11-28"

	headerAPIVersion = "X-GitHub-Api-Version"
	headerRemaining  = "X-RateLimit-Remaining"
	headerReset      = "X-RateLimit-Reset"
)

// assetHosts serve release downloads and user content. They authenticate via
// signed URLs and must never see the API token.
var assetHosts = map[string]bool{
	"objects.githubusercontent.com":             true,
	"raw.githubusercontent.com":                 true,
	"github-releases.githubusercontent.com":     true,
	"user-images.githubusercontent.com":         true,
	"private-user-images.githubusercontent.com": true,
	"avatars.githubusercontent.com":             true,
}

func isAssetHost(u *url.URL) bool {
	return assetHosts[strings.ToLower(u.Hostname())]
}

// isBinaryTarget reports whether a request downloads an attachment, which
// answers with a redirect to a signed asset URL.
func isBinaryTarget(u *url.URL, explicit bool) bool {
	return explicit || strings.Contains(u.Path, "/releases/assets/")
}

// buildHeaders merges caller headers with the Accept, API version and
// authorization headers. A caller-supplied Accept is never overwritten.
func buildHeaders(caller http.Header, target *url.URL, token, previewAccept string, binary, preview bool) http.Header {
	h := caller.Clone()
	if h == nil {
		h = make(http.Header)
	}

	if h.Get("Accept") == "" {
		switch {
		case binary:
			h.Set("Accept", acceptBinary)
		case preview && previewAccept != "":
			h.Set("Accept", previewAccept)
		default:
			h.Set("Accept", acceptDefault)
		}
	}

	if h.Get(headerAPIVersion) == "" {
		h.Set(headerAPIVersion, apiVersion)
	}

	if token != "" && !isAssetHost(target) {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}

// rateLimitFrom reads the rate-limit window reported with a response. Missing
// or malformed headers yield zero remaining and the epoch as reset time.
func rateLimitFrom(h http.Header) (int, time.Time) {
	remaining, err := strconv.Atoi(h.Get(headerRemaining))
	if err != nil {
		remaining = 0
	}
	reset := time.Unix(0, 0).UTC()
	if secs, err := strconv.ParseInt(h.Get(headerReset), 10, 64); err == nil {
		reset = time.Unix(secs, 0).UTC()
	}
	return remaining, reset
}
