package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheck(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		want      int
		wantError string
	}{
		{"webhook mode", http.StatusOK, `{"status":"ok","mode":"webhook_primary","time":"2026-03-01T12:00:00Z"}`, 0, ""},
		{"temporary polling", http.StatusOK, `{"status":"ok","mode":"temporary_polling"}`, 0, ""},
		{"gate not initialized", http.StatusOK, `{"status":"ok","mode":""}`, 1, `delivery mode ""`},
		{"unknown mode", http.StatusOK, `{"status":"ok","mode":"carrier_pigeon"}`, 1, "carrier_pigeon"},
		{"not ok", http.StatusOK, `{"status":"degraded","mode":"polling_primary"}`, 1, `status "degraded"`},
		{"server error", http.StatusServiceUnavailable, `{}`, 1, "status 503"},
		{"malformed body", http.StatusOK, `<html>`, 1, "decoding health response"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/api/v1/health", r.URL.Path)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			t.Cleanup(srv.Close)

			var stdout, stderr bytes.Buffer
			got := check(srv.URL+"/api/v1/health", &stdout, &stderr)

			assert.Equal(t, tt.want, got)
			if tt.wantError != "" {
				assert.Contains(t, stderr.String(), tt.wantError)
			} else {
				assert.Empty(t, stderr.String())
			}
		})
	}
}

func TestCheck_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL + "/api/v1/health"
	srv.Close()

	var stdout, stderr bytes.Buffer
	assert.Equal(t, 1, check(url, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "unhealthy")
}

func TestNormalizeAddr(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"", "127.0.0.1:8080"},
		{"0.0.0.0:9090", "127.0.0.1:9090"},
		{":9090", "127.0.0.1:9090"},
		{"[::]:9090", "127.0.0.1:9090"},
		{"10.0.0.5:8080", "10.0.0.5:8080"},
		{"not-an-addr", "127.0.0.1:8080"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizeAddr(tt.raw), tt.raw)
	}
}
