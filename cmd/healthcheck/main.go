// Command healthcheck probes a running gitwatch instance for container
// health checks. It exits 0 when the service answers and reports a known
// delivery mode.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/ericfisherdev/gitwatch/internal/domain/model"
)

const defaultAddr = "127.0.0.1:8080"

// healthResponse holds the fields of GET /api/v1/health the probe checks.
type healthResponse struct {
	Status string `json:"status"`
	Mode   string `json:"mode"`
}

func main() {
	addr := normalizeAddr(os.Getenv("GITWATCH_LISTEN_ADDR"))
	os.Exit(check(fmt.Sprintf("http://%s/api/v1/health", addr), os.Stdout, os.Stderr))
}

func check(url string, stdout, stderr io.Writer) int {
	client := &http.Client{Timeout: 2 * time.Second}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		fmt.Fprintf(stderr, "unhealthy: %v\n", err)
		return 1
	}

	resp, err := client.Do(req)
	if err != nil {
		fmt.Fprintf(stderr, "unhealthy: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(stderr, "unhealthy: status %d\n", resp.StatusCode)
		return 1
	}

	var health healthResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&health); err != nil {
		fmt.Fprintf(stderr, "unhealthy: decoding health response: %v\n", err)
		return 1
	}

	if health.Status != "ok" {
		fmt.Fprintf(stderr, "unhealthy: status %q\n", health.Status)
		return 1
	}

	switch model.DeliveryMode(health.Mode) {
	case model.DeliveryWebhookPrimary, model.DeliveryPollingPrimary, model.DeliveryTemporaryPolling:
	default:
		// An empty mode means the delivery gate never initialized.
		fmt.Fprintf(stderr, "unhealthy: delivery mode %q\n", health.Mode)
		return 1
	}

	fmt.Fprintf(stdout, "ok (%s)\n", health.Mode)
	return 0
}

// normalizeAddr ensures the healthcheck connects to loopback rather than the
// bind-all address. Docker containers bind 0.0.0.0 but the healthcheck runs
// inside the same container, so loopback is reachable and more correct.
func normalizeAddr(raw string) string {
	if raw == "" {
		return defaultAddr
	}

	host, port, err := net.SplitHostPort(raw)
	if err != nil {
		return defaultAddr
	}

	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}

	return net.JoinHostPort(host, port)
}
