// Command healthcheck probes the server's liveness endpoint for container
// health checks. It exits non-zero unless /healthz answers 200.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

func healthURL() string {
	if u := os.Getenv("HEALTHCHECK_URL"); u != "" {
		return u
	}
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr + "/healthz"
}

func probe(ctx context.Context, url string) bool {
	client := &http.Client{Timeout: 3 * time.Second}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	return resp.StatusCode == http.StatusOK
}

func main() {
	if !probe(context.Background(), healthURL()) {
		os.Exit(1)
	}
}
