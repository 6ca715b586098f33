package server

import (
	"fmt"
	"net/http"

	"github.com/onnwee/task-overlay/db"
)

// HandleHealthz responds to liveness probe requests by checking database connectivity.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		if err := h.db.PingContext(r.Context()); err != nil {
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz responds to readiness probe requests with detailed system checks.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	type check struct {
		name string
		fn   func() error
	}
	var checks []check
	if h.db != nil {
		checks = append(checks,
			check{"database", func() error { return h.db.PingContext(r.Context()) }},
			check{"migrations", func() error {
				_, dirty, err := db.SchemaVersion(r.Context(), h.db)
				if err != nil {
					return err
				}
				if dirty {
					return fmt.Errorf("schema migrations are dirty")
				}
				return nil
			}},
		)
	}
	if h.breakers != nil {
		checks = append(checks, check{"notion_circuit", func() error {
			if n := h.breakers.OpenBreakers(); n > 0 {
				return fmt.Errorf("%d notion circuit breaker(s) open", n)
			}
			return nil
		}})
	}

	for _, c := range checks {
		if err := c.fn(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":       "not_ready",
				"failed_check": c.name,
				"error":        err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
