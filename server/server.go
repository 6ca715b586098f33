// Package server exposes the HTTP API: the extension's task and setup
// routes, operator sweeps, probes, metrics and the bot authorization flow.
// Requests carry correlation IDs into their contexts for consistent logging.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/task-overlay/telemetry"
)

// ExtensionVerifier authenticates extension requests and stores the caller's
// principal on the request context.
type ExtensionVerifier interface {
	Middleware(next http.Handler) http.Handler
}

// NewMux returns the HTTP handler with all routes.
// The provided context bounds the rate limiter's cleanup goroutine.
func NewMux(ctx context.Context, opts Options) http.Handler {
	authCfg := loadAuthConfig()
	limiter := newIPRateLimiter(ctx, loadRateLimiterConfig())
	corsCfg := loadCORSConfig()

	h := NewHandlers(ctx, opts)
	r := mux.NewRouter()

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", h.HandleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", h.HandleReadyz).Methods(http.MethodGet)

	r.HandleFunc("/auth/twitch/start", h.HandleTwitchOAuthStart).Methods(http.MethodGet)
	r.HandleFunc("/auth/twitch/callback", h.HandleTwitchOAuthCallback).Methods(http.MethodGet)

	ext := func(path string, fn http.HandlerFunc, method string) {
		r.Handle(path, opts.Verifier.Middleware(fn)).Methods(method)
	}
	limited := func(fn http.HandlerFunc) http.HandlerFunc {
		return rateLimitMiddleware(fn, limiter).ServeHTTP
	}
	ext("/tasks", h.HandleOverlayTasks, http.MethodGet)
	ext("/tasks", limited(h.HandleSubmitTask), http.MethodPost)
	ext("/tasks/mine", h.HandleMyTask, http.MethodGet)
	ext("/tasks/mine/complete", h.HandleMyCompletion, http.MethodPut)
	ext("/tasks/pending", h.HandlePendingTasks, http.MethodGet)
	ext("/tasks/{id}/approve", h.HandleApproveTask, http.MethodPut)
	ext("/tasks/{target}/reject", h.HandleRejectTask, http.MethodPut)
	ext("/tasks/{id}/complete", h.HandleTaskCompletion, http.MethodPut)
	ext("/setup", limited(h.HandleSetup), http.MethodPost)
	ext("/setup/status", h.HandleSetupStatus, http.MethodGet)
	ext("/setup/test", limited(h.HandleSetupTest), http.MethodPost)

	admin := r.PathPrefix("/admin").Subrouter()
	admin.Use(func(next http.Handler) http.Handler {
		return adminAuth(rateLimitMiddleware(next, limiter), authCfg)
	})
	admin.HandleFunc("/monitor", h.HandleAdminMonitor).Methods(http.MethodGet)
	admin.HandleFunc("/channels/{channel}/sync", h.HandleAdminSync).Methods(http.MethodPost)
	admin.HandleFunc("/channels/{channel}/sweeps/prohibited", h.HandleAdminRejectProhibited).Methods(http.MethodPost)
	admin.HandleFunc("/channels/{channel}/sweeps/approve", h.HandleAdminApprovePending).Methods(http.MethodPost)

	handler := http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		corr := req.Header.Get("X-Correlation-ID")
		if corr == "" {
			corr = uuid.New().String()
		}
		ctx := telemetry.WithCorrelation(req.Context(), corr)
		w.Header().Set("X-Correlation-ID", corr)

		ctx, span := telemetry.StartSpan(ctx, "http-server", req.Method+" "+req.URL.Path,
			telemetry.HTTPMethodAttr(req.Method),
			telemetry.HTTPRouteAttr(req.URL.Path),
		)
		defer span.End()

		telemetry.LoggerWithCorr(ctx).Debug("request start", slog.String("method", req.Method), slog.String("path", req.URL.Path), slog.String("component", "http"))

		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		r.ServeHTTP(rec, req.WithContext(ctx))
		telemetry.SetSpanHTTPStatus(span, rec.statusCode)
	})
	return withCORSConfig(handler, corsCfg)
}

// statusRecorder wraps ResponseWriter to capture status code
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

// Flush implements http.Flusher if the underlying ResponseWriter supports it
func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Start runs the HTTP server and shuts down gracefully on context cancellation.
func Start(ctx context.Context, addr string, opts Options) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      NewMux(ctx, opts),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	slog.Info("http server listening", slog.String("addr", addr), slog.String("component", "http"))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("http server error", slog.Any("err", err))
		return err
	}
	return nil
}
