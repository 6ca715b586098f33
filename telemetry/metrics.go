// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	TaskOperations    *prometheus.CounterVec // labels: operation, outcome
	ContentRejections prometheus.Counter
	NotionRequests    *prometheus.CounterVec // labels: operation, outcome
	ReconcileRuns     *prometheus.CounterVec // labels: outcome
	MigrationRecords  *prometheus.CounterVec // labels: result
	OverlayBuilds     *prometheus.CounterVec // labels: outcome
	ChatCommands      *prometheus.CounterVec // labels: command, outcome
	SyncCycles        prometheus.Counter

	// Histograms (seconds)
	NotionRequestDuration *prometheus.HistogramVec // labels: operation
	OverlayBuildDuration  prometheus.Observer
	SyncDuration          prometheus.Observer

	// Gauges
	NotionCircuitOpen  prometheus.Gauge // 1=open,0=closed
	ConfiguredChannels prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		TaskOperations = promauto.NewCounterVec(prometheus.CounterOpts{Name: "task_operations_total", Help: "Task operations by operation and outcome"}, []string{"operation", "outcome"})
		ContentRejections = promauto.NewCounter(prometheus.CounterOpts{Name: "task_content_rejections_total", Help: "Submissions refused by the content filter"})
		NotionRequests = promauto.NewCounterVec(prometheus.CounterOpts{Name: "notion_requests_total", Help: "Notion API calls by operation and outcome"}, []string{"operation", "outcome"})
		ReconcileRuns = promauto.NewCounterVec(prometheus.CounterOpts{Name: "schema_reconcile_runs_total", Help: "Schema reconciliation runs by outcome"}, []string{"outcome"})
		MigrationRecords = promauto.NewCounterVec(prometheus.CounterOpts{Name: "migration_records_total", Help: "Records visited by migration sweeps by result"}, []string{"result"})
		OverlayBuilds = promauto.NewCounterVec(prometheus.CounterOpts{Name: "overlay_builds_total", Help: "Overlay read-model builds by outcome"}, []string{"outcome"})
		ChatCommands = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chat_commands_total", Help: "Chat commands handled by command and outcome"}, []string{"command", "outcome"})
		SyncCycles = promauto.NewCounter(prometheus.CounterOpts{Name: "schema_sync_cycles_total", Help: "Background schema sync cycles"})
		NotionRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{Name: "notion_request_duration_seconds", Help: "Notion API call duration seconds", Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}}, []string{"operation"})
		OverlayBuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "overlay_build_duration_seconds", Help: "Overlay read-model build duration seconds", Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10}})
		SyncDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "schema_sync_duration_seconds", Help: "Schema sync cycle duration seconds", Buckets: []float64{1, 5, 15, 30, 60, 120, 300}})
		NotionCircuitOpen = promauto.NewGauge(prometheus.GaugeOpts{Name: "notion_circuit_open", Help: "Notion circuit breaker open=1 closed=0"})
		ConfiguredChannels = promauto.NewGauge(prometheus.GaugeOpts{Name: "configured_channels", Help: "Channels with a stored configuration"})
	})
}

// SetNotionCircuit sets the breaker gauge to 1 if open else 0.
func SetNotionCircuit(open bool) {
	if NotionCircuitOpen == nil {
		return
	}
	if open {
		NotionCircuitOpen.Set(1)
	} else {
		NotionCircuitOpen.Set(0)
	}
}

// ObserveNotionCall records one Notion API call.
func ObserveNotionCall(op, outcome string, d time.Duration) {
	if NotionRequests != nil {
		NotionRequests.WithLabelValues(op, outcome).Inc()
	}
	if NotionRequestDuration != nil {
		NotionRequestDuration.WithLabelValues(op).Observe(d.Seconds())
	}
}

// CountTaskOp increments the task operation counter.
func CountTaskOp(op, outcome string) {
	if TaskOperations != nil {
		TaskOperations.WithLabelValues(op, outcome).Inc()
	}
}

// CountContentRejection increments the content filter counter.
func CountContentRejection() {
	if ContentRejections != nil {
		ContentRejections.Inc()
	}
}

// CountReconcile records a reconcile run.
func CountReconcile(outcome string) {
	if ReconcileRuns != nil {
		ReconcileRuns.WithLabelValues(outcome).Inc()
	}
}

// AddMigrationRecords adds n to the migration counter for result.
func AddMigrationRecords(result string, n int) {
	if MigrationRecords != nil && n > 0 {
		MigrationRecords.WithLabelValues(result).Add(float64(n))
	}
}

// CountOverlayBuild records an overlay build outcome.
func CountOverlayBuild(outcome string) {
	if OverlayBuilds != nil {
		OverlayBuilds.WithLabelValues(outcome).Inc()
	}
}

// CountChatCommand records a handled chat command.
func CountChatCommand(cmd, outcome string) {
	if ChatCommands != nil {
		ChatCommands.WithLabelValues(cmd, outcome).Inc()
	}
}

// SetConfiguredChannels records the number of stored channel configs.
func SetConfiguredChannels(n int) {
	if ConfiguredChannels != nil {
		ConfiguredChannels.Set(float64(n))
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
