package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestMetricsInitialized(t *testing.T) {
	Init()

	if TaskOperations == nil {
		t.Error("TaskOperations not initialized")
	}
	if NotionRequests == nil || NotionRequestDuration == nil {
		t.Error("Notion request metrics not initialized")
	}
	if OverlayBuildDuration == nil {
		t.Error("OverlayBuildDuration histogram not initialized")
	}
	if NotionCircuitOpen == nil {
		t.Error("NotionCircuitOpen gauge not initialized")
	}
}

func TestObserveNotionCall(t *testing.T) {
	Init()

	before := testutil.ToFloat64(NotionRequests.WithLabelValues("pages.create", "ok"))
	ObserveNotionCall("pages.create", "ok", 120*time.Millisecond)
	ObserveNotionCall("pages.create", "ok", 80*time.Millisecond)
	after := testutil.ToFloat64(NotionRequests.WithLabelValues("pages.create", "ok"))
	if after-before != 2 {
		t.Errorf("notion_requests_total delta = %v, want 2", after-before)
	}
}

func TestCountHelpers(t *testing.T) {
	Init()

	tests := []struct {
		name    string
		counter prometheus.Counter
		inc     func()
	}{
		{"task op", TaskOperations.WithLabelValues("submit", "ok"), func() { CountTaskOp("submit", "ok") }},
		{"content", ContentRejections, CountContentRejection},
		{"reconcile", ReconcileRuns.WithLabelValues("staged"), func() { CountReconcile("staged") }},
		{"overlay", OverlayBuilds.WithLabelValues("error"), func() { CountOverlayBuild("error") }},
		{"chat", ChatCommands.WithLabelValues("!task", "ok"), func() { CountChatCommand("!task", "ok") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := testutil.ToFloat64(tt.counter)
			tt.inc()
			if got := testutil.ToFloat64(tt.counter) - before; got != 1 {
				t.Errorf("delta = %v, want 1", got)
			}
		})
	}
}

func TestAddMigrationRecordsIgnoresZero(t *testing.T) {
	Init()

	c := MigrationRecords.WithLabelValues("updated")
	before := testutil.ToFloat64(c)
	AddMigrationRecords("updated", 0)
	AddMigrationRecords("updated", 3)
	if got := testutil.ToFloat64(c) - before; got != 3 {
		t.Errorf("delta = %v, want 3", got)
	}
}

func TestTimeFuncRecordsObservation(t *testing.T) {
	Init()

	testHistogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "test_duration_seconds",
		Help:    "Test duration",
		Buckets: prometheus.DefBuckets,
	})
	prometheus.MustRegister(testHistogram)
	defer prometheus.Unregister(testHistogram)

	executed := false
	duration := TimeFunc(testHistogram, func() {
		time.Sleep(10 * time.Millisecond)
		executed = true
	})

	if !executed {
		t.Error("TimeFunc did not execute provided function")
	}
	if duration < 10*time.Millisecond {
		t.Errorf("TimeFunc duration = %v, want >= 10ms", duration)
	}

	metric := &dto.Metric{}
	if err := testHistogram.Write(metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	if metric.Histogram == nil {
		t.Fatal("Histogram metric is nil")
	}
	if metric.Histogram.GetSampleCount() == 0 {
		t.Error("TimeFunc did not record observation in histogram")
	}
}

func TestNotionCircuitGauge(t *testing.T) {
	Init()

	SetNotionCircuit(true)
	if got := testutil.ToFloat64(NotionCircuitOpen); got != 1 {
		t.Errorf("gauge = %v, want 1", got)
	}
	SetNotionCircuit(false)
	if got := testutil.ToFloat64(NotionCircuitOpen); got != 0 {
		t.Errorf("gauge = %v, want 0", got)
	}
}

func TestCorrelation(t *testing.T) {
	ctx := context.Background()
	if got := GetCorrelation(ctx); got != "" {
		t.Errorf("GetCorrelation(empty) = %q", got)
	}
	ctx = WithCorrelation(ctx, "abc123")
	if got := GetCorrelation(ctx); got != "abc123" {
		t.Errorf("GetCorrelation = %q, want abc123", got)
	}
	if LoggerWithCorr(ctx) == nil {
		t.Error("LoggerWithCorr returned nil")
	}
}
