package xref

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jward/xref/internal/store"
)

var tracer = otel.Tracer("xref")

var (
	filesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xref_files_processed_total",
		Help: "Files extracted, by result",
	}, []string{"result"})

	scanDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "xref_scan_duration_seconds",
		Help:    "Repository scan duration, by kind",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
	}, []string{"kind"})

	storeEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xref_symbol_store_events_total",
		Help: "Tiered symbol store events",
	}, []string{"event"})

	graphUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xref_graph_updates_total",
		Help: "Graph manager passes, by outcome",
	}, []string{"outcome"})

	toolCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xref_tool_calls_total",
		Help: "Tool invocations, by tool and error kind",
	}, []string{"tool", "result"})
)

// Graph update outcomes.
const (
	outcomeRebuilt   = "rebuilt"
	outcomeUpdated   = "updated"
	outcomeUnchanged = "unchanged"
	outcomeFailed    = "failed"
)

// StoreMetricsHook feeds Tiered store events into the
// xref_symbol_store_events_total counter.
func StoreMetricsHook() store.TieredOption {
	return store.WithEventHook(func(event string) {
		storeEvents.WithLabelValues(event).Inc()
	})
}

func recordFileResult(err error) {
	if err != nil {
		filesProcessed.WithLabelValues("failure").Inc()
		return
	}
	filesProcessed.WithLabelValues("success").Inc()
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
