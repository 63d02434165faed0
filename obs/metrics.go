package obs

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	metricsOnce      sync.Once
	requestCounter   metric.Int64Counter
	errorCounter     metric.Int64Counter
	latencyHistogram metric.Float64Histogram
	pollTickCounter  metric.Int64Counter

	bgOnce sync.Once
	bgCtx  context.Context
)

type meter interface {
	Int64Counter(string, ...metric.Int64CounterOption) (metric.Int64Counter, error)
	Float64Histogram(string, ...metric.Float64HistogramOption) (metric.Float64Histogram, error)
}

func installMetrics(m meter) {
	metricsOnce.Do(func() {
		if m == nil {
			return
		}
		requestCounter, _ = m.Int64Counter("bunkscan.requests", metric.WithDescription("Backend requests issued"))
		errorCounter, _ = m.Int64Counter("bunkscan.request.errors", metric.WithDescription("Backend requests that failed"))
		latencyHistogram, _ = m.Float64Histogram("bunkscan.request.latency_ms", metric.WithDescription("Backend request latency (ms)"))
		pollTickCounter, _ = m.Int64Counter("bunkscan.poll.ticks", metric.WithDescription("Job status poll ticks"))
	})
}

func recordRequest(attrs ...attribute.KeyValue) {
	if requestCounter != nil {
		requestCounter.Add(backgroundContext(), 1, metric.WithAttributes(attrs...))
	}
}

func recordError(attrs ...attribute.KeyValue) {
	if errorCounter != nil {
		errorCounter.Add(backgroundContext(), 1, metric.WithAttributes(attrs...))
	}
}

func recordLatency(ms float64, attrs ...attribute.KeyValue) {
	if latencyHistogram != nil {
		latencyHistogram.Record(backgroundContext(), ms, metric.WithAttributes(attrs...))
	}
}

// RecordPollTick counts one status poll against a job.
func RecordPollTick(attrs ...attribute.KeyValue) {
	if pollTickCounter != nil {
		pollTickCounter.Add(backgroundContext(), 1, metric.WithAttributes(attrs...))
	}
}

func backgroundContext() context.Context {
	bgOnce.Do(func() {
		bgCtx = context.Background()
	})
	return bgCtx
}
