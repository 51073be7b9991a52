// Package observe provides OpenTelemetry metrics for the turn pipeline and a
// Prometheus bridge so they can be scraped from /metrics.
//
// Tests should use [NewMetrics] with their own [metric.MeterProvider] to
// avoid cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/sjawhar/tish"

// Metrics holds all metric instruments. All fields are safe for concurrent use.
type Metrics struct {
	// Stage latencies.
	STTDuration  metric.Float64Histogram
	LLMDuration  metric.Float64Histogram
	TTSDuration  metric.Float64Histogram
	TurnDuration metric.Float64Histogram

	// Turns counts completed turns by path ("generated", "crisis").
	Turns metric.Int64Counter

	// SafetyVerdicts counts classifier verdicts by severity.
	SafetyVerdicts metric.Int64Counter

	// FilteredReplies counts generated replies replaced by the safe fallback.
	FilteredReplies metric.Int64Counter

	// ProviderErrors counts engine failures by provider and kind.
	ProviderErrors metric.Int64Counter

	// ActiveListeners tracks live capture sessions.
	ActiveListeners metric.Int64UpDownCounter
}

var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&met.STTDuration, "tish.stt.duration", "Latency of batch transcription."},
		{&met.LLMDuration, "tish.llm.duration", "Latency of reply generation."},
		{&met.TTSDuration, "tish.tts.duration", "Latency of speech synthesis."},
		{&met.TurnDuration, "tish.turn.duration", "Latency from utterance to reply text."},
	}
	for _, h := range histograms {
		if *h.dst, err = m.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		); err != nil {
			return nil, err
		}
	}

	if met.Turns, err = m.Int64Counter("tish.turns",
		metric.WithDescription("Total completed turns by path."),
	); err != nil {
		return nil, err
	}
	if met.SafetyVerdicts, err = m.Int64Counter("tish.safety.verdicts",
		metric.WithDescription("Total safety verdicts by severity."),
	); err != nil {
		return nil, err
	}
	if met.FilteredReplies, err = m.Int64Counter("tish.safety.filtered_replies",
		metric.WithDescription("Total generated replies replaced by the safe fallback."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("tish.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.ActiveListeners, err = m.Int64UpDownCounter("tish.active_listeners",
		metric.WithDescription("Number of live capture sessions."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns a package-level instance bound to the global
// meter provider. Panics if instrument creation fails.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// The Record and Observe helpers are no-ops on a nil *Metrics so callers may
// leave metrics unset.

func (m *Metrics) ObserveSTT(ctx context.Context, start time.Time) {
	if m == nil {
		return
	}
	m.STTDuration.Record(ctx, time.Since(start).Seconds())
}

func (m *Metrics) ObserveLLM(ctx context.Context, start time.Time) {
	if m == nil {
		return
	}
	m.LLMDuration.Record(ctx, time.Since(start).Seconds())
}

func (m *Metrics) ObserveTTS(ctx context.Context, start time.Time) {
	if m == nil {
		return
	}
	m.TTSDuration.Record(ctx, time.Since(start).Seconds())
}

func (m *Metrics) ObserveTurn(ctx context.Context, start time.Time) {
	if m == nil {
		return
	}
	m.TurnDuration.Record(ctx, time.Since(start).Seconds())
}

func (m *Metrics) RecordTurn(ctx context.Context, path string) {
	if m == nil {
		return
	}
	m.Turns.Add(ctx, 1, metric.WithAttributes(attribute.String("path", path)))
}

func (m *Metrics) RecordVerdict(ctx context.Context, severity string) {
	if m == nil {
		return
	}
	m.SafetyVerdicts.Add(ctx, 1, metric.WithAttributes(attribute.String("severity", severity)))
}

func (m *Metrics) RecordFiltered(ctx context.Context) {
	if m == nil {
		return
	}
	m.FilteredReplies.Add(ctx, 1)
}

func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	if m == nil {
		return
	}
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

func (m *Metrics) ListenerStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveListeners.Add(ctx, 1)
}

func (m *Metrics) ListenerStopped(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveListeners.Add(ctx, -1)
}
