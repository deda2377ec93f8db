package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/tulparlabs/agentrun/llm"
)

const instrumentationName = "github.com/tulparlabs/agentrun/llm"

// LLMInstruments holds the OTel instruments for provider calls. They
// record through the global meter provider, so they are inert until
// Init has installed the SDK and resume exporting after it does.
type LLMInstruments struct {
	requestTotal    metric.Int64Counter
	errorTotal      metric.Int64Counter
	tokenTotal      metric.Int64Counter
	requestDuration metric.Float64Histogram
	tokenCount      metric.Int64Histogram
}

// NewLLMInstruments registers the provider-call instruments.
func NewLLMInstruments() (*LLMInstruments, error) {
	meter := otel.Meter(instrumentationName)
	m := &LLMInstruments{}

	var err error
	m.requestTotal, err = meter.Int64Counter("llm.request.total",
		metric.WithDescription("Total number of LLM requests"),
		metric.WithUnit("{request}"))
	if err != nil {
		return nil, err
	}
	m.errorTotal, err = meter.Int64Counter("llm.error.total",
		metric.WithDescription("Total number of failed LLM requests"),
		metric.WithUnit("{error}"))
	if err != nil {
		return nil, err
	}
	m.tokenTotal, err = meter.Int64Counter("llm.token.total",
		metric.WithDescription("Total tokens consumed"),
		metric.WithUnit("{token}"))
	if err != nil {
		return nil, err
	}
	m.requestDuration, err = meter.Float64Histogram("llm.request.duration",
		metric.WithDescription("Request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30))
	if err != nil {
		return nil, err
	}
	m.tokenCount, err = meter.Int64Histogram("llm.token.count",
		metric.WithDescription("Token count per request"),
		metric.WithUnit("{token}"),
		metric.WithExplicitBucketBoundaries(100, 500, 1000, 2000, 4000, 8000, 16000, 32000))
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Observer adapts the instruments to the llm client's observer seam.
func (m *LLMInstruments) Observer() llm.Observer {
	return func(provider, model string, success bool, elapsed time.Duration, usage llm.Usage) {
		ctx := context.Background()

		status := "success"
		if !success {
			status = "error"
		}
		attrs := metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("model", model),
			attribute.String("status", status))

		m.requestTotal.Add(ctx, 1, attrs)
		m.requestDuration.Record(ctx, elapsed.Seconds(), attrs)

		if !success {
			m.errorTotal.Add(ctx, 1, metric.WithAttributes(
				attribute.String("provider", provider),
				attribute.String("model", model)))
		}

		if usage.TotalTokens > 0 {
			m.tokenTotal.Add(ctx, int64(usage.PromptTokens), metric.WithAttributes(
				attribute.String("provider", provider),
				attribute.String("model", model),
				attribute.String("type", "prompt")))
			m.tokenTotal.Add(ctx, int64(usage.CompletionTokens), metric.WithAttributes(
				attribute.String("provider", provider),
				attribute.String("model", model),
				attribute.String("type", "completion")))
			m.tokenCount.Record(ctx, int64(usage.TotalTokens), attrs)
		}
	}
}
