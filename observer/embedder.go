package observer

import (
	"context"
	"time"

	strata "github.com/davrell/strata"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservedEmbedder wraps a strata.Embedder with OTEL instrumentation.
type ObservedEmbedder struct {
	inner strata.Embedder
	inst  *Instruments
}

var _ strata.Embedder = (*ObservedEmbedder)(nil)

// WrapEmbedder returns an instrumented embedder.
func WrapEmbedder(inner strata.Embedder, inst *Instruments) *ObservedEmbedder {
	return &ObservedEmbedder{inner: inner, inst: inst}
}

func (o *ObservedEmbedder) Name() string    { return o.inner.Name() }
func (o *ObservedEmbedder) Dimensions() int { return o.inner.Dimensions() }

func (o *ObservedEmbedder) Embed(ctx context.Context, texts []string) ([]strata.Embedding, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "embedding.embed", trace.WithAttributes(
		AttrEmbedProvider.String(o.inner.Name()),
		AttrEmbedTextCount.Int(len(texts)),
		AttrEmbedDims.Int(o.inner.Dimensions()),
	))
	defer span.End()
	start := time.Now()

	result, err := o.inner.Embed(ctx, texts)

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	attrs := metric.WithAttributes(
		AttrEmbedProvider.String(o.inner.Name()),
	)

	o.inst.EmbedRequests.Add(ctx, 1, metric.WithAttributes(
		AttrEmbedProvider.String(o.inner.Name()),
		attribute.String("status", status),
	))
	o.inst.EmbedTexts.Add(ctx, int64(len(texts)), attrs)
	o.inst.EmbedDuration.Record(ctx, durationMs, attrs)

	// Structured log
	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue("embedding completed"))
	rec.AddAttributes(
		otellog.String("embedding.provider", o.inner.Name()),
		otellog.Int("embedding.text_count", len(texts)),
		otellog.Float64("embedding.duration_ms", durationMs),
		otellog.String("status", status),
	)
	o.inst.Logger.Emit(ctx, rec)

	return result, err
}
