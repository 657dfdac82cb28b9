package observer

import (
	"context"
	"time"

	strata "github.com/davrell/strata"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservedIndex wraps a strata.Index with OTEL instrumentation. It keeps the
// inner index's type name so registry lookups are unaffected.
type ObservedIndex struct {
	inner strata.Index
	inst  *Instruments
}

var _ strata.Index = (*ObservedIndex)(nil)

// WrapIndex returns an instrumented index.
func WrapIndex(inner strata.Index, inst *Instruments) *ObservedIndex {
	return &ObservedIndex{inner: inner, inst: inst}
}

func (o *ObservedIndex) Name() string { return o.inner.Name() }

func (o *ObservedIndex) Ingest(ctx context.Context, e strata.Entry) error {
	ctx, span := o.inst.Tracer.Start(ctx, "index.ingest", trace.WithAttributes(
		AttrIndexType.String(o.inner.Name()),
		AttrDocumentID.String(e.DocumentID),
	))
	defer span.End()

	start := time.Now()
	err := o.inner.Ingest(ctx, e)
	o.record(ctx, span, "ingest", 1, start, err)
	return err
}

func (o *ObservedIndex) Delete(ctx context.Context, documentID string) error {
	ctx, span := o.inst.Tracer.Start(ctx, "index.delete", trace.WithAttributes(
		AttrIndexType.String(o.inner.Name()),
		AttrDocumentID.String(documentID),
	))
	defer span.End()

	start := time.Now()
	err := o.inner.Delete(ctx, documentID)
	o.record(ctx, span, "delete", 1, start, err)
	return err
}

func (o *ObservedIndex) DeleteMany(ctx context.Context, documentIDs []string) error {
	ctx, span := o.inst.Tracer.Start(ctx, "index.delete_many", trace.WithAttributes(
		AttrIndexType.String(o.inner.Name()),
		AttrDocCount.Int(len(documentIDs)),
	))
	defer span.End()

	start := time.Now()
	err := o.inner.DeleteMany(ctx, documentIDs)
	o.record(ctx, span, "delete_many", len(documentIDs), start, err)
	return err
}

func (o *ObservedIndex) Search(ctx context.Context, q strata.Query, opts strata.SearchOptions) ([]strata.Hit, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "index.search", trace.WithAttributes(
		AttrIndexType.String(o.inner.Name()),
		AttrSearchLimit.Int(opts.EffectiveLimit()),
	))
	defer span.End()

	start := time.Now()
	hits, err := o.inner.Search(ctx, q, opts)

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(AttrSearchHitCount.Int(len(hits)))

	attrs := metric.WithAttributes(AttrIndexType.String(o.inner.Name()))
	o.inst.SearchRequests.Add(ctx, 1, metric.WithAttributes(
		AttrIndexType.String(o.inner.Name()),
		attribute.String("status", status),
	))
	o.inst.SearchDuration.Record(ctx, durationMs, attrs)
	o.inst.SearchHits.Record(ctx, int64(len(hits)), attrs)

	return hits, err
}

func (o *ObservedIndex) record(ctx context.Context, span trace.Span, op string, n int, start time.Time, err error) {
	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	o.inst.IndexOps.Add(ctx, int64(n), metric.WithAttributes(
		AttrIndexType.String(o.inner.Name()),
		AttrIndexOp.String(op),
		attribute.String("status", status),
	))
	o.inst.IndexDuration.Record(ctx, durationMs, metric.WithAttributes(
		AttrIndexType.String(o.inner.Name()),
		AttrIndexOp.String(op),
	))
}
