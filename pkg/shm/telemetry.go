package shm

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/srediag/shmring/pkg/shm"

var noopTracer = tracenoop.NewTracerProvider().Tracer(instrumentationName)

func startSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if tracer == nil {
		tracer = noopTracer
	}
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// ringInstruments records ring activity on an OTel meter. The hot path
// only adds to counters with attribute sets built here once.
type ringInstruments struct {
	enqueued metric.Int64Counter
	dequeued metric.Int64Counter
	rejected metric.Int64Counter

	ringAttrs    metric.MeasurementOption
	fullAttrs    metric.MeasurementOption
	arenaAttrs   metric.MeasurementOption
	registration metric.Registration
}

func newRingInstruments(meter metric.Meter, r *Ring) (*ringInstruments, error) {
	ring := attribute.String("shm.ring.name", r.Name())
	ri := &ringInstruments{
		ringAttrs:  metric.WithAttributeSet(attribute.NewSet(ring)),
		fullAttrs:  metric.WithAttributeSet(attribute.NewSet(ring, attribute.String("reason", rejectFull))),
		arenaAttrs: metric.WithAttributeSet(attribute.NewSet(ring, attribute.String("reason", rejectArena))),
	}

	var err error
	if ri.enqueued, err = meter.Int64Counter("shmring.ring.enqueued",
		metric.WithDescription("Messages accepted by Enqueue."), metric.WithUnit("{message}")); err != nil {
		return nil, err
	}
	if ri.dequeued, err = meter.Int64Counter("shmring.ring.dequeued",
		metric.WithDescription("Messages returned by Dequeue."), metric.WithUnit("{message}")); err != nil {
		return nil, err
	}
	if ri.rejected, err = meter.Int64Counter("shmring.ring.rejected",
		metric.WithDescription("Enqueue calls that returned false."), metric.WithUnit("{message}")); err != nil {
		return nil, err
	}
	size, err := meter.Int64ObservableGauge("shmring.ring.size",
		metric.WithDescription("Messages in flight."), metric.WithUnit("{message}"))
	if err != nil {
		return nil, err
	}
	ri.registration, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		if !r.closed.Load() {
			o.ObserveInt64(size, int64(r.Size()), ri.ringAttrs)
		}
		return nil
	}, size)
	if err != nil {
		return nil, err
	}
	return ri, nil
}

func (ri *ringInstruments) enqueue() {
	ri.enqueued.Add(context.Background(), 1, ri.ringAttrs)
}

func (ri *ringInstruments) dequeue() {
	ri.dequeued.Add(context.Background(), 1, ri.ringAttrs)
}

func (ri *ringInstruments) reject(reason string) {
	if reason == rejectFull {
		ri.rejected.Add(context.Background(), 1, ri.fullAttrs)
		return
	}
	ri.rejected.Add(context.Background(), 1, ri.arenaAttrs)
}

func (ri *ringInstruments) close() error {
	return ri.registration.Unregister()
}
