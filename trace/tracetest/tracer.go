package tracetest

import (
	"sync"

	"github.com/opentracing/opentracing-go/mocktracer"

	"github.com/stripe/requesttrace/propagation"
)

// Tracer is an in-memory tracer for tests. It records finished spans
// like mocktracer does, understands propagation.Format and counts how
// often it was flushed.
type Tracer struct {
	*mocktracer.MockTracer

	mutex    sync.Mutex
	flushes  int
	flushErr error
}

// New constructs a Tracer with the X-TRACE codec registered.
func New() *Tracer {
	mt := mocktracer.New()
	mt.RegisterInjector(propagation.Format, codec{})
	mt.RegisterExtractor(propagation.Format, codec{})
	return &Tracer{MockTracer: mt}
}

// Flush counts the flush and returns the configured flush error.
func (t *Tracer) Flush() error {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.flushes++
	return t.flushErr
}

// Flushes returns how many times Flush was called.
func (t *Tracer) Flushes() int {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.flushes
}

// FailFlushes makes every subsequent Flush return err.
func (t *Tracer) FailFlushes(err error) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.flushErr = err
}

// Header returns the X-TRACE value that a child of sc would receive.
func Header(sc mocktracer.MockSpanContext) string {
	return propagation.Encode(WireContext(sc))
}

// WireContext converts a mock span context to its propagated form. Mock
// IDs are small positive ints, so they only occupy the low word.
func WireContext(sc mocktracer.MockSpanContext) propagation.SpanContext {
	c := propagation.SpanContext{
		TraceIDLow: uint64(sc.TraceID),
		SpanID:     uint64(sc.SpanID),
	}
	if sc.Sampled {
		c.Flags = propagation.FlagSampled
	}
	return c
}

type codec struct{}

func (codec) Inject(sc mocktracer.MockSpanContext, carrier interface{}) error {
	return propagation.Write(WireContext(sc), carrier)
}

func (codec) Extract(carrier interface{}) (mocktracer.MockSpanContext, error) {
	c, err := propagation.Read(carrier)
	if err != nil {
		return mocktracer.MockSpanContext{}, err
	}
	return mocktracer.MockSpanContext{
		TraceID: int(c.TraceIDLow),
		SpanID:  int(c.SpanID),
		Sampled: c.Sampled(),
	}, nil
}
