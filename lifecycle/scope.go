package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"

	opentracing "github.com/opentracing/opentracing-go"
	otlog "github.com/opentracing/opentracing-go/log"
	"github.com/sirupsen/logrus"

	"github.com/stripe/requesttrace/propagation"
)

// State is where a unit of work's span is in its life.
type State int

const (
	Uninitialized State = iota
	Active
	Finished
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Active:
		return "active"
	case Finished:
		return "finished"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ErrFinished is returned by mutations on a Scope whose span has already
// been finished.
var ErrFinished = errors.New("span already finished")

// Scope owns the single span of one unit of work. All methods are safe
// for concurrent use and safe to call on a nil *Scope, which is what a
// unit of work gets when tracing is off.
type Scope struct {
	tracer     Tracer
	name       string
	propagator propagation.Propagator
	log        *logrus.Entry
	metrics    *Metrics

	mu    sync.Mutex
	span  opentracing.Span
	state State
}

type scopeKey struct{}

// ContextWithScope returns a copy of ctx carrying s.
func ContextWithScope(ctx context.Context, s *Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

// FromContext returns the unit of work's scope, or nil.
func FromContext(ctx context.Context) *Scope {
	if ctx == nil {
		return nil
	}
	s, _ := ctx.Value(scopeKey{}).(*Scope)
	return s
}

// Name is the span's operation name.
func (s *Scope) Name() string {
	if s == nil {
		return ""
	}
	return s.name
}

// State reports the span's state. A nil Scope is Uninitialized.
func (s *Scope) State() State {
	if s == nil {
		return Uninitialized
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SpanContext returns the span's context, or nil without a span.
func (s *Scope) SpanContext() opentracing.SpanContext {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.span == nil {
		return nil
	}
	return s.span.Context()
}

// Propagator returns the outbound propagator fixed when the scope began.
func (s *Scope) Propagator() propagation.Propagator {
	if s == nil {
		return propagation.Propagator{}
	}
	return s.propagator
}

// SetTag sets a tag on the span.
func (s *Scope) SetTag(key string, value interface{}) error {
	return s.mutate(func(span opentracing.Span) {
		span.SetTag(key, value)
	})
}

// Log appends a structured log entry to the span.
func (s *Scope) Log(fields ...otlog.Field) error {
	return s.mutate(func(span opentracing.Span) {
		span.LogFields(fields...)
	})
}

// LogKV appends a log entry built from alternating keys and values.
func (s *Scope) LogKV(alternatingKeyValues ...interface{}) error {
	return s.mutate(func(span opentracing.Span) {
		span.LogKV(alternatingKeyValues...)
	})
}

func (s *Scope) mutate(fn func(opentracing.Span)) (err error) {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Active {
		s.metrics.DroppedMutations.Inc()
		return ErrFinished
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("span mutation panicked: %v", r)
		}
	}()
	fn(s.span)
	return nil
}

// End finishes the span and flushes the tracer. Only the first call has
// any effect; the flush happens outside the scope's lock so that slow
// collectors never hold up late mutators.
func (s *Scope) End() {
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.state != Active {
		s.mu.Unlock()
		return
	}
	s.state = Finished
	s.finish()
	s.mu.Unlock()

	if err := s.flush(); err != nil {
		s.metrics.FlushErrors.Inc()
		s.log.WithError(err).WithField("span", s.name).Debug("Could not flush tracer")
	}
}

func (s *Scope) finish() {
	defer func() {
		if r := recover(); r != nil {
			s.log.WithField("panic", r).Debug("Tracer panicked finishing span")
		}
	}()
	s.span.Finish()
}

func (s *Scope) flush() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("flush panicked: %v", r)
		}
	}()
	return s.tracer.Flush()
}
