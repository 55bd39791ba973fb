package lifecycle

import (
	"context"
	"errors"
	"net/http"
	"strings"

	opentracing "github.com/opentracing/opentracing-go"
	"github.com/sirupsen/logrus"

	"github.com/stripe/requesttrace/propagation"
)

// ConsoleSpanName is the span name of every console invocation.
const ConsoleSpanName = "console"

// Tracer is the tracer a Manager starts spans on. It must support
// propagation.Format for Inject and Extract.
type Tracer interface {
	opentracing.Tracer
	Flush() error
}

// Manager begins and ends the span of each unit of work. A Manager
// without a tracer is disabled: every Begin returns a nil Scope and the
// context unchanged.
type Manager struct {
	tracer  Tracer
	log     *logrus.Entry
	metrics *Metrics
}

// NewManager creates a manager starting spans on tracer. A nil tracer
// disables tracing; a nil log or metrics is replaced by a default.
func NewManager(tracer Tracer, log *logrus.Entry, metrics *Metrics) *Manager {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if metrics == nil {
		metrics = unregisteredMetrics()
	}
	return &Manager{tracer: tracer, log: log, metrics: metrics}
}

// Enabled reports whether units of work get spans.
func (m *Manager) Enabled() bool {
	return m != nil && m.tracer != nil
}

// Metrics returns the counters the manager and its scopes update.
func (m *Manager) Metrics() *Metrics {
	if m == nil {
		return nil
	}
	return m.metrics
}

// Begin starts the span of a unit of work named name. If carrier holds a
// decodable trace header the span continues that trace; an absent or
// unreadable header starts a new one.
//
// The returned context carries both the Scope and the outbound
// propagator for the span, which are built together before either is
// visible. Begin never fails: if the tracer misbehaves, the unit of work
// simply runs untraced.
func (m *Manager) Begin(ctx context.Context, name string, carrier opentracing.TextMapReader) (s *Scope, out context.Context) {
	if !m.Enabled() {
		return nil, ctx
	}
	var span opentracing.Span
	defer func() {
		if r := recover(); r != nil {
			m.log.WithField("panic", r).WithField("span", name).Debug("Tracer panicked starting span")
			if span != nil {
				m.abandon(span)
			}
			s, out = nil, ctx
		}
	}()

	var opts []opentracing.StartSpanOption
	parent := "root"
	if carrier != nil {
		sc, err := m.tracer.Extract(propagation.Format, carrier)
		switch {
		case err == nil:
			opts = append(opts, opentracing.ChildOf(sc))
			parent = "child"
		case errors.Is(err, opentracing.ErrSpanContextNotFound):
		default:
			m.metrics.DecodeFailures.Inc()
			m.log.WithError(err).WithField("span", name).Debug("Starting root span: inbound trace context is unreadable")
		}
	}
	span = m.tracer.StartSpan(name, opts...)
	m.metrics.SpansStarted.WithLabelValues(parent).Inc()

	header := opentracing.TextMapCarrier{}
	if err := m.tracer.Inject(span.Context(), propagation.Format, header); err != nil {
		m.log.WithError(err).WithField("span", name).Debug("Could not encode span context for outbound calls")
	}
	var p propagation.Propagator
	if v := header[propagation.HeaderName]; v != "" {
		p = propagation.Propagator{Header: propagation.HeaderName, Value: v}
	}

	s = &Scope{
		tracer:     m.tracer,
		name:       name,
		propagator: p,
		log:        m.log,
		metrics:    m.metrics,
		span:       span,
		state:      Active,
	}
	out = propagation.ContextWithPropagator(ContextWithScope(ctx, s), p)
	return s, out
}

// abandon finishes a span that was started but will never be handed out.
func (m *Manager) abandon(span opentracing.Span) {
	defer func() {
		if r := recover(); r != nil {
			m.log.WithField("panic", r).Debug("Tracer panicked finishing abandoned span")
		}
	}()
	span.Finish()
}

// BeginRequest begins the unit of work for an inbound HTTP request. The
// span is named after the normalized request path and continues the
// trace in the request's X-TRACE header, if any.
func (m *Manager) BeginRequest(ctx context.Context, r *http.Request) (*Scope, context.Context) {
	return m.Begin(ctx, NormalizePath(r.URL.Path), opentracing.HTTPHeadersCarrier(r.Header))
}

// BeginConsole begins the unit of work of a console invocation. Console
// invocations always start a new trace.
func (m *Manager) BeginConsole(ctx context.Context) (*Scope, context.Context) {
	return m.Begin(ctx, ConsoleSpanName, nil)
}

// Run runs fn as a unit of work named name and ends its span after fn
// returns or panics. Panics from fn are re-raised.
func (m *Manager) Run(ctx context.Context, name string, carrier opentracing.TextMapReader, fn func(context.Context) error) error {
	s, ctx := m.Begin(ctx, name, carrier)
	defer s.End()
	return fn(ctx)
}

// RunConsole runs fn as a console unit of work.
func (m *Manager) RunConsole(ctx context.Context, fn func(context.Context) error) error {
	return m.Run(ctx, ConsoleSpanName, nil, fn)
}

// NormalizePath turns a request path into a span name: it always starts
// with a slash and never ends with one, except for the root itself.
func NormalizePath(path string) string {
	path = strings.Trim(path, "/")
	return "/" + path
}
