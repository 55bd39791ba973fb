// Package requesttrace traces units of work (HTTP requests, gRPC calls
// and console invocations) with one span each, propagates the span's
// context to outbound calls in the X-TRACE header, and records the unit
// of work's log messages and request metadata on the span.
package requesttrace

import (
	"context"
	"io"
	"net/http"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"

	"github.com/stripe/requesttrace/enrich"
	"github.com/stripe/requesttrace/events"
	"github.com/stripe/requesttrace/lifecycle"
	"github.com/stripe/requesttrace/propagation"
	"github.com/stripe/requesttrace/querylog"
	"github.com/stripe/requesttrace/store"
	"github.com/stripe/requesttrace/trace"
)

// Options configures New.
type Options struct {
	Config Config
	// Logger is the application logger. When tracing is active, its
	// entries are recorded on the span of the unit of work they were
	// logged in (see logrus.Entry.WithContext). Defaults to the standard
	// logger.
	Logger *logrus.Logger
	// Registerer receives the instrumentation's metrics. Nil leaves them
	// unregistered.
	Registerer prometheus.Registerer
	// Tracer replaces the jaeger tracer otherwise built from
	// Config.Tracing.
	Tracer lifecycle.Tracer
}

// Instrumentation is the tracing setup of one process.
type Instrumentation struct {
	Config  Config
	Bus     *events.Bus
	Manager *lifecycle.Manager
	Metrics *lifecycle.Metrics

	log          *logrus.Entry
	closer       io.Closer
	unsubscribes []func()
}

// New sets up instrumentation. Query logging is always installed. The
// tracer, span enrichment and the log hook are only installed when
// Config.Tracing is active; otherwise units of work run untraced and
// outbound calls carry no trace header.
func New(opts Options) (*Instrumentation, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	log := logger.WithField("component", "requesttrace")
	metrics, err := lifecycle.NewMetrics(opts.Registerer)
	if err != nil {
		return nil, err
	}

	inst := &Instrumentation{
		Config:  opts.Config,
		Bus:     events.NewBus(log),
		Metrics: metrics,
		log:     log,
	}
	inst.unsubscribes = append(inst.unsubscribes, querylog.New(logrus.NewEntry(logger)).Register(inst.Bus))

	tc := opts.Config.Tracing
	if !tc.Active() {
		log.WithFields(logrus.Fields{
			"enabled": tc.Enabled,
			"host":    tc.Host,
		}).Debug("Tracing is off")
		inst.Manager = lifecycle.NewManager(nil, log, metrics)
		return inst, nil
	}

	tracer := opts.Tracer
	if tracer == nil {
		t, err := trace.NewTracer(tc.Service.Name, tc.CollectorAddress(),
			trace.Capacity(tc.QueueSize), trace.Logger(log))
		if err != nil {
			return nil, errors.Wrap(err, "could not set up tracing")
		}
		tracer = t
		inst.closer = t
	}
	inst.Manager = lifecycle.NewManager(tracer, log, metrics)
	inst.unsubscribes = append(inst.unsubscribes, enrich.New(metrics).Register(inst.Bus))
	logger.AddHook(events.LogHook{Bus: inst.Bus})

	log.WithFields(logrus.Fields{
		"service":   tc.Service.Name,
		"collector": tc.CollectorAddress(),
	}).Info("Tracing units of work")
	return inst, nil
}

// Enabled reports whether units of work get spans.
func (i *Instrumentation) Enabled() bool {
	return i.Manager.Enabled()
}

// RunConsole runs fn as a console unit of work.
func (i *Instrumentation) RunConsole(ctx context.Context, fn func(context.Context) error) error {
	return i.Manager.RunConsole(ctx, fn)
}

// UnaryServerInterceptor runs each unary gRPC call as a unit of work.
func (i *Instrumentation) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return i.Manager.UnaryServerInterceptor()
}

// HTTPClient returns a copy of base that propagates the trace context of
// each request's context.
func (i *Instrumentation) HTTPClient(base *http.Client) *http.Client {
	return propagation.NewClient(base)
}

// Resty installs trace propagation on client.
func (i *Instrumentation) Resty(client *resty.Client) *resty.Client {
	return propagation.Resty(client)
}

// OpenDB opens a database whose statements are logged and, when tracing
// is active, recorded on the current span.
func (i *Instrumentation) OpenDB(name, driverName, dsn string) (*store.DB, error) {
	return store.Open(name, driverName, dsn, i.Bus)
}

// Close unsubscribes everything New installed and closes the tracer,
// flushing spans that are still buffered. The log hook stays on the
// logger but has nothing left to deliver to.
func (i *Instrumentation) Close() error {
	for _, unsubscribe := range i.unsubscribes {
		unsubscribe()
	}
	i.unsubscribes = nil
	if i.closer == nil {
		return nil
	}
	closer := i.closer
	i.closer = nil
	return errors.Wrap(closer.Close(), "could not close tracer")
}
