package trace

import (
	"io"

	opentracing "github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	jaeger "github.com/uber/jaeger-client-go"
)

// DefaultAgentPort is the jaeger agent's compact thrift UDP port.
const DefaultAgentPort = 6831

// Tracer is a jaeger opentracing.Tracer whose reported spans can be
// flushed on demand.
type Tracer struct {
	opentracing.Tracer

	client *Client
	closer io.Closer
}

// NewTracer builds a tracer for service that sends spans over UDP to the
// jaeger agent at hostPort. The agent does not have to be reachable:
// UDP sends to a missing agent are dropped.
func NewTracer(service, hostPort string, opts ...ClientParam) (*Tracer, error) {
	transport, err := jaeger.NewUDPTransport(hostPort, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "could not open collector transport to %s", hostPort)
	}
	return NewTransportTracer(service, transport, opts...)
}

// NewTransportTracer builds a tracer for service that sends spans on
// transport.
func NewTransportTracer(service string, transport jaeger.Transport, opts ...ClientParam) (*Tracer, error) {
	client, err := NewClient(transport, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "could not create span client")
	}
	tracer, closer := jaeger.NewTracer(
		service,
		jaeger.NewConstSampler(true),
		client,
		jaeger.TracerOptions.Injector(propagationFormat, headerCodec{}),
		jaeger.TracerOptions.Extractor(propagationFormat, headerCodec{}),
		jaeger.TracerOptions.Logger(jaegerLogger{client.log}),
	)
	return &Tracer{Tracer: tracer, client: client, closer: closer}, nil
}

// Flush sends every span finished so far to the collector.
func (t *Tracer) Flush() error {
	return Flush(t.client)
}

// Dropped returns the number of finished spans that were never handed to
// the transport.
func (t *Tracer) Dropped() uint64 {
	return t.client.Dropped()
}

// Close flushes pending spans and releases the transport.
func (t *Tracer) Close() error {
	return t.closer.Close()
}

// jaegerLogger routes jaeger's internal diagnostics to logrus.
type jaegerLogger struct {
	log *logrus.Entry
}

func (l jaegerLogger) Error(msg string) {
	l.log.WithField("component", "jaeger").Warn(msg)
}

func (l jaegerLogger) Infof(msg string, args ...interface{}) {
	l.log.WithField("component", "jaeger").Infof(msg, args...)
}

func (l jaegerLogger) Debugf(msg string, args ...interface{}) {
	l.log.WithField("component", "jaeger").Debugf(msg, args...)
}
