package trace

import (
	jaeger "github.com/uber/jaeger-client-go"

	"github.com/stripe/requesttrace/propagation"
)

var propagationFormat = propagation.Format

// headerCodec is the jaeger Injector and Extractor for
// propagation.Format.
type headerCodec struct{}

var _ jaeger.Injector = headerCodec{}
var _ jaeger.Extractor = headerCodec{}

func (headerCodec) Inject(sc jaeger.SpanContext, carrier interface{}) error {
	return propagation.Write(WireContext(sc), carrier)
}

func (headerCodec) Extract(carrier interface{}) (jaeger.SpanContext, error) {
	c, err := propagation.Read(carrier)
	if err != nil {
		return jaeger.SpanContext{}, err
	}
	return JaegerContext(c), nil
}

// WireContext converts a jaeger span context to its propagated form.
func WireContext(sc jaeger.SpanContext) propagation.SpanContext {
	var flags byte
	if sc.IsSampled() {
		flags |= propagation.FlagSampled
	}
	return propagation.SpanContext{
		TraceIDHigh: sc.TraceID().High,
		TraceIDLow:  sc.TraceID().Low,
		SpanID:      uint64(sc.SpanID()),
		Flags:       flags,
	}
}

// JaegerContext converts a propagated span context into one jaeger can
// start children of.
func JaegerContext(c propagation.SpanContext) jaeger.SpanContext {
	return jaeger.NewSpanContext(
		jaeger.TraceID{High: c.TraceIDHigh, Low: c.TraceIDLow},
		jaeger.SpanID(c.SpanID),
		0,
		c.Sampled(),
		nil,
	)
}
