// Package trace provides the tracer that unit-of-work spans are recorded
// on: a jaeger opentracing tracer whose finished spans are pumped through
// a Client to a jaeger Transport, and which can be flushed on demand at
// the end of each unit of work.
//
// # Setup
//
// A service creates one Tracer at startup and closes it at shutdown:
//
//	tracer, err := trace.NewTracer("orders", "jaeger-agent:6831")
//	if err != nil {
//		return err
//	}
//	defer tracer.Close()
//
// Spans are created with the regular opentracing API. Finishing a span
// hands it to the Client, which appends it to the transport from a single
// goroutine; Flush asks the transport to send everything appended so far.
//
// # Propagation
//
// The tracer understands propagation.Format: Inject writes the X-TRACE
// header for a span context, Extract reads one back so that a child span
// can be started in the receiving process:
//
//	parent, err := tracer.Extract(propagation.Format, opentracing.HTTPHeadersCarrier(r.Header))
//	if err == nil {
//		span = tracer.StartSpan(name, opentracing.ChildOf(parent))
//	}
//
// # Data loss
//
// Reporting never blocks user code. When the Client's queue is full the
// span is dropped and counted (see Tracer.Dropped); transport errors are
// logged at debug level and otherwise ignored. Tracing is best-effort.
package trace
