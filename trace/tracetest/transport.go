// Package tracetest contains helpers to make it easier to test the
// tracing behavior of code built on package trace and package lifecycle.
package tracetest

import (
	"sync"

	jaeger "github.com/uber/jaeger-client-go"
)

// AppendErrorSource is a function that a test can provide. It returns
// whether appending a span should return an error or not.
type AppendErrorSource func(*jaeger.Span) error

// TransportOption is a functional option for Transports provided by
// this package.
type TransportOption func(*Transport)

// AppendErrors allows tests to provide a function that will be consulted
// on whether an append should return an error.
func AppendErrors(src AppendErrorSource) TransportOption {
	return func(tr *Transport) {
		tr.appendErrorSrc = src
	}
}

// FlushErrors makes every flush return err.
func FlushErrors(err error) TransportOption {
	return func(tr *Transport) {
		tr.flushErr = err
	}
}

// Transport is a jaeger.Transport that records the operation names of
// appended spans, grouped into the batches it was flushed in.
type Transport struct {
	mutex sync.Mutex

	appendErrorSrc AppendErrorSource
	flushErr       error

	pending []string
	batches [][]string
	closed  bool
}

var _ jaeger.Transport = &Transport{}

// NewTransport constructs a recording Transport.
func NewTransport(opts ...TransportOption) *Transport {
	tr := &Transport{}
	for _, opt := range opts {
		opt(tr)
	}
	return tr
}

// Append records the span's operation name.
func (tr *Transport) Append(span *jaeger.Span) (int, error) {
	if tr.appendErrorSrc != nil {
		if err := tr.appendErrorSrc(span); err != nil {
			return 0, err
		}
	}
	tr.mutex.Lock()
	defer tr.mutex.Unlock()
	tr.pending = append(tr.pending, span.OperationName())
	return 0, nil
}

// Flush moves the pending spans into a new batch.
func (tr *Transport) Flush() (int, error) {
	tr.mutex.Lock()
	defer tr.mutex.Unlock()
	if tr.flushErr != nil {
		return 0, tr.flushErr
	}
	n := len(tr.pending)
	tr.batches = append(tr.batches, tr.pending)
	tr.pending = nil
	return n, nil
}

// Close marks the transport closed.
func (tr *Transport) Close() error {
	tr.mutex.Lock()
	defer tr.mutex.Unlock()
	tr.closed = true
	return nil
}

// Batches returns the flushed batches, oldest first.
func (tr *Transport) Batches() [][]string {
	tr.mutex.Lock()
	defer tr.mutex.Unlock()
	out := make([][]string, len(tr.batches))
	copy(out, tr.batches)
	return out
}

// Pending returns the names of spans appended since the last flush.
func (tr *Transport) Pending() []string {
	tr.mutex.Lock()
	defer tr.mutex.Unlock()
	return append([]string(nil), tr.pending...)
}

// Closed reports whether Close was called.
func (tr *Transport) Closed() bool {
	tr.mutex.Lock()
	defer tr.mutex.Unlock()
	return tr.closed
}
