package requesttrace

import (
	"bufio"
	"context"
	"net"
	"net/http"

	"github.com/pkg/errors"

	"github.com/stripe/requesttrace/events"
)

// Middleware runs each request as a unit of work. It can be installed
// with goji's Mux.Use or wrap any http.Handler.
//
// The request's context carries the span (see lifecycle.FromContext), the
// outbound propagator and a principal slot that authentication code fills
// in with events.SetPrincipal. Once the handler returns, a
// RequestHandled event is published and then the span ends. A panicking
// handler is reported with the status it already wrote, or as a 500 if
// it wrote nothing, before the panic continues.
func (i *Instrumentation) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := events.ContextWithPrincipalSlot(r.Context())
		s, ctx := i.Manager.BeginRequest(ctx, r)
		defer s.End()

		r = r.WithContext(ctx)
		rec := &statusRecorder{ResponseWriter: w}
		defer func() {
			if p := recover(); p != nil {
				status := rec.status
				if status == 0 {
					status = http.StatusInternalServerError
				}
				i.handled(ctx, r, status)
				panic(p)
			}
		}()
		next.ServeHTTP(rec, r)
		i.handled(ctx, r, rec.Status())
	})
}

func (i *Instrumentation) handled(ctx context.Context, r *http.Request, status int) {
	principal, _ := events.Principal(ctx)
	events.Publish(ctx, i.Bus, events.RequestHandled{
		Request:   r,
		Status:    status,
		Principal: principal,
	})
}

// statusRecorder remembers the status code a handler responded with.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// Status is the response's status code. A handler that wrote nothing
// responded 200.
func (w *statusRecorder) Status() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

func (w *statusRecorder) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

func (w *statusRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
