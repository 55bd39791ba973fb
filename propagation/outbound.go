package propagation

import (
	"context"
	"net/http"
)

type propagatorKey struct{}

// Propagator adds one fixed header to outbound requests. Its value is the
// encoded context of the unit of work's span, computed once when the unit
// of work begins; every outbound call from that unit of work carries the
// same parent.
type Propagator struct {
	Header string
	Value  string
}

// BeforeSend returns req with the propagation header set. The caller's
// request is never mutated: a clone is returned when a header is added.
// A zero Propagator returns req unchanged.
func (p Propagator) BeforeSend(req *http.Request) *http.Request {
	if p.Header == "" || p.Value == "" {
		return req
	}
	out := req.Clone(req.Context())
	out.Header.Set(p.Header, p.Value)
	return out
}

// Configure installs a propagator for the unit of work that owns ctx,
// replacing any propagator inherited from an enclosing context.
func Configure(ctx context.Context, header, value string) context.Context {
	return ContextWithPropagator(ctx, Propagator{Header: header, Value: value})
}

// ContextWithPropagator returns a copy of ctx carrying p.
func ContextWithPropagator(ctx context.Context, p Propagator) context.Context {
	return context.WithValue(ctx, propagatorKey{}, p)
}

// FromContext returns the propagator installed in ctx, if any.
func FromContext(ctx context.Context) (Propagator, bool) {
	if ctx == nil {
		return Propagator{}, false
	}
	p, ok := ctx.Value(propagatorKey{}).(Propagator)
	return p, ok
}

// Transport is an http.RoundTripper that applies the propagator found in
// each request's context before handing the request to Base. Requests
// whose context carries no propagator pass through untouched, so one
// Transport can be shared by every unit of work in the process.
type Transport struct {
	// Base defaults to http.DefaultTransport.
	Base http.RoundTripper
}

var _ http.RoundTripper = &Transport{}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if p, ok := FromContext(req.Context()); ok {
		req = p.BeforeSend(req)
	}
	return t.base().RoundTrip(req)
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

// NewClient returns a copy of base (or a new client if base is nil) whose
// transport propagates trace context. Callers must build outbound
// requests with http.NewRequestWithContext using the unit of work's
// context.
func NewClient(base *http.Client) *http.Client {
	var c http.Client
	if base != nil {
		c = *base
	}
	c.Transport = &Transport{Base: c.Transport}
	return &c
}
