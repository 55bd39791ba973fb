// Package enrich copies what happens during a unit of work onto its span:
// every log message becomes a span log and the completed request becomes
// a set of tags.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"

	otlog "github.com/opentracing/opentracing-go/log"

	"github.com/stripe/requesttrace/events"
	"github.com/stripe/requesttrace/lifecycle"
)

// Tag keys set on the span of every HTTP request.
const (
	TagUserID         = "user_id"
	TagRequestHost    = "request_host"
	TagRequestPath    = "request_path"
	TagRequestMethod  = "request_method"
	TagResponseStatus = "response_status"
)

// Anonymous is the user_id of requests without a principal.
const Anonymous = "-"

// ContextFieldPrefix prefixes log entry fields in span logs.
const ContextFieldPrefix = "context."

// Enricher subscribes to the event bus and annotates the span found in
// each event's context. Events outside a traced unit of work are
// ignored. It never logs: it runs inside the log hook.
type Enricher struct {
	metrics *lifecycle.Metrics
}

// New creates an enricher counting its failures on metrics.
func New(metrics *lifecycle.Metrics) *Enricher {
	if metrics == nil {
		// an unregistered set cannot fail
		metrics, _ = lifecycle.NewMetrics(nil)
	}
	return &Enricher{metrics: metrics}
}

// Register subscribes e to bus. The returned function unsubscribes it.
func (e *Enricher) Register(bus *events.Bus) func() {
	offLog := events.Subscribe(bus, e.OnLogMessage)
	offReq := events.Subscribe(bus, e.OnRequestHandled)
	return func() {
		offLog()
		offReq()
	}
}

// OnLogMessage appends the message as a span log carrying its level, its
// text and each of its fields.
func (e *Enricher) OnLogMessage(ctx context.Context, msg events.LogMessage) {
	s := lifecycle.FromContext(ctx)
	if s == nil {
		return
	}
	e.check(s.Log(LogFields(msg)...))
}

// OnRequestHandled tags the span with who made the request, where it went
// and how it ended.
func (e *Enricher) OnRequestHandled(ctx context.Context, ev events.RequestHandled) {
	s := lifecycle.FromContext(ctx)
	if s == nil || ev.Request == nil {
		return
	}
	user := ev.Principal
	if user == "" {
		user = Anonymous
	}
	e.check(s.SetTag(TagUserID, user))
	e.check(s.SetTag(TagRequestHost, hostname(ev.Request.Host)))
	e.check(s.SetTag(TagRequestPath, lifecycle.NormalizePath(ev.Request.URL.Path)))
	e.check(s.SetTag(TagRequestMethod, ev.Request.Method))
	e.check(s.SetTag(TagResponseStatus, ev.Status))
}

func (e *Enricher) check(err error) {
	if err != nil && !errors.Is(err, lifecycle.ErrFinished) {
		e.metrics.EnrichmentFailures.Inc()
	}
}

// LogFields is the span log payload of msg. Fields are sorted by key so
// that payloads are stable.
func LogFields(msg events.LogMessage) []otlog.Field {
	keys := make([]string, 0, len(msg.Fields))
	for k := range msg.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]otlog.Field, 0, len(keys)+2)
	out = append(out, otlog.String("level", msg.Level.String()), otlog.String("message", msg.Message))
	for _, k := range keys {
		out = append(out, field(ContextFieldPrefix+k, msg.Fields[k]))
	}
	return out
}

func field(key string, v interface{}) otlog.Field {
	switch v := v.(type) {
	case string:
		return otlog.String(key, v)
	case bool:
		return otlog.Bool(key, v)
	case int:
		return otlog.Int(key, v)
	case int32:
		return otlog.Int32(key, v)
	case int64:
		return otlog.Int64(key, v)
	case uint32:
		return otlog.Uint32(key, v)
	case uint64:
		return otlog.Uint64(key, v)
	case float32:
		return otlog.Float32(key, v)
	case float64:
		return otlog.Float64(key, v)
	case error:
		return otlog.String(key, v.Error())
	case fmt.Stringer:
		return otlog.String(key, v.String())
	case nil:
		return otlog.String(key, "<nil>")
	}
	return otlog.String(key, fmt.Sprintf("%+v", v))
}

func hostname(hostport string) string {
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		return host
	}
	return hostport
}
