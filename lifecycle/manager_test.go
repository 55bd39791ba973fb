package lifecycle_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	opentracing "github.com/opentracing/opentracing-go"
	otlog "github.com/opentracing/opentracing-go/log"
	"github.com/opentracing/opentracing-go/mocktracer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stripe/requesttrace/lifecycle"
	"github.com/stripe/requesttrace/propagation"
	"github.com/stripe/requesttrace/trace/tracetest"
)

func newManager(t *testing.T) (*lifecycle.Manager, *tracetest.Tracer, *logtest.Hook) {
	t.Helper()
	tracer := tracetest.New()
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return lifecycle.NewManager(tracer, logrus.NewEntry(logger), nil), tracer, hook
}

func TestDisabledManagerIsInert(t *testing.T) {
	m := lifecycle.NewManager(nil, nil, nil)
	assert.False(t, m.Enabled())

	ctx := context.Background()
	r := httptest.NewRequest("GET", "/orders/42", nil)
	s, out := m.BeginRequest(ctx, r)
	assert.Nil(t, s)
	assert.Equal(t, ctx, out)
	assert.Nil(t, lifecycle.FromContext(out))
	_, ok := propagation.FromContext(out)
	assert.False(t, ok)

	// Everything on a nil scope is a no-op.
	assert.NoError(t, s.SetTag("k", "v"))
	assert.NoError(t, s.LogKV("k", "v"))
	assert.Nil(t, s.SpanContext())
	assert.Equal(t, lifecycle.Uninitialized, s.State())
	s.End()
}

func TestRootRequestSpan(t *testing.T) {
	m, tracer, _ := newManager(t)

	r := httptest.NewRequest("GET", "/orders/42", nil)
	s, ctx := m.BeginRequest(context.Background(), r)
	require.NotNil(t, s)
	assert.Equal(t, s, lifecycle.FromContext(ctx))
	assert.Equal(t, lifecycle.Active, s.State())

	p, ok := propagation.FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, propagation.HeaderName, p.Header)
	assert.Equal(t, tracetest.Header(s.SpanContext().(mocktracer.MockSpanContext)), p.Value)
	assert.Equal(t, p, s.Propagator())

	s.End()
	spans := tracer.FinishedSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "/orders/42", spans[0].OperationName)
	assert.Equal(t, 0, spans[0].ParentID)
	assert.Equal(t, 1, tracer.Flushes())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Metrics().SpansStarted.WithLabelValues("root")))
}

func TestChildOfInboundHeader(t *testing.T) {
	m, tracer, _ := newManager(t)

	parent := propagation.SpanContext{TraceIDLow: 77, SpanID: 1234, Flags: propagation.FlagSampled}
	r := httptest.NewRequest("GET", "/orders/42/", nil)
	r.Header.Set("x-trace", propagation.Encode(parent))

	s, _ := m.BeginRequest(context.Background(), r)
	sc := s.SpanContext().(mocktracer.MockSpanContext)
	assert.Equal(t, 77, sc.TraceID)
	s.End()

	spans := tracer.FinishedSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "/orders/42", spans[0].OperationName)
	assert.Equal(t, 1234, spans[0].ParentID)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Metrics().SpansStarted.WithLabelValues("child")))
}

func TestMalformedHeaderDegradesToRoot(t *testing.T) {
	m, tracer, hook := newManager(t)

	for _, value := range []string{"garbage", "02-0000000000000000000000000000004d-00000000000004d2-01", ""} {
		r := httptest.NewRequest("GET", "/x", nil)
		r.Header.Set(propagation.HeaderName, value)
		s, _ := m.BeginRequest(context.Background(), r)
		require.NotNil(t, s, value)
		s.End()
	}

	for _, span := range tracer.FinishedSpans() {
		assert.Equal(t, 0, span.ParentID)
	}
	// An empty header value is present but malformed.
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Metrics().DecodeFailures))
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.DebugLevel, hook.LastEntry().Level)
}

func TestConsoleIgnoresHeaders(t *testing.T) {
	m, tracer, _ := newManager(t)

	err := m.RunConsole(context.Background(), func(ctx context.Context) error {
		assert.Equal(t, lifecycle.ConsoleSpanName, lifecycle.FromContext(ctx).Name())
		return nil
	})
	require.NoError(t, err)

	spans := tracer.FinishedSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "console", spans[0].OperationName)
	assert.Equal(t, 0, spans[0].ParentID)
	assert.Equal(t, 1, tracer.Flushes())
}

func TestRunEndsSpanOnPanic(t *testing.T) {
	m, tracer, _ := newManager(t)

	assert.PanicsWithValue(t, "handler blew up", func() {
		_ = m.Run(context.Background(), "job", nil, func(ctx context.Context) error {
			panic("handler blew up")
		})
	})
	assert.Len(t, tracer.FinishedSpans(), 1)
	assert.Equal(t, 1, tracer.Flushes())
}

func TestRunReturnsWorkError(t *testing.T) {
	m, tracer, _ := newManager(t)
	boom := errors.New("boom")
	assert.Equal(t, boom, m.Run(context.Background(), "job", nil, func(context.Context) error { return boom }))
	assert.Len(t, tracer.FinishedSpans(), 1)
}

func TestEndIsExactlyOnce(t *testing.T) {
	m, tracer, _ := newManager(t)
	s, _ := m.Begin(context.Background(), "work", nil)

	const logs, calls = 50, 20
	var wg sync.WaitGroup
	for i := 0; i < logs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.Log(otlog.Int("n", i))
		}(i)
	}
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Propagator().BeforeSend(httptest.NewRequest("GET", "http://upstream/", nil))
		}()
	}
	wg.Wait()

	var ends sync.WaitGroup
	for i := 0; i < 10; i++ {
		ends.Add(1)
		go func() {
			defer ends.Done()
			s.End()
		}()
	}
	ends.Wait()

	spans := tracer.FinishedSpans()
	require.Len(t, spans, 1)
	assert.Len(t, spans[0].Logs(), logs)
	assert.Equal(t, 1, tracer.Flushes())
	assert.Equal(t, lifecycle.Finished, s.State())
}

func TestMutationsAfterEndAreDropped(t *testing.T) {
	m, tracer, _ := newManager(t)
	s, _ := m.Begin(context.Background(), "work", nil)
	require.NoError(t, s.SetTag("before", 1))
	s.End()

	assert.Equal(t, lifecycle.ErrFinished, s.SetTag("after", 2))
	assert.Equal(t, lifecycle.ErrFinished, s.LogKV("after", 2))

	spans := tracer.FinishedSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, map[string]interface{}{"before": 1}, spans[0].Tags())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Metrics().DroppedMutations))
}

func TestFlushFailureIsSwallowed(t *testing.T) {
	m, tracer, _ := newManager(t)
	tracer.FailFlushes(errors.New("collector down"))

	s, _ := m.Begin(context.Background(), "work", nil)
	assert.NotPanics(t, s.End)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Metrics().FlushErrors))
}

type panickyTracer struct {
	*tracetest.Tracer
}

func (panickyTracer) StartSpan(string, ...opentracing.StartSpanOption) opentracing.Span {
	panic("tracer is broken")
}

func TestTracerPanicLeavesWorkUntraced(t *testing.T) {
	m := lifecycle.NewManager(panickyTracer{tracetest.New()}, nil, nil)
	ctx := context.Background()
	s, out := m.Begin(ctx, "work", nil)
	assert.Nil(t, s)
	assert.Equal(t, ctx, out)
}

type injectPanicTracer struct {
	*tracetest.Tracer
}

func (injectPanicTracer) Inject(opentracing.SpanContext, interface{}, interface{}) error {
	panic("cannot encode")
}

func TestInjectPanicFinishesStartedSpan(t *testing.T) {
	tracer := tracetest.New()
	m := lifecycle.NewManager(injectPanicTracer{tracer}, nil, nil)
	ctx := context.Background()
	s, out := m.Begin(ctx, "work", nil)
	assert.Nil(t, s)
	assert.Equal(t, ctx, out)

	spans := tracer.FinishedSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "work", spans[0].OperationName)
}

func TestNoLeakBetweenUnitsOfWork(t *testing.T) {
	m, _, _ := newManager(t)
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Header.Get(propagation.HeaderName))
	}))
	defer srv.Close()
	client := propagation.NewClient(srv.Client())

	var want []string
	for i := 0; i < 2; i++ {
		s, ctx := m.Begin(context.Background(), "work", nil)
		want = append(want, s.Propagator().Value)
		for j := 0; j < 2; j++ {
			req, err := http.NewRequestWithContext(ctx, "GET", srv.URL, nil)
			require.NoError(t, err)
			resp, err := client.Do(req)
			require.NoError(t, err)
			resp.Body.Close()
		}
		s.End()
	}
	assert.Equal(t, []string{want[0], want[0], want[1], want[1]}, seen)
	assert.NotEqual(t, want[0], want[1])
}

func TestMetricsRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := lifecycle.NewMetrics(reg)
	require.NoError(t, err)
	m.DecodeFailures.Inc()
	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["requesttrace_context_decode_failures_total"])
}

func TestMetricsShareExistingRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := lifecycle.NewMetrics(reg)
	require.NoError(t, err)
	second, err := lifecycle.NewMetrics(reg)
	require.NoError(t, err)

	second.SpansStarted.WithLabelValues("root").Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(first.SpansStarted.WithLabelValues("root")))
}

func TestMetricsConflictingRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{
		Name: "requesttrace_flush_errors_total",
		Help: "Something else entirely.",
	}))
	_, err := lifecycle.NewMetrics(reg)
	assert.Error(t, err)
}

func TestNormalizePath(t *testing.T) {
	cases := map[string]string{
		"":            "/",
		"/":           "/",
		"/orders/42":  "/orders/42",
		"/orders/42/": "/orders/42",
		"orders":      "/orders",
	}
	for in, want := range cases {
		assert.Equal(t, want, lifecycle.NormalizePath(in), in)
	}
}
