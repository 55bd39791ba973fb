package requesttrace

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stripe/requesttrace/events"
	"github.com/stripe/requesttrace/lifecycle"
	"github.com/stripe/requesttrace/trace/tracetest"
)

func TestNewBuildsJaegerTracer(t *testing.T) {
	c := activeConfig()
	c.Tracing.Host = "127.0.0.1"
	logger, _ := logtest.NewNullLogger()
	reg := prometheus.NewRegistry()

	inst, err := New(Options{Config: c, Logger: logger, Registerer: reg})
	require.NoError(t, err)
	assert.True(t, inst.Enabled())

	err = inst.RunConsole(context.Background(), func(ctx context.Context) error {
		assert.NotNil(t, lifecycle.FromContext(ctx).SpanContext())
		return nil
	})
	assert.NoError(t, err)
	assert.NoError(t, inst.Close())
	assert.NoError(t, inst.Close())

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNewTwiceOnOneRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	logger, _ := logtest.NewNullLogger()
	opts := Options{Config: activeConfig(), Logger: logger, Registerer: reg, Tracer: tracetest.New()}

	first, err := New(opts)
	require.NoError(t, err)
	defer first.Close()

	var second *Instrumentation
	require.NotPanics(t, func() {
		second, err = New(opts)
	})
	require.NoError(t, err)
	defer second.Close()

	second.Metrics.DecodeFailures.Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(first.Metrics.DecodeFailures))
}

func TestNewRejectsBadCollector(t *testing.T) {
	c := activeConfig()
	c.Tracing.Host = "bad]host"
	_, err := New(Options{Config: c, Logger: logrus.New()})
	assert.Error(t, err)
}

func TestDisabledInstallsOnlyQueryLogging(t *testing.T) {
	c := activeConfig()
	c.Tracing.Host = ""
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	inst, err := New(Options{Config: c, Logger: logger})
	require.NoError(t, err)
	defer inst.Close()
	assert.False(t, inst.Enabled())
	assert.Empty(t, logger.Hooks)

	hook.Reset()
	events.Publish(context.Background(), inst.Bus, events.QueryExecuted{
		Connection: "main",
		Query:      "select 1",
		Duration:   3 * time.Millisecond,
	})
	require.Len(t, hook.Entries, 1)
	assert.Equal(t, "3.00ms", hook.LastEntry().Data["time"])
}

func TestQueriesLandOnSpan(t *testing.T) {
	h := newHarness(t, activeConfig())
	err := h.inst.RunConsole(context.Background(), func(ctx context.Context) error {
		events.Publish(ctx, h.inst.Bus, events.QueryExecuted{Connection: "main", Query: "select 1"})
		return nil
	})
	require.NoError(t, err)

	logs := h.only(t).Logs()
	require.Len(t, logs, 1)
	fields := map[string]string{}
	for _, f := range logs[0].Fields {
		fields[f.Key] = f.ValueString
	}
	assert.Equal(t, "[DB Query] main", fields["message"])
	assert.Equal(t, "select 1", fields["context.query"])
	assert.Equal(t, "0.00ms", fields["context.time"])
}

func TestCloseUnsubscribes(t *testing.T) {
	h := newHarness(t, activeConfig())
	require.NoError(t, h.inst.Close())

	h.logs.Reset()
	events.Publish(context.Background(), h.inst.Bus, events.QueryExecuted{Connection: "main"})
	assert.Empty(t, h.logs.Entries)
}
