package lifecycle

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "requesttrace"

// Metrics counts what the instrumentation did, including the faults it
// absorbed. None of these counters change behavior.
type Metrics struct {
	SpansStarted       *prometheus.CounterVec
	DecodeFailures     prometheus.Counter
	DroppedMutations   prometheus.Counter
	FlushErrors        prometheus.Counter
	EnrichmentFailures prometheus.Counter
}

// NewMetrics creates the instrumentation counters and registers them on
// reg. A nil reg leaves them unregistered, which is what tests usually
// want. When reg already holds the counters (a second instance on the
// same registry) the registered ones are shared.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		SpansStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spans_started_total",
			Help:      "Unit-of-work spans started, by whether they continue an inbound trace.",
		}, []string{"parent"}),
		DecodeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "context_decode_failures_total",
			Help:      "Inbound trace headers that were present but could not be decoded.",
		}),
		DroppedMutations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_mutations_total",
			Help:      "Tags and logs discarded because their span had already finished.",
		}),
		FlushErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flush_errors_total",
			Help:      "Tracer flushes at the end of a unit of work that failed.",
		}),
		EnrichmentFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enrichment_failures_total",
			Help:      "Span tag or log calls that failed and were swallowed.",
		}),
	}
	if reg == nil {
		return m, nil
	}

	var err error
	if m.SpansStarted, err = register(reg, m.SpansStarted); err != nil {
		return nil, err
	}
	for _, c := range []*prometheus.Counter{&m.DecodeFailures, &m.DroppedMutations, &m.FlushErrors, &m.EnrichmentFailures} {
		if *c, err = register(reg, *c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// unregisteredMetrics is the counter set used when no Metrics are given.
func unregisteredMetrics() *Metrics {
	m, _ := NewMetrics(nil)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing, nil
		}
	}
	return c, errors.Wrap(err, "could not register instrumentation metrics")
}
