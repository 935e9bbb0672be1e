// Package metrics exposes an optional Prometheus /metrics endpoint
// counting verdicts, fragments, decoy packets, and HopTab occupancy. It is
// off unless --metrics-addr is set; nothing in the verdict path depends on
// it being enabled.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dpibreak/internal/core"
)

// Sink holds the counters and gauges the diverter updates as it runs.
type Sink struct {
	registry *prometheus.Registry

	VerdictsAccept  prometheus.Counter
	VerdictsDrop    prometheus.Counter
	VerdictsReplace prometheus.Counter
	FragmentsEmitted prometheus.Counter
	FakesEmitted    prometheus.Counter
	RuleErrors      prometheus.Counter
	HopTabOccupancy prometheus.Gauge

	server *http.Server
}

// NewSink builds a fresh registry and metric set. Call Serve to start the
// HTTP endpoint; Sink is usable (counters can be incremented) before Serve
// is called.
func NewSink() *Sink {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Sink{
		registry: reg,
		VerdictsAccept: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "dpibreak", Name: "verdicts_accept_total",
			Help: "Intercepted packets accepted unchanged.",
		}),
		VerdictsDrop: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "dpibreak", Name: "verdicts_drop_total",
			Help: "Intercepted packets dropped with no replacement.",
		}),
		VerdictsReplace: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "dpibreak", Name: "verdicts_replace_total",
			Help: "Intercepted packets replaced with fragmented/decoy buffers.",
		}),
		FragmentsEmitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "dpibreak", Name: "fragments_emitted_total",
			Help: "Resegmented TCP fragments emitted.",
		}),
		FakesEmitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "dpibreak", Name: "fakes_emitted_total",
			Help: "Decoy ClientHello packets emitted.",
		}),
		RuleErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "dpibreak", Name: "rule_errors_total",
			Help: "RuleManager install/remove failures.",
		}),
		HopTabOccupancy: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "dpibreak", Name: "hoptab_occupancy",
			Help: "Current number of entries in the HopTab.",
		}),
	}
}

// Observe updates the sink's counters from one diverter event.
func (s *Sink) Observe(e core.Event) {
	switch e.Type {
	case core.EventVerdictIssued:
		p, ok := e.Payload.(core.VerdictPayload)
		if !ok {
			return
		}
		switch p.Kind {
		case core.VerdictAccept:
			s.VerdictsAccept.Inc()
		case core.VerdictDrop:
			s.VerdictsDrop.Inc()
		case core.VerdictReplace:
			s.VerdictsReplace.Inc()
			s.FragmentsEmitted.Add(float64(p.FragmentCount))
			s.FakesEmitted.Add(float64(p.FakeCount))
		}
	case core.EventRuleInstalled, core.EventRuleRemoved:
		if p, ok := e.Payload.(core.RulePayload); ok && p.Err != nil {
			s.RuleErrors.Inc()
		}
	case core.EventHopTabUpdated:
		// Occupancy itself is set by SetHopTabOccupancy from the owning
		// goroutine, since a single update event doesn't carry the table's
		// total size.
	}
}

// SetHopTabOccupancy updates the gauge to the table's current entry count.
func (s *Sink) SetHopTabOccupancy(n int) {
	s.HopTabOccupancy.Set(float64(n))
}

// Serve starts the /metrics HTTP endpoint on addr. It runs until ctx is
// canceled.
func (s *Sink) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	s.server = &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		return s.server.Close()
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}
