package receiver

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// promCollectors mirrors Orchestrator.Snapshot() as a set of Prometheus
// gauges, polled on every /metrics scrape rather than pushed, so the
// orchestrator's own counters stay the single source of truth.
type promCollectors struct {
	registry *prometheus.Registry
	orch     *Orchestrator

	accepted     prometheus.Gauge
	headDropped  prometheus.Gauge
	tailDropped  prometheus.Gauge
	decodeErrors prometheus.Gauge
	rejected     prometheus.Gauge
}

func newPromCollectors(orch *Orchestrator) *promCollectors {
	reg := prometheus.NewRegistry()
	p := &promCollectors{
		registry: reg,
		orch:     orch,
		accepted: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "urpo_spans_accepted_total", Help: "Spans accepted into the store.",
		}),
		headDropped: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "urpo_spans_head_dropped_total", Help: "Spans dropped by head sampling.",
		}),
		tailDropped: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "urpo_traces_tail_dropped_total", Help: "Deferred traces rejected by tail sampling.",
		}),
		decodeErrors: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "urpo_decode_errors_total", Help: "OTLP payloads that failed to decode or validate.",
		}),
		rejected: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "urpo_queue_rejected_total", Help: "Spans the store refused (at capacity or invalid).",
		}),
	}
	return p
}

func (p *promCollectors) handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

func (p *promCollectors) refresh() {
	snap := p.orch.Snapshot()
	p.accepted.Set(float64(snap.SpansAccepted))
	p.headDropped.Set(float64(snap.SpansHeadDropped))
	p.tailDropped.Set(float64(snap.TracesTailDropped))
	p.decodeErrors.Set(float64(snap.DecodeErrors))
	p.rejected.Set(float64(snap.QueueRejected))
}
