// Copyright 2025 Certen Protocol
//
// Prometheus metrics registry, grounded on crates/metrics/src/metrics.rs:
// same metric families and label shapes, translated from lazy_static
// globals into one registered Recorder a coordinator/settlement manager
// pair is constructed with.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder is the metrics surface pkg/coordinator and pkg/settlement are
// built against. A nil *Recorder is not valid; use NewRecorder, which
// always returns a usable instance registered against reg.
type Recorder struct {
	IntentsReceived prometheus.Counter
	IntentsMatched  prometheus.Counter
	IntentsFailed   prometheus.Counter
	IntentStatus    *prometheus.CounterVec
	ActiveIntents   prometheus.Gauge

	SettlementsStarted   prometheus.Counter
	SettlementsCompleted prometheus.Counter
	SettlementsFailed    prometheus.Counter
	SettlementStatus     *prometheus.CounterVec
	ActiveSettlements    prometheus.Gauge
	SettlementDuration   prometheus.Histogram
	SettlementPhaseTime  *prometheus.HistogramVec

	SolverQuotesRequested prometheus.Counter
	SolverQuotesReceived  prometheus.Counter
	SolverQuoteLatency    *prometheus.HistogramVec
	SolverQuoteSuccess    *prometheus.CounterVec
	SolverQuoteFailures   *prometheus.CounterVec

	TransportSubmitted     prometheus.Counter
	TransportDelivered     prometheus.Counter
	TransportTimedOut      prometheus.Counter
	TransportLatencyPerRoute *prometheus.HistogramVec
}

// NewRecorder builds and registers every metric family against reg. Pass
// prometheus.NewRegistry() in tests to avoid polluting the default
// registry; pass nil to register against prometheus.DefaultRegisterer.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	const ns = "intent_router"

	return &Recorder{
		IntentsReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "intents_received_total", Help: "Total number of intents received",
		}),
		IntentsMatched: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "intents_matched_total", Help: "Total number of intents matched with a fill",
		}),
		IntentsFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "intents_failed_total", Help: "Total number of intents that failed coordination",
		}),
		IntentStatus: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "intent_status_total", Help: "Total intents by terminal stage",
		}, []string{"stage"}),
		ActiveIntents: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "intents_active", Help: "Current number of intents being coordinated",
		}),

		SettlementsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "settlements_started_total", Help: "Total number of settlements initiated",
		}),
		SettlementsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "settlements_completed_total", Help: "Total number of settlements completed",
		}),
		SettlementsFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "settlements_failed_total", Help: "Total number of settlements that failed or timed out",
		}),
		SettlementStatus: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "settlement_status_total", Help: "Total settlements by status",
		}, []string{"status"}),
		ActiveSettlements: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "settlements_active", Help: "Current number of non-terminal settlements",
		}),
		SettlementDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns, Name: "settlement_duration_ms", Help: "Settlement duration from start to terminal state, in milliseconds",
			Buckets: []float64{100, 500, 1000, 5000, 10000, 30000, 60000},
		}),
		SettlementPhaseTime: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Name: "settlement_phase_duration_ms", Help: "Settlement phase duration in milliseconds",
			Buckets: []float64{100, 500, 1000, 5000, 10000, 30000},
		}, []string{"phase"}),

		SolverQuotesRequested: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "solver_quotes_requested_total", Help: "Total number of solver quote requests",
		}),
		SolverQuotesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "solver_quotes_received_total", Help: "Total number of solver quotes received",
		}),
		SolverQuoteLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Name: "solver_quote_latency_ms", Help: "Solver quote latency in milliseconds, per solver",
			Buckets: []float64{10, 50, 100, 250, 500, 1000, 2000},
		}, []string{"solver_id"}),
		SolverQuoteSuccess: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "solver_quote_success_total", Help: "Total successful solver quotes",
		}, []string{"solver_id"}),
		SolverQuoteFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "solver_quote_failures_total", Help: "Total solver quote failures",
		}, []string{"solver_id", "reason"}),

		TransportSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "transport_submitted_total", Help: "Total number of cross-chain transfers submitted",
		}),
		TransportDelivered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "transport_delivered_total", Help: "Total number of cross-chain transfers delivered",
		}),
		TransportTimedOut: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "transport_timed_out_total", Help: "Total number of cross-chain transfers that timed out",
		}),
		TransportLatencyPerRoute: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Name: "transport_latency_per_route_ms", Help: "Delivery latency in milliseconds, per chain route",
			Buckets: []float64{1000, 5000, 10000, 30000, 60000, 120000, 300000},
		}, []string{"route"}),
	}
}
