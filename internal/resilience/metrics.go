package resilience

import "github.com/prometheus/client_golang/prometheus"

var (
	breakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "upstream_breaker_state",
			Help: "Current breaker state per upstream: 0=closed,1=open,2=half-open",
		},
		[]string{"target"},
	)
	breakerTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstream_breaker_transitions_total",
			Help: "Breaker state transitions per upstream",
		},
		[]string{"target", "from", "to"},
	)
	breakerOpened = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstream_breaker_open_total",
			Help: "Number of times a breaker opened",
		},
		[]string{"target"},
	)
	upstreamAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstream_attempts_total",
			Help: "Outbound HTTP attempts per upstream and outcome",
		},
		[]string{"target", "outcome"},
	)
)

// Collectors returns the package metrics so callers can register them.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{breakerState, breakerTransitions, breakerOpened, upstreamAttempts}
}
