package obs

import "github.com/prometheus/client_golang/prometheus"

// CheckoutMetrics counts checkout outcomes. A nil *CheckoutMetrics is a no-op.
type CheckoutMetrics struct {
	Operations *prometheus.CounterVec
	Finalize   *prometheus.CounterVec
	Tendered   *prometheus.CounterVec
}

// NewCheckoutMetrics registers the checkout collectors on reg.
func NewCheckoutMetrics(namespace string, reg prometheus.Registerer) *CheckoutMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &CheckoutMetrics{
		Operations: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_operations_total",
			Help:      "Checkout session operations by outcome.",
		}, []string{"op", "result"})),
		Finalize: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_finalize_total",
			Help:      "Finalize attempts by outcome.",
		}, []string{"result"})),
		Tendered: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_tendered_minor_total",
			Help:      "Amount tendered on finalized transactions in minor currency units.",
		}, []string{"method"})),
	}
}

// Operation records one session operation.
func (m *CheckoutMetrics) Operation(op, result string) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(op, result).Inc()
}

// Finalized records a finalize outcome.
func (m *CheckoutMetrics) Finalized(result string) {
	if m == nil {
		return
	}
	m.Finalize.WithLabelValues(result).Inc()
}

// AddTendered adds minor units tendered with method.
func (m *CheckoutMetrics) AddTendered(method string, minor int64) {
	if m == nil || minor <= 0 {
		return
	}
	m.Tendered.WithLabelValues(method).Add(float64(minor))
}
