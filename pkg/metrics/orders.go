package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// OrderMetrics counts order placement and lifecycle activity.
type OrderMetrics struct {
	created        prometheus.Counter
	transitions    *prometheus.CounterVec
	stockConflicts prometheus.Counter
}

// NewOrderMetrics registers the order metrics on the provided registerer.
// A nil registerer yields a no-op recorder.
func NewOrderMetrics(reg prometheus.Registerer) *OrderMetrics {
	if reg == nil {
		return &OrderMetrics{}
	}
	created := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Orders created from carts.",
	})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "order_transitions_total",
		Help: "Committed order status transitions.",
	}, []string{"from", "to"})
	stockConflicts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stock_conflicts_total",
		Help: "Order placements rejected for insufficient stock.",
	})
	reg.MustRegister(created, transitions, stockConflicts)
	return &OrderMetrics{
		created:        created,
		transitions:    transitions,
		stockConflicts: stockConflicts,
	}
}

// IncCreated counts one placed order.
func (m *OrderMetrics) IncCreated() {
	if m == nil || m.created == nil {
		return
	}
	m.created.Inc()
}

// IncTransition counts one committed status change.
func (m *OrderMetrics) IncTransition(from, to string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(from), normalizeLabel(to)).Inc()
}

// IncStockConflict counts one placement rejected for stock.
func (m *OrderMetrics) IncStockConflict() {
	if m == nil || m.stockConflicts == nil {
		return
	}
	m.stockConflicts.Inc()
}
