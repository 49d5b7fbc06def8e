package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// WrapsAddedTotal counts wraps confirmed into a cart.
	WrapsAddedTotal prometheus.Counter
	// WrapsRemovedTotal counts wraps removed from a cart before submission.
	WrapsRemovedTotal prometheus.Counter
	// ItemToggleTotal counts ingredient toggles by outcome (added, removed, rejected).
	ItemToggleTotal *prometheus.CounterVec
	// OrderSubmissionsTotal counts order hand-offs by submitter outcome.
	OrderSubmissionsTotal *prometheus.CounterVec
	// OrderValueCents records the value of submitted orders in cents.
	OrderValueCents prometheus.Histogram
	// SessionsActive tracks open ordering sessions.
	SessionsActive prometheus.Gauge
	// KitchenTicketsTotal counts orders consumed by the kitchen worker.
	KitchenTicketsTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		WrapsAddedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wraps_added_total",
			Help:      "Number of wraps confirmed into a cart.",
		})
		WrapsRemovedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wraps_removed_total",
			Help:      "Number of wraps removed from a cart.",
		})
		ItemToggleTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "item_toggle_total",
			Help:      "Count of ingredient toggles by outcome.",
		}, []string{"result"})
		OrderSubmissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_submissions_total",
			Help:      "Count of order submissions by submitter outcome.",
		}, []string{"result"})
		OrderValueCents = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "order_value_cents",
			Help:      "Distribution of submitted order totals in cents.",
			Buckets:   []float64{500, 1000, 2000, 3000, 5000, 7500, 10000, 20000},
		})
		SessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Current number of open ordering sessions.",
		})
		KitchenTicketsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kitchen_tickets_total",
			Help:      "Count of orders consumed by the kitchen worker by outcome.",
		}, []string{"source", "result"})

		mustRegisterCollector(reg, WrapsAddedTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Counter); ok {
				WrapsAddedTotal = v
			}
		})
		mustRegisterCollector(reg, WrapsRemovedTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Counter); ok {
				WrapsRemovedTotal = v
			}
		})
		mustRegisterCollector(reg, ItemToggleTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				ItemToggleTotal = v
			}
		})
		mustRegisterCollector(reg, OrderSubmissionsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				OrderSubmissionsTotal = v
			}
		})
		mustRegisterCollector(reg, OrderValueCents, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Histogram); ok {
				OrderValueCents = v
			}
		})
		mustRegisterCollector(reg, SessionsActive, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Gauge); ok {
				SessionsActive = v
			}
		})
		mustRegisterCollector(reg, KitchenTicketsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				KitchenTicketsTotal = v
			}
		})
	})
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
