package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

var (
	metricsOnce sync.Once

	// QueueDepth approximates ready tasks per kind.
	QueueDepth *prometheus.GaugeVec
	// QueueProcessedTotal counts task outcomes (ok, retry, dead, expired).
	QueueProcessedTotal *prometheus.CounterVec
	// QueueDLQSize tracks dead-lettered tasks per kind.
	QueueDLQSize *prometheus.GaugeVec
)

// MustRegisterMetrics creates and registers queue collectors once.
func MustRegisterMetrics(namespace string, reg prometheus.Registerer) {
	metricsOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Approximate number of ready tasks per kind",
		}, []string{"kind"})
		QueueProcessedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_processed_total",
			Help:      "Total tasks processed grouped by status",
		}, []string{"kind", "status"})
		QueueDLQSize = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_dlq_size",
			Help:      "Number of tasks stored in DLQ",
		}, []string{"kind"})
		for _, c := range []prometheus.Collector{QueueDepth, QueueProcessedTotal, QueueDLQSize} {
			if err := reg.Register(c); err != nil {
				if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
					continue
				}
				panic(fmt.Errorf("register queue metric: %w", err))
			}
		}
	})
}

func observeProcessed(kind, status string) {
	if QueueProcessedTotal == nil {
		return
	}
	QueueProcessedTotal.WithLabelValues(kind, status).Inc()
}

func observeDepth(ctx context.Context, r *redis.Client, prefix, kind string) {
	if QueueDepth == nil || r == nil {
		return
	}
	depth, err := r.ZCard(ctx, keys(prefix).queue(kind)).Result()
	if err != nil {
		return
	}
	QueueDepth.WithLabelValues(kind).Set(float64(depth))
}

func observeDLQ(ctx context.Context, store Store, kind string) {
	if QueueDLQSize == nil || store == nil {
		return
	}
	count, err := store.CountQueueDlq(ctx, kind)
	if err != nil {
		return
	}
	QueueDLQSize.WithLabelValues(kind).Set(float64(count))
}
