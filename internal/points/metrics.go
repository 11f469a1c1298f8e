package points

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	transactionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "karirconnect",
		Subsystem: "points",
		Name:      "transactions_total",
		Help:      "Total point transactions recorded by kind and status.",
	}, []string{"kind", "status"})

	reconciliationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "karirconnect",
		Subsystem: "points",
		Name:      "reconciliations_total",
		Help:      "Payment notification reconciliations by outcome.",
	}, []string{"outcome"})

	debitRejections = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "karirconnect",
		Subsystem: "points",
		Name:      "debit_rejections_total",
		Help:      "Usage debits rejected for insufficient balance.",
	})

	stalePendingSwept = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "karirconnect",
		Subsystem: "points",
		Name:      "stale_pending_swept_total",
		Help:      "Stale pending purchases resolved by the sweeper.",
	})

	opDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "karirconnect",
		Subsystem: "points",
		Name:      "op_duration_seconds",
		Help:      "Duration of points service operations in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op"})
)

func init() {
	prometheus.MustRegister(
		transactionsTotal,
		reconciliationsTotal,
		debitRejections,
		stalePendingSwept,
		opDuration,
	)
}

func observeOp(op string) func() {
	start := time.Now()
	return func() {
		opDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}
