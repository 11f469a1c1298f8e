package notify

import "github.com/prometheus/client_golang/prometheus"

var deliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "karirconnect",
	Subsystem: "notify",
	Name:      "deliveries_total",
	Help:      "Outbound notification deliveries by event type and result.",
}, []string{"type", "result"})

func init() {
	prometheus.MustRegister(deliveriesTotal)
}
