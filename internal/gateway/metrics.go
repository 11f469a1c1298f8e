package gateway

import "github.com/muhammad-febriansyah/karrirconnect-sub005/internal/metrics"

// observeGateway records an outbound provider call by operation and result.
func observeGateway(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.GatewayRequestsTotal.WithLabelValues(op, result).Inc()
}
