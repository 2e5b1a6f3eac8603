package cart

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metric label values.
const (
	resultSuccess = "success"
	resultFailure = "failure"
)

// Prometheus metrics.
var (
	syncOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cartsync_sync_operations_total",
			Help: "Total number of server cart operations by outcome",
		},
		[]string{"operation", "result"},
	)

	migrationItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cartsync_migration_items_total",
			Help: "Total number of guest cart items replayed against the server cart",
		},
		[]string{"result"},
	)

	cartItemsGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cartsync_cart_items",
			Help: "Number of units currently in the cart",
		},
	)
)

func observeSync(operation string, err error) {
	result := resultSuccess
	if err != nil {
		result = resultFailure
	}
	syncOperationsTotal.WithLabelValues(operation, result).Inc()
}
