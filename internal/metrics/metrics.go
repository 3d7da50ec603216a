package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	paymentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "custody",
		Name:      "payments_total",
		Help:      "Payment workflows by terminal status.",
	}, []string{"status"})

	provisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "custody",
		Name:      "wallet_provisions_total",
		Help:      "Wallet provisioning workflows by outcome.",
	}, []string{"outcome"})

	upstreamErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "custody",
		Name:      "ledger_upstream_errors_total",
		Help:      "Transient ledger client failures.",
	})

	feeCharged = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "custody",
		Name:      "fee_charged",
		Help:      "Effective fee charged per payment, in asset units.",
		Buckets:   []float64{0.01, 0.1, 0.5, 1, 2.5, 5, 10},
	})
)

func PaymentOutcome(status string) {
	paymentsTotal.WithLabelValues(status).Inc()
}

func ProvisionOutcome(outcome string) {
	provisionsTotal.WithLabelValues(outcome).Inc()
}

func UpstreamError() {
	upstreamErrorsTotal.Inc()
}

func ObserveFee(fee float64) {
	feeCharged.Observe(fee)
}

// Handler serves the process metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
