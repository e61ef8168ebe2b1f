package click

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	clicksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clicks_processed_total",
		Help: "Processed clicks by terminal status.",
	}, []string{"status"})

	clicksFraudBlocked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clicks_fraud_blocked_total",
		Help: "Clicks blocked by fraud evaluation.",
	})
)

func observeClick(row *Click) {
	clicksProcessed.WithLabelValues(string(row.Status)).Inc()
	if row.ErrorReason == ReasonFraudBlock {
		clicksFraudBlocked.Inc()
	}
}
