package scanner

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var expiryClosedCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "chatwarden_expiry_closed_total",
	Help: "Number of punishments closed as expired",
}, []string{"kind"})

var expiryRaceLostCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "chatwarden_expiry_race_lost_total",
	Help: "Number of expiry closes that found the punishment already closed",
}, []string{"kind"})

var expiryErrorCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "chatwarden_expiry_errors_total",
	Help: "Number of store or platform failures during expiry passes",
}, []string{"kind"})

var expiryPassDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name: "chatwarden_expiry_pass_seconds",
	Help: "Duration of expiry passes",
}, []string{"kind"})

var activityPurgedCount = promauto.NewCounter(prometheus.CounterOpts{
	Name: "chatwarden_activity_purged_total",
	Help: "Number of activity and join records purged",
})
