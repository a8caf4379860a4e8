package moderation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var analysisDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name: "modgate_analysis_duration_sec",
	Help: "Duration of moderation API analysis calls",
})

var analysisCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "modgate_analysis_count",
	Help: "Number of moderation API analysis calls, by result",
}, []string{"result"})

var enforcementCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "modgate_enforcement_count",
	Help: "Number of enforcement decisions, by behavior and decision",
}, []string{"behavior", "decision"})

var webhookCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "modgate_webhook_count",
	Help: "Number of processed moderation webhooks, by action and HTTP status",
}, []string{"action", "status"})
