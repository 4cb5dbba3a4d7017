package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "blood_matching", Name: "requests_created_total", Help: "Blood requests created"},
		[]string{"type"},
	)
	StatusTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "blood_matching", Name: "status_transitions_total", Help: "Applied request status transitions"},
		[]string{"from", "to"},
	)
	MatchCandidates = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "blood_matching",
			Name:      "match_candidates",
			Help:      "Number of candidates returned by a match",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100},
		},
		[]string{"kind"},
	)
	MatchLatency          = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: "blood_matching", Name: "match_latency_seconds", Help: "Match latency seconds"})
	StockRejections       = promauto.NewCounter(prometheus.CounterOpts{Namespace: "blood_matching", Name: "stock_rejections_total", Help: "Approvals refused for insufficient stock"})
	EligibilityRejections = promauto.NewCounter(prometheus.CounterOpts{Namespace: "blood_matching", Name: "eligibility_rejections_total", Help: "Acceptances refused during donor cooldown"})
	LocationUpdates       = promauto.NewCounter(prometheus.CounterOpts{Namespace: "blood_matching", Name: "hospital_location_updates_total", Help: "Hospital self-service location updates"})
	NotificationsLogged   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "blood_matching", Name: "notifications_total", Help: "Parties a request was announced to"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "blood_matching", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "blood_matching",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
