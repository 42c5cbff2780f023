package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PasteCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "linkvault_paste_created_total",
		Help: "no. of pastes created",
	})
	PasteViewed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "linkvault_paste_viewed_total",
		Help: "no. of successful paste views",
	})
	AccessDenied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkvault_access_denied_total",
			Help: "no. of denied paste accesses by reason",
		},
		[]string{"reason"},
	)
	PasteDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkvault_paste_deleted_total",
			Help: "no. of pastes deleted by mode",
		},
		[]string{"mode"},
	)
	SweepCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "linkvault_sweep_cycles_total",
		Help: "no. of sweep worker cycles",
	})
	SweepDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "linkvault_sweep_deleted_total",
		Help: "no. of pastes removed by the sweeper",
	})
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "linkvault_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkvault_rate_limit_hits_total",
			Help: "no. of rate limit violations",
		},
		[]string{"endpoint"},
	)
	RecentErrorRatePercent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "linkvault_recent_error_rate_percent",
		Help: "5min rolling avg error rate percentage",
	})
)

func Init() {
}
