package mtasts

import "github.com/prometheus/client_golang/prometheus"

var lookupsCnt = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "mxtrust",
		Subsystem: "mtasts",
		Name:      "lookups_total",
		Help:      "MTA-STS policy lookups by the way the result was obtained",
	},
	[]string{"result"},
)

var fetchDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "mxtrust",
		Subsystem: "mtasts",
		Name:      "fetch_duration_seconds",
		Help:      "Time spent fetching the policy over HTTPS",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	},
)

var rateLimitedCnt = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "mxtrust",
		Subsystem: "mtasts",
		Name:      "rate_limited_total",
		Help:      "Policy lookups rejected due to the per-domain rate limit",
	},
)

func init() {
	prometheus.MustRegister(lookupsCnt)
	prometheus.MustRegister(fetchDuration)
	prometheus.MustRegister(rateLimitedCnt)
}
