package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(reaperLocksClearedTotal, reaperSweepsTotal) }

var reaperLocksClearedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "reaper_locks_cleared_total",
		Help: "Expired site locks cleared by the background reaper.",
	},
)

var reaperSweepsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "reaper_sweeps_total",
		Help: "Reaper sweep executions, labeled by outcome.",
	},
	[]string{"outcome"}, // 'ok', 'error'
)

func AddReaperLocksCleared(n int) {
	if n > 0 {
		reaperLocksClearedTotal.Add(float64(n))
	}
}

func IncReaperSweep(outcome string) { reaperSweepsTotal.WithLabelValues(norm(outcome)).Inc() }
