package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(queueLeasesTotal, queueLeasesEmptyTotal, queueResultsTotal, queueStaleResetsTotal, queueEnqueuedTotal)
}

var queueLeasesTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "queue_leases_total",
		Help: "Total number of queue items leased.",
	},
)

var queueLeasesEmptyTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "queue_leases_empty_total",
		Help: "Queue lease attempts that found no pending item.",
	},
)

var queueResultsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "queue_results_total",
		Help: "Queue item outcome reports, labeled by result.",
	},
	[]string{"result"}, // 'completed', 'error', 'retried'
)

var queueStaleResetsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "queue_stale_resets_total",
		Help: "Running items reset to pending, labeled by trigger.",
	},
	[]string{"trigger"}, // 'lease', 'manual'
)

var queueEnqueuedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "queue_enqueued_total",
		Help: "Queue items inserted by the bulk producer.",
	},
)

func IncQueueLease()      { queueLeasesTotal.Inc() }
func IncQueueLeaseEmpty() { queueLeasesEmptyTotal.Inc() }

func IncQueueResult(res string) { queueResultsTotal.WithLabelValues(norm(res)).Inc() }

func AddQueueStaleResets(trigger string, n int) {
	if n > 0 {
		queueStaleResetsTotal.WithLabelValues(norm(trigger)).Add(float64(n))
	}
}

func AddQueueEnqueued(n int) {
	if n > 0 {
		queueEnqueuedTotal.Add(float64(n))
	}
}
