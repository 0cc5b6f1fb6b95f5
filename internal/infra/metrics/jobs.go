package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(jobsStoredTotal)
}

var jobsStoredTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "jobs_stored_total",
		Help: "Scraped job listings stored by the ingest endpoint.",
	},
)

func AddJobsStored(n int) {
	if n > 0 {
		jobsStoredTotal.Add(float64(n))
	}
}
