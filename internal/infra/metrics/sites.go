package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(siteLeasesTotal, siteLeasesEmptyTotal, siteResultsTotal) }

var siteLeasesTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "site_leases_total",
		Help: "Total number of site leases granted.",
	},
)

var siteLeasesEmptyTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "site_leases_empty_total",
		Help: "Lease attempts that found no eligible site.",
	},
)

var siteResultsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "site_results_total",
		Help: "Site outcome reports, labeled by result.",
	},
	[]string{"result"}, // 'completed', 'failed', 'released', 'retried'
)

func IncSiteLease()            { siteLeasesTotal.Inc() }
func IncSiteLeaseEmpty()       { siteLeasesEmptyTotal.Inc() }
func IncSiteResult(res string) { siteResultsTotal.WithLabelValues(norm(res)).Inc() }
