package fastfail

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var metricRejections = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "wren_fastfail_rejections_total",
		Help: "Commands rejected by policy hooks, known values: dnsrbl, maxrcpt, rcptdomain, senderdomain, ipfilter, ratelimit.",
	},
	[]string{"hook"},
)
