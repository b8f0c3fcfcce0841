package wren

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricConnection = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wren_connection_total",
			Help: "Incoming connections by result: accepted, limit, iplimit, rejected.",
		},
		[]string{
			"protocol", // "smtp" or "lmtp"
			"result",
		},
	)
	metricActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "wren_connection_active",
			Help: "Connections currently open.",
		},
		[]string{"protocol"},
	)
	metricCommands = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wren_command_duration_seconds",
			Help:    "Command duration and result codes in seconds.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.100, 0.5, 1, 5, 10, 20, 30, 60},
		},
		[]string{
			"protocol",
			"cmd",
			"code",
		},
	)
	metricErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wren_errors_total",
			Help: "Server side errors, known values: linetoolong, badlineending, internal, panic, write, idle.",
		},
		[]string{
			"protocol",
			"error",
		},
	)
)
