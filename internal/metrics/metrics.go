package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ReportRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "biogasreport_report_runs_total",
			Help: "Total report runs by installation and outcome",
		},
		[]string{"installation", "status"},
	)

	ReportRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "biogasreport_report_run_seconds",
			Help:    "Time to compute the metrics of one report",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"installation"},
	)

	SamplesLoaded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "biogasreport_samples_loaded_total",
			Help: "Total raw samples loaded from exports",
		},
		[]string{"installation"},
	)

	EpisodesDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "biogasreport_episodes_detected_total",
			Help: "Total fault episodes found",
		},
		[]string{"installation", "subsystem"},
	)

	DegenerateMetrics = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "biogasreport_degenerate_metrics_total",
			Help: "Metrics left undefined because their aggregate was degenerate",
		},
		[]string{"installation", "metric"},
	)

	FTPFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "biogasreport_ftp_fetches_total",
			Help: "Total export retrievals over FTP",
		},
		[]string{"operation", "status"},
	)

	FTPFetchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "biogasreport_ftp_fetch_latency_seconds",
			Help:    "FTP operation latency in seconds, retries included",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)
