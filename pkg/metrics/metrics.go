// Package metrics exposes Prometheus collectors for resource telemetry and
// control plane internals.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Resource telemetry, labelled by resource id and name
	ResourceCPUPercent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "resource_cpu_percent",
			Help: "CPU utilization percent per resource",
		},
		[]string{"resource_id", "resource_name"},
	)

	ResourceMemoryBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "resource_memory_bytes",
			Help: "Memory usage in bytes per resource",
		},
		[]string{"resource_id", "resource_name"},
	)

	ResourceMemoryPercent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "resource_memory_percent",
			Help: "Memory utilization percent per resource",
		},
		[]string{"resource_id", "resource_name"},
	)

	ResourceDiskUsagePercent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "resource_disk_usage_percent",
			Help: "Disk utilization percent per resource",
		},
		[]string{"resource_id", "resource_name"},
	)

	ResourceNetworkInBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "resource_network_in_bytes",
			Help: "Network bytes received per resource",
		},
		[]string{"resource_id", "resource_name"},
	)

	ResourceNetworkOutBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "resource_network_out_bytes",
			Help: "Network bytes sent per resource",
		},
		[]string{"resource_id", "resource_name"},
	)

	ResourceConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "resource_connections",
			Help: "Connection counts per resource by connection type",
		},
		[]string{"resource_id", "resource_name", "connection_type"},
	)

	ResourceCacheHitRatio = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "resource_cache_hit_ratio",
			Help: "Cache hit ratio percent per resource",
		},
		[]string{"resource_id", "resource_name"},
	)

	// Risk level encoded as low=0, medium=1, high=2, critical=3
	ResourceRiskLevel = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "resource_risk_level",
			Help: "Assessed risk level per resource (0=low 1=medium 2=high 3=critical)",
		},
		[]string{"resource_id", "resource_name"},
	)

	StatsCollectionErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stats_collection_errors_total",
			Help: "Total stats collection failures by resource type",
		},
		[]string{"resource_type"},
	)

	StatsCollectionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stats_collection_duration_seconds",
			Help:    "Stats collection duration in seconds by operation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Control plane internals
	ProvisioningDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provisioning_duration_seconds",
			Help:    "Provisioning operation duration in seconds by job type",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
		[]string{"job_type"},
	)

	ProvisioningJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provisioning_jobs_total",
			Help: "Total provisioning jobs by type and outcome",
		},
		[]string{"job_type", "status"},
	)

	WorkerCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_cycles_total",
			Help: "Total worker cycles by worker and outcome",
		},
		[]string{"worker", "status"},
	)

	BackupJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backup_jobs_total",
			Help: "Total backup jobs by type and outcome",
		},
		[]string{"job_type", "status"},
	)

	CertificatesRenewed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "certificates_renewed_total",
			Help: "Total certificates renewed by the rotation worker",
		},
	)
)

func init() {
	prometheus.MustRegister(ResourceCPUPercent)
	prometheus.MustRegister(ResourceMemoryBytes)
	prometheus.MustRegister(ResourceMemoryPercent)
	prometheus.MustRegister(ResourceDiskUsagePercent)
	prometheus.MustRegister(ResourceNetworkInBytes)
	prometheus.MustRegister(ResourceNetworkOutBytes)
	prometheus.MustRegister(ResourceConnections)
	prometheus.MustRegister(ResourceCacheHitRatio)
	prometheus.MustRegister(ResourceRiskLevel)
	prometheus.MustRegister(StatsCollectionErrors)
	prometheus.MustRegister(StatsCollectionDuration)
	prometheus.MustRegister(ProvisioningDuration)
	prometheus.MustRegister(ProvisioningJobsTotal)
	prometheus.MustRegister(WorkerCyclesTotal)
	prometheus.MustRegister(BackupJobsTotal)
	prometheus.MustRegister(CertificatesRenewed)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
