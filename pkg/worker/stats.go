package worker

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/dreyhq/drey/pkg/cluster"
	"github.com/dreyhq/drey/pkg/connector"
	"github.com/dreyhq/drey/pkg/externalops"
	"github.com/dreyhq/drey/pkg/log"
	"github.com/dreyhq/drey/pkg/metrics"
	"github.com/dreyhq/drey/pkg/risk"
	"github.com/dreyhq/drey/pkg/storage"
	"github.com/dreyhq/drey/pkg/types"
	"github.com/dreyhq/drey/pkg/vault"
)

// StatsCollector samples metrics for every active resource, assesses risk
// and exports the result as Prometheus gauges plus a stat row.
type StatsCollector struct {
	store    storage.Store
	vault    *vault.Vault
	registry *connector.Registry
	cluster  cluster.Client
	interval time.Duration
	logger   zerolog.Logger
}

// NewStatsCollector wires the collection worker with a 60-second interval
func NewStatsCollector(store storage.Store, v *vault.Vault, registry *connector.Registry, c cluster.Client, interval time.Duration) *StatsCollector {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &StatsCollector{
		store:    store,
		vault:    v,
		registry: registry,
		cluster:  c,
		interval: interval,
		logger:   log.WithWorker("stats-collector"),
	}
}

func (s *StatsCollector) Name() string            { return "stats-collector" }
func (s *StatsCollector) Interval() time.Duration { return s.interval }

// Cycle collects from every active full and partial resource. One
// resource's failure is counted and skipped, never fatal for the cycle.
func (s *StatsCollector) Cycle(ctx context.Context) error {
	timer := prometheusTimer("cycle")
	defer timer()

	resources, err := s.store.ListResources(ctx, storage.ResourceFilter{
		Status:         []types.ResourceStatus{types.StatusActive},
		LifecycleModes: []types.LifecycleMode{types.LifecycleFull, types.LifecyclePartial},
	})
	if err != nil {
		return err
	}

	for _, res := range resources {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rt, err := s.store.GetResourceType(ctx, res.ResourceTypeID)
		if err != nil {
			s.logger.Error().Err(err).Int64("resource_id", res.ID).Msg("failed to resolve resource type")
			metrics.StatsCollectionErrors.WithLabelValues("unknown").Inc()
			continue
		}
		if err := s.collectOne(ctx, res, rt); err != nil {
			s.logger.Error().Err(err).Int64("resource_id", res.ID).
				Str("resource_type", rt.Name).Msg("stats collection failed")
			metrics.StatsCollectionErrors.WithLabelValues(rt.Name).Inc()
		}
	}
	return nil
}

func (s *StatsCollector) collectOne(ctx context.Context, res *types.Resource, rt *types.ResourceType) error {
	stop := prometheusTimer("collect")
	defer stop()

	var (
		m   types.Metrics
		err error
	)
	if res.IsClusterBound() {
		m, err = s.collectCluster(ctx, res)
	} else {
		m, err = s.collectExternal(ctx, res, rt)
	}
	if err != nil {
		return err
	}

	level, factors := risk.Evaluate(m)
	stat := &types.ResourceStat{
		ResourceID:  res.ID,
		Metrics:     m,
		RiskLevel:   level,
		RiskFactors: factors,
	}
	if err := s.store.InsertResourceStat(ctx, stat); err != nil {
		return err
	}

	exportGauges(res, m, level)
	if level == types.RiskHigh || level == types.RiskCritical {
		s.logger.Warn().Int64("resource_id", res.ID).Str("resource", res.Name).
			Str("risk_level", string(level)).Strs("risk_factors", factors).
			Msg("elevated resource risk")
	}
	return nil
}

// collectCluster aggregates the pod usage samples of a cluster-hosted
// workload into the normalized schema.
func (s *StatsCollector) collectCluster(ctx context.Context, res *types.Resource) (types.Metrics, error) {
	pods, err := s.cluster.GetPodMetrics(ctx, res.K8sNamespace, res.K8sResourceName)
	if err != nil {
		return nil, err
	}
	if len(pods) == 0 {
		return nil, fmt.Errorf("no pod metrics for %s/%s", res.K8sNamespace, res.K8sResourceName)
	}

	var millicores, memoryBytes, netIn, netOut float64
	for _, pod := range pods {
		cpu, err := parseCPUQuantity(pod.CPUUsage)
		if err != nil {
			return nil, fmt.Errorf("pod %s: %w", pod.PodName, err)
		}
		mem, err := parseByteQuantity(pod.MemoryUsage)
		if err != nil {
			return nil, fmt.Errorf("pod %s: %w", pod.PodName, err)
		}
		millicores += cpu
		memoryBytes += mem
		netIn += float64(pod.NetworkInBytes)
		netOut += float64(pod.NetworkOutBytes)
	}

	cpuPercent := millicores / 1000 * 100
	if cpuPercent > 100 {
		cpuPercent = 100
	}
	return types.Metrics{
		"cpu_percent":        cpuPercent,
		"cpu_millicores":     millicores,
		"memory_usage_bytes": memoryBytes,
		"network_in_bytes":   netIn,
		"network_out_bytes":  netOut,
		"pod_count":          len(pods),
	}, nil
}

// collectExternal samples through the resource's connector.
func (s *StatsCollector) collectExternal(ctx context.Context, res *types.Resource, rt *types.ResourceType) (types.Metrics, error) {
	var (
		creds map[string]string
		err   error
	)
	if len(res.Credentials) > 0 {
		creds, err = s.vault.DecryptMap(res.Credentials)
		if err != nil {
			return nil, err
		}
	}
	conn, err := s.registry.New(rt.Name, res.ConnectionInfo, creds)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	m, err := conn.CollectStats(ctx)
	if err != nil {
		return nil, err
	}
	return externalops.Normalize(rt.Name, m), nil
}

// exportGauges publishes the sample under the resource's id and name labels
func exportGauges(res *types.Resource, m types.Metrics, level types.RiskLevel) {
	id := strconv.FormatInt(res.ID, 10)
	name := res.Name

	if v, ok := metricFloat(m, "cpu_percent"); ok {
		metrics.ResourceCPUPercent.WithLabelValues(id, name).Set(v)
	}
	if v, ok := metricFloat(m, "memory_usage_bytes", "used_memory_bytes"); ok {
		metrics.ResourceMemoryBytes.WithLabelValues(id, name).Set(v)
	}
	if v, ok := metricFloat(m, "memory_usage_percent", "memory_percent", "used_memory_percent"); ok {
		metrics.ResourceMemoryPercent.WithLabelValues(id, name).Set(v)
	}
	if v, ok := metricFloat(m, "disk_usage_percent"); ok {
		metrics.ResourceDiskUsagePercent.WithLabelValues(id, name).Set(v)
	}
	if v, ok := metricFloat(m, "network_in_bytes"); ok {
		metrics.ResourceNetworkInBytes.WithLabelValues(id, name).Set(v)
	}
	if v, ok := metricFloat(m, "network_out_bytes"); ok {
		metrics.ResourceNetworkOutBytes.WithLabelValues(id, name).Set(v)
	}
	if v, ok := metricFloat(m, "cache_hit_ratio"); ok {
		metrics.ResourceCacheHitRatio.WithLabelValues(id, name).Set(v)
	}
	if conns, ok := m["connections"].(map[string]any); ok {
		for connType, raw := range conns {
			if v, ok := anyFloat(raw); ok {
				metrics.ResourceConnections.WithLabelValues(id, name, connType).Set(v)
			}
		}
	}
	metrics.ResourceRiskLevel.WithLabelValues(id, name).Set(float64(level.Severity()))
}

func metricFloat(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := anyFloat(m[k]); ok {
			return v, true
		}
	}
	return 0, false
}

func anyFloat(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// prometheusTimer observes elapsed seconds for one operation on call of
// the returned func
func prometheusTimer(operation string) func() {
	start := time.Now()
	return func() {
		metrics.StatsCollectionDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}
}
