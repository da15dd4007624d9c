package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreyhq/drey/pkg/cluster"
	"github.com/dreyhq/drey/pkg/connector"
	"github.com/dreyhq/drey/pkg/storage"
	"github.com/dreyhq/drey/pkg/types"
	"github.com/dreyhq/drey/pkg/vault"
)

func newStatsFixture(t *testing.T, conn *connector.Fake) (*StatsCollector, *storage.Mem, *cluster.Fake) {
	t.Helper()
	store := storage.NewMem()
	v, err := vault.New([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	registry := connector.NewRegistry()
	registry.Register(types.TypeRedis, connector.FakeFactory(conn))
	fake := &cluster.Fake{}
	return NewStatsCollector(store, v, registry, fake, time.Minute), store, fake
}

func TestStatsCollectorClusterBoundResource(t *testing.T) {
	collector, store, fake := newStatsFixture(t, &connector.Fake{})
	ctx := context.Background()

	rt := store.SeedResourceType(types.ResourceType{
		Name:                  types.TypePostgreSQL,
		Category:              "database",
		SupportsFullLifecycle: true,
	})
	res := &types.Resource{
		Name:            "orders-db",
		ResourceTypeID:  rt.ID,
		TeamID:          1,
		Status:          types.StatusActive,
		LifecycleMode:   types.LifecycleFull,
		K8sNamespace:    "team-1",
		K8sResourceName: "orders-db",
	}
	require.NoError(t, store.CreateResource(ctx, res))
	fake.SetPodMetrics("team-1", "orders-db", []cluster.PodMetrics{
		{PodName: "orders-db-0", CPUUsage: "500m", MemoryUsage: "512Mi", NetworkInBytes: 1000, NetworkOutBytes: 2000},
	})

	require.NoError(t, collector.Cycle(ctx))

	stats, err := store.ListResourceStats(ctx, res.ID, time.Time{})
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.InDelta(t, 50.0, stats[0].Metrics["cpu_percent"], 0.001)
	assert.InDelta(t, float64(512*1024*1024), stats[0].Metrics["memory_usage_bytes"], 0.001)
	assert.InDelta(t, 1000, stats[0].Metrics["network_in_bytes"], 0.001)
	assert.Equal(t, types.RiskLow, stats[0].RiskLevel)
}

func TestStatsCollectorCPUPercentIsCapped(t *testing.T) {
	collector, store, fake := newStatsFixture(t, &connector.Fake{})
	ctx := context.Background()

	rt := store.SeedResourceType(types.ResourceType{
		Name:                  types.TypePostgreSQL,
		SupportsFullLifecycle: true,
	})
	res := &types.Resource{
		Name:            "busy-db",
		ResourceTypeID:  rt.ID,
		TeamID:          1,
		Status:          types.StatusActive,
		LifecycleMode:   types.LifecycleFull,
		K8sNamespace:    "team-1",
		K8sResourceName: "busy-db",
	}
	require.NoError(t, store.CreateResource(ctx, res))
	fake.SetPodMetrics("team-1", "busy-db", []cluster.PodMetrics{
		{PodName: "busy-db-0", CPUUsage: "3", MemoryUsage: "1Gi"},
	})

	require.NoError(t, collector.Cycle(ctx))

	stats, err := store.ListResourceStats(ctx, res.ID, time.Time{})
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.InDelta(t, 100.0, stats[0].Metrics["cpu_percent"], 0.001)
}

func TestStatsCollectorExternalResource(t *testing.T) {
	conn := &connector.Fake{Stats: types.Metrics{
		"used_memory_bytes": 920.0,
		"maxmemory":         1000.0,
		"cache_hit_ratio":   88.5,
	}}
	collector, store, _ := newStatsFixture(t, conn)
	ctx := context.Background()

	rt := store.SeedResourceType(types.ResourceType{
		Name:                     types.TypeRedis,
		SupportsPartialLifecycle: true,
	})
	res := &types.Resource{
		Name:           "session-cache",
		ResourceTypeID: rt.ID,
		TeamID:         1,
		Status:         types.StatusActive,
		LifecycleMode:  types.LifecyclePartial,
		ConnectionInfo: &types.ConnectionInfo{Host: "redis.internal", Port: 6379},
	}
	require.NoError(t, store.CreateResource(ctx, res))

	require.NoError(t, collector.Cycle(ctx))

	stats, err := store.ListResourceStats(ctx, res.ID, time.Time{})
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.InDelta(t, 92.0, stats[0].Metrics["used_memory_percent"], 0.001)
}

func TestStatsCollectorSkipsFailingResource(t *testing.T) {
	conn := &connector.Fake{Err: errors.New("NOAUTH")}
	collector, store, fake := newStatsFixture(t, conn)
	ctx := context.Background()

	redisType := store.SeedResourceType(types.ResourceType{
		Name:                     types.TypeRedis,
		SupportsPartialLifecycle: true,
	})
	broken := &types.Resource{
		Name:           "broken-cache",
		ResourceTypeID: redisType.ID,
		TeamID:         1,
		Status:         types.StatusActive,
		LifecycleMode:  types.LifecyclePartial,
		ConnectionInfo: &types.ConnectionInfo{Host: "redis.internal", Port: 6379},
	}
	require.NoError(t, store.CreateResource(ctx, broken))

	pgType := store.SeedResourceType(types.ResourceType{
		Name:                  types.TypePostgreSQL,
		SupportsFullLifecycle: true,
	})
	healthy := &types.Resource{
		Name:            "healthy-db",
		ResourceTypeID:  pgType.ID,
		TeamID:          1,
		Status:          types.StatusActive,
		LifecycleMode:   types.LifecycleFull,
		K8sNamespace:    "team-1",
		K8sResourceName: "healthy-db",
	}
	require.NoError(t, store.CreateResource(ctx, healthy))
	fake.SetPodMetrics("team-1", "healthy-db", []cluster.PodMetrics{
		{PodName: "healthy-db-0", CPUUsage: "100m", MemoryUsage: "128Mi"},
	})

	// One failing resource never blocks the rest of the fleet.
	require.NoError(t, collector.Cycle(ctx))

	brokenStats, err := store.ListResourceStats(ctx, broken.ID, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, brokenStats)

	healthyStats, err := store.ListResourceStats(ctx, healthy.ID, time.Time{})
	require.NoError(t, err)
	assert.Len(t, healthyStats, 1)
}

func TestStatsCollectorIgnoresInactiveAndMonitorScope(t *testing.T) {
	conn := &connector.Fake{Stats: types.Metrics{"used_memory_bytes": 1.0}}
	collector, store, _ := newStatsFixture(t, conn)
	ctx := context.Background()

	rt := store.SeedResourceType(types.ResourceType{
		Name:                     types.TypeRedis,
		SupportsPartialLifecycle: true,
	})
	paused := &types.Resource{
		Name:           "paused-cache",
		ResourceTypeID: rt.ID,
		TeamID:         1,
		Status:         types.StatusPaused,
		LifecycleMode:  types.LifecyclePartial,
		ConnectionInfo: &types.ConnectionInfo{Host: "redis.internal", Port: 6379},
	}
	require.NoError(t, store.CreateResource(ctx, paused))

	monitorOnly := &types.Resource{
		Name:           "watched-cache",
		ResourceTypeID: rt.ID,
		TeamID:         1,
		Status:         types.StatusActive,
		LifecycleMode:  types.LifecycleMonitorOnly,
		ConnectionInfo: &types.ConnectionInfo{Host: "redis.internal", Port: 6379},
	}
	require.NoError(t, store.CreateResource(ctx, monitorOnly))

	require.NoError(t, collector.Cycle(ctx))
	assert.Equal(t, 0, conn.Calls("CollectStats"))
}
