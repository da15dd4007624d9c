package externalops

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreyhq/drey/pkg/audit"
	"github.com/dreyhq/drey/pkg/connector"
	"github.com/dreyhq/drey/pkg/storage"
	"github.com/dreyhq/drey/pkg/types"
	"github.com/dreyhq/drey/pkg/vault"
)

func newTestOps(t *testing.T, typeName string, conn *connector.Fake) (*Ops, *storage.Mem) {
	t.Helper()
	store := storage.NewMem()
	v, err := vault.New([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	registry := connector.NewRegistry()
	registry.Register(typeName, connector.FakeFactory(conn))
	return New(store, v, registry, audit.NewRecorder(store)), store
}

func seedExternalResource(t *testing.T, store *storage.Mem, typeName string, mode types.LifecycleMode) *types.Resource {
	t.Helper()
	team := store.SeedTeam("storage-ops", false)
	rt := store.SeedResourceType(types.ResourceType{
		Name:                     typeName,
		Category:                 "storage",
		SupportsPartialLifecycle: true,
	})
	res := &types.Resource{
		Name:            "east-pool",
		ResourceTypeID:  rt.ID,
		TeamID:          team.ID,
		Status:          types.StatusActive,
		LifecycleMode:   mode,
		CanModifyConfig: true,
		CanModifyUsers:  true,
		CanBackup:       true,
		ConnectionInfo:  &types.ConnectionInfo{Host: "ceph-mgr.internal", Port: 8443},
	}
	require.NoError(t, store.CreateResource(context.Background(), res))
	return res
}

func TestCollectStatsCriticalDisk(t *testing.T) {
	conn := &connector.Fake{Stats: types.Metrics{
		"used_bytes":  96000,
		"total_bytes": 100000,
	}}
	ops, store := newTestOps(t, types.TypeCeph, conn)
	res := seedExternalResource(t, store, types.TypeCeph, types.LifecycleMonitorOnly)
	ctx := context.Background()

	stat, err := ops.CollectStats(ctx, res.ID, nil)
	require.NoError(t, err)

	assert.Equal(t, types.RiskCritical, stat.RiskLevel)
	assert.Contains(t, stat.RiskFactors, "Disk usage critical: 96.0%")
	assert.InDelta(t, 96.0, stat.Metrics["disk_usage_percent"], 0.001)

	rows, err := store.ListResourceStats(ctx, res.ID, stat.Timestamp.Add(-1))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, types.RiskCritical, rows[0].RiskLevel)

	// Critical assessments leave an audit trail.
	logs := store.AuditLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, types.ActionCollectStats, logs[0].Action)
}

func TestCollectStatsLowRiskSkipsAudit(t *testing.T) {
	conn := &connector.Fake{Stats: types.Metrics{
		"used_bytes":  10000,
		"total_bytes": 100000,
	}}
	ops, store := newTestOps(t, types.TypeCeph, conn)
	res := seedExternalResource(t, store, types.TypeCeph, types.LifecycleMonitorOnly)

	stat, err := ops.CollectStats(context.Background(), res.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, types.RiskLow, stat.RiskLevel)
	assert.Empty(t, stat.RiskFactors)
	assert.Empty(t, store.AuditLogs())
}

func TestSyncUsersCreatesMissingUser(t *testing.T) {
	conn := &connector.Fake{}
	ops, store := newTestOps(t, types.TypeMariaDB, conn)
	res := seedExternalResource(t, store, types.TypeMariaDB, types.LifecyclePartial)
	ctx := context.Background()

	alice := &types.ResourceUser{
		ResourceID:   res.ID,
		Username:     "alice",
		PasswordHash: "s3cret-hash",
		Roles:        []string{"readwrite"},
		SyncStatus:   types.SyncPending,
	}
	require.NoError(t, store.CreateResourceUser(ctx, alice))

	results, err := ops.SyncUsers(ctx, res.ID, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Synced)
	assert.Empty(t, results[0].Error)

	assert.Equal(t, 1, conn.Calls("CreateUser"))
	assert.Equal(t, 0, conn.Calls("UpdateUser"))

	got, err := store.GetResourceUser(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, types.SyncSynced, got.SyncStatus)
	require.NotNil(t, got.LastSyncedAt)
	assert.Empty(t, got.SyncError)

	logs := store.AuditLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, types.ActionSyncUsers, logs[0].Action)
}

func TestSyncUsersUpdatesExistingUser(t *testing.T) {
	conn := &connector.Fake{Users: map[string]connector.UserSpec{
		"alice": {Username: "alice"},
	}}
	ops, store := newTestOps(t, types.TypeMariaDB, conn)
	res := seedExternalResource(t, store, types.TypeMariaDB, types.LifecyclePartial)
	ctx := context.Background()

	alice := &types.ResourceUser{ResourceID: res.ID, Username: "alice", SyncStatus: types.SyncPending}
	require.NoError(t, store.CreateResourceUser(ctx, alice))

	results, err := ops.SyncUsers(ctx, res.ID, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Synced)
	assert.Equal(t, 0, conn.Calls("CreateUser"))
	assert.Equal(t, 1, conn.Calls("UpdateUser"))
}

func TestSyncUsersRecordsClassifiedError(t *testing.T) {
	conn := &connector.Fake{Err: &connector.Error{
		Kind: connector.ErrKindAuth, Op: "UserExists", Err: errors.New("access denied"),
	}}
	ops, store := newTestOps(t, types.TypeMariaDB, conn)
	res := seedExternalResource(t, store, types.TypeMariaDB, types.LifecyclePartial)
	ctx := context.Background()

	bob := &types.ResourceUser{ResourceID: res.ID, Username: "bob", SyncStatus: types.SyncPending}
	require.NoError(t, store.CreateResourceUser(ctx, bob))

	results, err := ops.SyncUsers(ctx, res.ID, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Synced)
	assert.Equal(t, "Authentication failed - check credentials", results[0].Error)

	got, err := store.GetResourceUser(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, types.SyncError, got.SyncStatus)
	assert.Equal(t, "Authentication failed - check credentials", got.SyncError)
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		kind connector.ErrorKind
		want string
	}{
		{connector.ErrKindConnection, "Connection failed - will retry"},
		{connector.ErrKindConfig, "Invalid configuration - requires manual review"},
		{connector.ErrKindAuth, "Authentication failed - check credentials"},
		{connector.ErrKindBackend, "Unexpected error occurred - check logs"},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			err := &connector.Error{Kind: tt.kind, Op: "op", Err: errors.New("boom")}
			assert.Equal(t, tt.want, ClassifyError(err))
		})
	}
	assert.Equal(t, "Unexpected error occurred - check logs", ClassifyError(errors.New("plain")))
}

func TestUpdateConfigMergesAndAudits(t *testing.T) {
	conn := &connector.Fake{}
	ops, store := newTestOps(t, types.TypeMariaDB, conn)
	res := seedExternalResource(t, store, types.TypeMariaDB, types.LifecyclePartial)
	ctx := context.Background()

	require.NoError(t, ops.UpdateConfig(ctx, res.ID, map[string]any{"max_connections": 500}, nil))

	assert.Equal(t, 500, conn.Config["max_connections"])
	got, err := store.GetResource(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, 500, got.Config["max_connections"])

	logs := store.AuditLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, types.ActionUpdateConfig, logs[0].Action)
}

func TestUpdateConfigRejectsFullLifecycle(t *testing.T) {
	conn := &connector.Fake{}
	ops, store := newTestOps(t, types.TypeMariaDB, conn)
	res := seedExternalResource(t, store, types.TypeMariaDB, types.LifecycleFull)

	err := ops.UpdateConfig(context.Background(), res.ID, map[string]any{"k": "v"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "require partial or monitor_only")
}

func TestTriggerBackupRecordsJob(t *testing.T) {
	conn := &connector.Fake{BackupPath: "/backups/east-pool/dump.tar.gz"}
	ops, store := newTestOps(t, types.TypeMariaDB, conn)
	res := seedExternalResource(t, store, types.TypeMariaDB, types.LifecyclePartial)
	ctx := context.Background()

	job, err := ops.TriggerBackup(ctx, res.ID, types.BackupFull, "/backups", nil)
	require.NoError(t, err)
	assert.Equal(t, types.BackupCompleted, job.Status)
	assert.Equal(t, "/backups/east-pool/dump.tar.gz", job.BackupLocation)
	require.NotNil(t, job.StartedAt)
	require.NotNil(t, job.CompletedAt)

	logs := store.AuditLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, types.ActionTriggerBackup, logs[0].Action)
}

func TestTriggerBackupFailureMarksJobFailed(t *testing.T) {
	conn := &connector.Fake{Err: errors.New("disk full")}
	ops, store := newTestOps(t, types.TypeMariaDB, conn)
	res := seedExternalResource(t, store, types.TypeMariaDB, types.LifecyclePartial)

	job, err := ops.TriggerBackup(context.Background(), res.ID, types.BackupFull, "/backups", nil)
	require.Error(t, err)
	require.NotNil(t, job)
	assert.Equal(t, types.BackupFailed, job.Status)
	assert.Contains(t, job.ErrorMessage, "disk full")
	assert.Empty(t, store.AuditLogs())
}

func TestNormalizeDerivedFields(t *testing.T) {
	redis := Normalize(types.TypeRedis, types.Metrics{
		"used_memory_bytes": 750.0,
		"maxmemory":         1000.0,
	})
	assert.InDelta(t, 75.0, redis["used_memory_percent"], 0.001)

	san := Normalize(types.TypeSAN, types.Metrics{
		"used_bytes":  40.0,
		"total_bytes": 80.0,
	})
	assert.InDelta(t, 50.0, san["disk_usage_percent"], 0.001)

	// Already-present values are not overwritten.
	ceph := Normalize(types.TypeCeph, types.Metrics{
		"disk_usage_percent": 12.5,
		"used_bytes":         90.0,
		"total_bytes":        100.0,
	})
	assert.InDelta(t, 12.5, ceph["disk_usage_percent"], 0.001)
}
