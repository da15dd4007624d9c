// Package externalops operates on partial and monitor-only resources
// through their connectors: config updates, user sync, backups, restores,
// stats collection and risk assessment.
package externalops

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/dreyhq/drey/pkg/audit"
	"github.com/dreyhq/drey/pkg/connector"
	"github.com/dreyhq/drey/pkg/log"
	"github.com/dreyhq/drey/pkg/metrics"
	"github.com/dreyhq/drey/pkg/risk"
	"github.com/dreyhq/drey/pkg/storage"
	"github.com/dreyhq/drey/pkg/types"
	"github.com/dreyhq/drey/pkg/vault"
)

// Ops executes operations on externally-hosted resources.
type Ops struct {
	store    storage.Store
	vault    *vault.Vault
	registry *connector.Registry
	audit    *audit.Recorder
	logger   zerolog.Logger
}

// New wires the external operations component
func New(store storage.Store, v *vault.Vault, registry *connector.Registry, recorder *audit.Recorder) *Ops {
	return &Ops{
		store:    store,
		vault:    v,
		registry: registry,
		audit:    recorder,
		logger:   log.WithComponent("externalops"),
	}
}

// loadResource validates lifecycle mode and builds a connector
func (o *Ops) loadResource(ctx context.Context, resourceID int64) (*types.Resource, *types.ResourceType, connector.Connector, error) {
	res, err := o.store.GetResource(ctx, resourceID)
	if err != nil {
		return nil, nil, nil, err
	}
	switch res.LifecycleMode {
	case types.LifecyclePartial, types.LifecycleMonitorOnly:
	default:
		return nil, nil, nil, fmt.Errorf("resource %d has lifecycle mode %q; external operations require partial or monitor_only",
			resourceID, res.LifecycleMode)
	}
	rt, err := o.store.GetResourceType(ctx, res.ResourceTypeID)
	if err != nil {
		return nil, nil, nil, err
	}

	var creds map[string]string
	if len(res.Credentials) > 0 {
		creds, err = o.vault.DecryptMap(res.Credentials)
		if err != nil {
			return nil, nil, nil, err
		}
	}
	conn, err := o.registry.New(rt.Name, res.ConnectionInfo, creds)
	if err != nil {
		return nil, nil, nil, err
	}
	return res, rt, conn, nil
}

// UpdateConfig pushes parameters to the external system and merges them
// into the stored config
func (o *Ops) UpdateConfig(ctx context.Context, resourceID int64, params map[string]any, userID *int64) error {
	res, rt, conn, err := o.loadResource(ctx, resourceID)
	if err != nil {
		return err
	}
	defer conn.Close()

	if !res.CanModifyConfig {
		return fmt.Errorf("resource %d does not allow config changes", resourceID)
	}

	if err := conn.UpdateConfig(ctx, params); err != nil {
		return err
	}

	if res.Config == nil {
		res.Config = types.Config{}
	}
	for k, v := range params {
		res.Config[k] = v
	}
	if err := o.store.UpdateResource(ctx, res); err != nil {
		return err
	}

	o.audit.Record(ctx, audit.Entry{
		UserID:       userID,
		Action:       types.ActionUpdateConfig,
		ResourceType: rt.Name,
		ResourceID:   &resourceID,
		TeamID:       &res.TeamID,
		Details:      map[string]any{"keys": keysOf(params)},
	})
	return nil
}

// UserSyncResult reports one user's sync outcome
type UserSyncResult struct {
	Username string `json:"username"`
	Synced   bool   `json:"synced"`
	Error    string `json:"error,omitempty"`
}

// SyncUsers pushes every user row for the resource to the external system
func (o *Ops) SyncUsers(ctx context.Context, resourceID int64, userID *int64) ([]UserSyncResult, error) {
	res, rt, conn, err := o.loadResource(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if !res.CanModifyUsers {
		return nil, fmt.Errorf("resource %d does not allow user management", resourceID)
	}

	users, err := o.store.ListResourceUsers(ctx, resourceID)
	if err != nil {
		return nil, err
	}

	results := make([]UserSyncResult, 0, len(users))
	for _, u := range users {
		result := UserSyncResult{Username: u.Username}

		u.SyncStatus = types.SyncSyncing
		if err := o.store.UpdateResourceUser(ctx, u); err != nil {
			result.Error = err.Error()
			results = append(results, result)
			continue
		}

		if err := SyncOne(ctx, conn, u); err != nil {
			u.SyncStatus = types.SyncError
			u.SyncError = ClassifyError(err)
			result.Error = u.SyncError
		} else {
			now := time.Now().UTC()
			u.SyncStatus = types.SyncSynced
			u.LastSyncedAt = &now
			u.SyncError = ""
			result.Synced = true
		}
		if err := o.store.UpdateResourceUser(ctx, u); err != nil {
			o.logger.Error().Err(err).Int64("resource_user_id", u.ID).Msg("failed to persist sync outcome")
		}
		results = append(results, result)
	}

	o.audit.Record(ctx, audit.Entry{
		UserID:       userID,
		Action:       types.ActionSyncUsers,
		ResourceType: rt.Name,
		ResourceID:   &resourceID,
		TeamID:       &res.TeamID,
		Details:      map[string]any{"users": len(results)},
	})
	return results, nil
}

// SyncOne materializes a single user row on the external system
func SyncOne(ctx context.Context, conn connector.Connector, u *types.ResourceUser) error {
	exists, err := conn.UserExists(ctx, u.Username)
	if err != nil {
		return err
	}
	spec := connector.UserSpec{
		Username: u.Username,
		Password: u.PasswordHash,
		Roles:    u.Roles,
	}
	if exists {
		return conn.UpdateUser(ctx, u.Username, spec)
	}
	return conn.CreateUser(ctx, spec)
}

// ClassifyError turns a connector failure into a user-facing sync message
func ClassifyError(err error) string {
	switch connector.KindOf(err) {
	case connector.ErrKindConnection:
		return "Connection failed - will retry"
	case connector.ErrKindConfig:
		return "Invalid configuration - requires manual review"
	case connector.ErrKindAuth:
		return "Authentication failed - check credentials"
	default:
		return "Unexpected error occurred - check logs"
	}
}

// TriggerBackup runs a backup through the connector, recording a job row
// through its full state machine
func (o *Ops) TriggerBackup(ctx context.Context, resourceID int64, backupType types.BackupType, location string, userID *int64) (*types.BackupJob, error) {
	res, rt, conn, err := o.loadResource(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if !res.CanBackup {
		return nil, fmt.Errorf("resource %d does not allow backups", resourceID)
	}

	job := &types.BackupJob{
		ResourceID: resourceID,
		JobType:    backupType,
		Status:     types.BackupPending,
		CreatedBy:  userID,
	}
	if err := o.store.CreateBackupJob(ctx, job); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	job.Status = types.BackupRunning
	job.StartedAt = &now
	if err := o.store.UpdateBackupJob(ctx, job); err != nil {
		return nil, err
	}

	path, err := conn.TriggerBackup(ctx, location, connector.BackupOptions{Type: backupType})
	done := time.Now().UTC()
	job.CompletedAt = &done
	if err != nil {
		job.Status = types.BackupFailed
		job.ErrorMessage = err.Error()
		if uerr := o.store.UpdateBackupJob(ctx, job); uerr != nil {
			o.logger.Error().Err(uerr).Int64("job_id", job.ID).Msg("failed to persist failed backup job")
		}
		metrics.BackupJobsTotal.WithLabelValues(string(backupType), string(types.BackupFailed)).Inc()
		return job, err
	}

	job.Status = types.BackupCompleted
	job.BackupLocation = path
	job.BackupSizeBytes = fileSize(path)
	if err := o.store.UpdateBackupJob(ctx, job); err != nil {
		return nil, err
	}

	metrics.BackupJobsTotal.WithLabelValues(string(backupType), string(types.BackupCompleted)).Inc()
	o.audit.Record(ctx, audit.Entry{
		UserID:       userID,
		Action:       types.ActionTriggerBackup,
		ResourceType: rt.Name,
		ResourceID:   &resourceID,
		TeamID:       &res.TeamID,
		Details:      map[string]any{"location": path, "type": string(backupType)},
	})
	return job, nil
}

// RestoreBackup replays a backup artifact through the connector
func (o *Ops) RestoreBackup(ctx context.Context, resourceID int64, location string, userID *int64) (*types.BackupJob, error) {
	res, rt, conn, err := o.loadResource(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if !res.CanBackup {
		return nil, fmt.Errorf("resource %d does not allow backups", resourceID)
	}

	job := &types.BackupJob{
		ResourceID:     resourceID,
		JobType:        types.BackupRestore,
		Status:         types.BackupPending,
		BackupLocation: location,
		CreatedBy:      userID,
	}
	if err := o.store.CreateBackupJob(ctx, job); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	job.Status = types.BackupRunning
	job.StartedAt = &now
	if err := o.store.UpdateBackupJob(ctx, job); err != nil {
		return nil, err
	}

	err = conn.RestoreBackup(ctx, location, connector.BackupOptions{Type: types.BackupRestore})
	done := time.Now().UTC()
	job.CompletedAt = &done
	if err != nil {
		job.Status = types.BackupFailed
		job.ErrorMessage = err.Error()
		if uerr := o.store.UpdateBackupJob(ctx, job); uerr != nil {
			o.logger.Error().Err(uerr).Int64("job_id", job.ID).Msg("failed to persist failed restore job")
		}
		return job, err
	}

	job.Status = types.BackupCompleted
	if err := o.store.UpdateBackupJob(ctx, job); err != nil {
		return nil, err
	}

	o.audit.Record(ctx, audit.Entry{
		UserID:       userID,
		Action:       types.ActionRestoreBackup,
		ResourceType: rt.Name,
		ResourceID:   &resourceID,
		TeamID:       &res.TeamID,
		Details:      map[string]any{"location": location},
	})
	return job, nil
}

// CollectStats samples metrics, assesses risk and records a stat row.
// High and critical assessments also leave an audit trail.
func (o *Ops) CollectStats(ctx context.Context, resourceID int64, userID *int64) (*types.ResourceStat, error) {
	res, rt, conn, err := o.loadResource(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	m, err := conn.CollectStats(ctx)
	if err != nil {
		return nil, err
	}
	m = Normalize(rt.Name, m)

	level, factors := risk.Evaluate(m)
	stat := &types.ResourceStat{
		ResourceID:  resourceID,
		Metrics:     m,
		RiskLevel:   level,
		RiskFactors: factors,
	}
	if err := o.store.InsertResourceStat(ctx, stat); err != nil {
		return nil, err
	}

	if level == types.RiskHigh || level == types.RiskCritical {
		o.audit.Record(ctx, audit.Entry{
			UserID:       userID,
			Action:       types.ActionCollectStats,
			ResourceType: rt.Name,
			ResourceID:   &resourceID,
			TeamID:       &res.TeamID,
			Details: map[string]any{
				"risk_level":   string(level),
				"risk_factors": factors,
			},
		})
	}
	return stat, nil
}

// TestConnection verifies the external system is reachable
func (o *Ops) TestConnection(ctx context.Context, resourceID int64) error {
	_, _, conn, err := o.loadResource(ctx, resourceID)
	if err != nil {
		return err
	}
	defer conn.Close()
	return conn.TestConnection(ctx)
}

// ReloadConfiguration asks the external system to re-read its config
func (o *Ops) ReloadConfiguration(ctx context.Context, resourceID int64, userID *int64) error {
	res, rt, conn, err := o.loadResource(ctx, resourceID)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.ReloadConfig(ctx); err != nil {
		return err
	}

	o.audit.Record(ctx, audit.Entry{
		UserID:       userID,
		Action:       types.ActionReloadConfig,
		ResourceType: rt.Name,
		ResourceID:   &resourceID,
		TeamID:       &res.TeamID,
	})
	return nil
}

func keysOf(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}
