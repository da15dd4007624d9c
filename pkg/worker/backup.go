package worker

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dreyhq/drey/pkg/backup"
	"github.com/dreyhq/drey/pkg/connector"
	"github.com/dreyhq/drey/pkg/log"
	"github.com/dreyhq/drey/pkg/metrics"
	"github.com/dreyhq/drey/pkg/storage"
	"github.com/dreyhq/drey/pkg/types"
	"github.com/dreyhq/drey/pkg/vault"
)

// Schedule enumerates backup cadences
type Schedule string

const (
	ScheduleDaily   Schedule = "daily"
	ScheduleWeekly  Schedule = "weekly"
	ScheduleMonthly Schedule = "monthly"
	ScheduleCustom  Schedule = "custom"
)

const maxBackupRetries = 3

// JobSpec is one scheduled backup entry. The scheduler owns the table;
// external callers mutate it through SetSchedule/RemoveSchedule only.
type JobSpec struct {
	Schedule     Schedule
	CustomPeriod time.Duration
	Type         types.BackupType
	Enabled      bool
	LastRun      time.Time
	NextRun      time.Time
	Retries      int
}

func (s *JobSpec) period() time.Duration {
	switch s.Schedule {
	case ScheduleDaily:
		return 24 * time.Hour
	case ScheduleWeekly:
		return 7 * 24 * time.Hour
	case ScheduleMonthly:
		return 30 * 24 * time.Hour
	case ScheduleCustom:
		return s.CustomPeriod
	}
	return 24 * time.Hour
}

// BackupScheduler runs scheduled backups and daily retention cleanup.
type BackupScheduler struct {
	store    storage.Store
	vault    *vault.Vault
	registry *connector.Registry
	backend  backup.Backend
	interval time.Duration
	logger   zerolog.Logger

	RetentionDays int
	// Now is the clock; tests substitute it.
	Now func() time.Time

	mu        sync.Mutex
	schedules map[int64]*JobSpec
	cleanupOn string // last local date retention ran, "2006-01-02"
}

// NewBackupScheduler wires the scheduler with a 5-minute scan interval
func NewBackupScheduler(store storage.Store, v *vault.Vault, registry *connector.Registry, backend backup.Backend, interval time.Duration) *BackupScheduler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &BackupScheduler{
		store:         store,
		vault:         v,
		registry:      registry,
		backend:       backend,
		interval:      interval,
		logger:        log.WithWorker("backup-scheduler"),
		RetentionDays: 30,
		Now:           time.Now,
		schedules:     make(map[int64]*JobSpec),
	}
}

func (b *BackupScheduler) Name() string            { return "backup-scheduler" }
func (b *BackupScheduler) Interval() time.Duration { return b.interval }

// SetSchedule installs or replaces the backup spec for a resource
func (b *BackupScheduler) SetSchedule(resourceID int64, spec JobSpec) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if spec.NextRun.IsZero() {
		spec.NextRun = b.Now()
	}
	b.schedules[resourceID] = &spec
}

// RemoveSchedule drops a resource's backup spec
func (b *BackupScheduler) RemoveSchedule(resourceID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.schedules, resourceID)
}

// Cycle runs every due backup, then retention if the daily window is open
func (b *BackupScheduler) Cycle(ctx context.Context) error {
	now := b.Now()

	due := b.dueResources(now)
	for _, resourceID := range due {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b.runScheduled(ctx, resourceID, now)
	}

	b.maybeRunRetention(ctx, now)
	return nil
}

func (b *BackupScheduler) dueResources(now time.Time) []int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	var due []int64
	for id, spec := range b.schedules {
		if spec.Enabled && !now.Before(spec.NextRun) {
			due = append(due, id)
		}
	}
	return due
}

func (b *BackupScheduler) runScheduled(ctx context.Context, resourceID int64, now time.Time) {
	b.mu.Lock()
	spec, ok := b.schedules[resourceID]
	b.mu.Unlock()
	if !ok {
		return
	}

	err := b.runBackup(ctx, resourceID, spec.Type, now)

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		spec.Retries++
		b.logger.Error().Err(err).Int64("resource_id", resourceID).
			Int("retries", spec.Retries).Msg("scheduled backup failed")
		if spec.Retries >= maxBackupRetries {
			spec.Enabled = false
			b.logger.Warn().Int64("resource_id", resourceID).
				Msg("backup schedule disabled after repeated failures")
		}
		return
	}
	spec.Retries = 0
	spec.LastRun = now
	spec.NextRun = now.Add(spec.period())
}

// runBackup produces the artifact via the connector, uploads it to the
// backend, verifies it and records a BackupJob row.
func (b *BackupScheduler) runBackup(ctx context.Context, resourceID int64, backupType types.BackupType, now time.Time) error {
	res, err := b.store.GetResource(ctx, resourceID)
	if err != nil {
		return err
	}
	if !res.CanBackup {
		return fmt.Errorf("resource %d does not allow backups", resourceID)
	}
	rt, err := b.store.GetResourceType(ctx, res.ResourceTypeID)
	if err != nil {
		return err
	}

	var creds map[string]string
	if len(res.Credentials) > 0 {
		creds, err = b.vault.DecryptMap(res.Credentials)
		if err != nil {
			return err
		}
	}
	conn, err := b.registry.New(rt.Name, res.ConnectionInfo, creds)
	if err != nil {
		return err
	}
	defer conn.Close()

	job := &types.BackupJob{
		ResourceID: resourceID,
		JobType:    backupType,
		Status:     types.BackupPending,
	}
	if err := b.store.CreateBackupJob(ctx, job); err != nil {
		return err
	}
	started := now.UTC()
	job.Status = types.BackupRunning
	job.StartedAt = &started
	if err := b.store.UpdateBackupJob(ctx, job); err != nil {
		return err
	}

	fail := func(cause error) error {
		done := b.Now().UTC()
		job.Status = types.BackupFailed
		job.CompletedAt = &done
		job.ErrorMessage = cause.Error()
		if uerr := b.store.UpdateBackupJob(ctx, job); uerr != nil {
			b.logger.Error().Err(uerr).Int64("job_id", job.ID).Msg("failed to persist failed backup job")
		}
		metrics.BackupJobsTotal.WithLabelValues(string(backupType), string(types.BackupFailed)).Inc()
		return cause
	}

	stagingDir, err := os.MkdirTemp("", "drey-backup-")
	if err != nil {
		return fail(fmt.Errorf("failed to create staging dir: %w", err))
	}
	defer os.RemoveAll(stagingDir)

	localPath, err := conn.TriggerBackup(ctx, stagingDir, connector.BackupOptions{Type: backupType})
	if err != nil {
		return fail(err)
	}

	remotePath := backup.RemotePath(resourceID, now)
	artifact, err := b.backend.Upload(ctx, localPath, remotePath)
	if err != nil {
		return fail(fmt.Errorf("failed to upload backup: %w", err))
	}
	if artifact.SizeBytes <= 0 {
		return fail(fmt.Errorf("backup artifact %s is empty", artifact.Path))
	}

	done := b.Now().UTC()
	job.Status = types.BackupCompleted
	job.CompletedAt = &done
	job.BackupLocation = artifact.Path
	job.BackupSizeBytes = artifact.SizeBytes
	if err := b.store.UpdateBackupJob(ctx, job); err != nil {
		return err
	}

	metrics.BackupJobsTotal.WithLabelValues(string(backupType), string(types.BackupCompleted)).Inc()
	b.logger.Info().Int64("resource_id", resourceID).
		Str("location", artifact.Path).Int64("size_bytes", artifact.SizeBytes).
		Msg("scheduled backup completed")
	return nil
}

// maybeRunRetention runs cleanup once per day in the 02:00-02:05 local
// window
func (b *BackupScheduler) maybeRunRetention(ctx context.Context, now time.Time) {
	local := now.Local()
	if local.Hour() != 2 || local.Minute() >= 5 {
		return
	}
	today := local.Format("2006-01-02")

	b.mu.Lock()
	alreadyRan := b.cleanupOn == today
	if !alreadyRan {
		b.cleanupOn = today
	}
	b.mu.Unlock()
	if alreadyRan {
		return
	}

	deleted, err := b.RunRetention(ctx, now)
	if err != nil {
		b.logger.Error().Err(err).Msg("retention cleanup failed")
		return
	}
	b.logger.Info().Int("deleted", deleted).Int("retention_days", b.RetentionDays).
		Msg("retention cleanup completed")
}

// RunRetention deletes artifacts older than the retention window
func (b *BackupScheduler) RunRetention(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.AddDate(0, 0, -b.RetentionDays)
	return b.backend.CleanupOlderThan(ctx, cutoff)
}
