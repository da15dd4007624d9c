package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/dreyhq/drey/pkg/connector"
	"github.com/dreyhq/drey/pkg/externalops"
	"github.com/dreyhq/drey/pkg/log"
	"github.com/dreyhq/drey/pkg/storage"
	"github.com/dreyhq/drey/pkg/types"
	"github.com/dreyhq/drey/pkg/vault"
)

// UserSyncWorker drains pending and errored resource users in batches,
// materializing each on its external system.
type UserSyncWorker struct {
	store    storage.Store
	vault    *vault.Vault
	registry *connector.Registry
	interval time.Duration
	logger   zerolog.Logger

	BatchSize int
}

// NewUserSyncWorker wires the sync worker with a 30-second interval and a
// batch size of 10
func NewUserSyncWorker(store storage.Store, v *vault.Vault, registry *connector.Registry, interval time.Duration) *UserSyncWorker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &UserSyncWorker{
		store:    store,
		vault:    v,
		registry: registry,
		interval: interval,
		logger:   log.WithWorker("user-sync"),

		BatchSize: 10,
	}
}

func (w *UserSyncWorker) Name() string            { return "user-sync" }
func (w *UserSyncWorker) Interval() time.Duration { return w.interval }

// Cycle syncs one batch, oldest rows first. Connectors are built once per
// resource and reused across the batch.
func (w *UserSyncWorker) Cycle(ctx context.Context) error {
	users, err := w.store.ListUnsyncedResourceUsers(ctx, w.BatchSize)
	if err != nil {
		return err
	}
	if len(users) == 0 {
		return nil
	}

	conns := make(map[int64]connector.Connector)
	defer func() {
		for _, conn := range conns {
			conn.Close()
		}
	}()

	for _, u := range users {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.syncUser(ctx, conns, u)
	}
	return nil
}

func (w *UserSyncWorker) syncUser(ctx context.Context, conns map[int64]connector.Connector, u *types.ResourceUser) {
	u.SyncStatus = types.SyncSyncing
	if err := w.store.UpdateResourceUser(ctx, u); err != nil {
		w.logger.Error().Err(err).Int64("resource_user_id", u.ID).Msg("failed to mark user syncing")
		return
	}

	conn, err := w.connectorFor(ctx, conns, u.ResourceID)
	if err == nil {
		err = externalops.SyncOne(ctx, conn, u)
	}

	if err != nil {
		u.SyncStatus = types.SyncError
		u.SyncError = externalops.ClassifyError(err)
		w.logger.Warn().Err(err).Int64("resource_user_id", u.ID).
			Str("username", u.Username).Str("sync_error", u.SyncError).
			Msg("user sync failed")
	} else {
		now := time.Now().UTC()
		u.SyncStatus = types.SyncSynced
		u.LastSyncedAt = &now
		u.SyncError = ""
		w.logger.Info().Int64("resource_user_id", u.ID).
			Str("username", u.Username).Msg("user synced")
	}
	if err := w.store.UpdateResourceUser(ctx, u); err != nil {
		w.logger.Error().Err(err).Int64("resource_user_id", u.ID).Msg("failed to persist sync outcome")
	}
}

// DeleteUser removes the identity from the external system when present,
// then soft-deletes the row.
func (w *UserSyncWorker) DeleteUser(ctx context.Context, resourceUserID int64) error {
	u, err := w.store.GetResourceUser(ctx, resourceUserID)
	if err != nil {
		return err
	}

	conn, err := w.buildConnector(ctx, u.ResourceID)
	if err != nil {
		return err
	}
	defer conn.Close()

	exists, err := conn.UserExists(ctx, u.Username)
	if err != nil {
		return err
	}
	if exists {
		if err := conn.DeleteUser(ctx, u.Username); err != nil {
			return err
		}
	}
	return w.store.SoftDeleteResourceUser(ctx, resourceUserID)
}

func (w *UserSyncWorker) connectorFor(ctx context.Context, conns map[int64]connector.Connector, resourceID int64) (connector.Connector, error) {
	if conn, ok := conns[resourceID]; ok {
		return conn, nil
	}
	conn, err := w.buildConnector(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	conns[resourceID] = conn
	return conn, nil
}

func (w *UserSyncWorker) buildConnector(ctx context.Context, resourceID int64) (connector.Connector, error) {
	res, err := w.store.GetResource(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	rt, err := w.store.GetResourceType(ctx, res.ResourceTypeID)
	if err != nil {
		return nil, err
	}
	var creds map[string]string
	if len(res.Credentials) > 0 {
		creds, err = w.vault.DecryptMap(res.Credentials)
		if err != nil {
			return nil, err
		}
	}
	return w.registry.New(rt.Name, res.ConnectionInfo, creds)
}
