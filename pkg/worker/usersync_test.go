package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreyhq/drey/pkg/connector"
	"github.com/dreyhq/drey/pkg/storage"
	"github.com/dreyhq/drey/pkg/types"
	"github.com/dreyhq/drey/pkg/vault"
)

func newSyncFixture(t *testing.T, conn *connector.Fake) (*UserSyncWorker, *storage.Mem) {
	t.Helper()
	store := storage.NewMem()
	v, err := vault.New([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	registry := connector.NewRegistry()
	registry.Register(types.TypeMariaDB, connector.FakeFactory(conn))
	return NewUserSyncWorker(store, v, registry, time.Second), store
}

func seedSyncResource(t *testing.T, store *storage.Mem) *types.Resource {
	t.Helper()
	rt := store.SeedResourceType(types.ResourceType{
		Name:                     types.TypeMariaDB,
		Category:                 "database",
		SupportsPartialLifecycle: true,
		SupportsUserManagement:   true,
	})
	res := &types.Resource{
		Name:           "crm-db",
		ResourceTypeID: rt.ID,
		TeamID:         1,
		Status:         types.StatusActive,
		LifecycleMode:  types.LifecyclePartial,
		CanModifyUsers: true,
		ConnectionInfo: &types.ConnectionInfo{Host: "mariadb.internal", Port: 3306},
	}
	require.NoError(t, store.CreateResource(context.Background(), res))
	return res
}

func TestUserSyncCreatesPendingUser(t *testing.T) {
	conn := &connector.Fake{}
	w, store := newSyncFixture(t, conn)
	res := seedSyncResource(t, store)
	ctx := context.Background()

	alice := &types.ResourceUser{
		ResourceID:   res.ID,
		Username:     "alice",
		PasswordHash: "hash",
		Roles:        []string{"readwrite"},
		SyncStatus:   types.SyncPending,
	}
	require.NoError(t, store.CreateResourceUser(ctx, alice))

	require.NoError(t, w.Cycle(ctx))

	assert.Equal(t, 1, conn.Calls("CreateUser"))
	assert.Equal(t, 0, conn.Calls("UpdateUser"))

	got, err := store.GetResourceUser(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, types.SyncSynced, got.SyncStatus)
	require.NotNil(t, got.LastSyncedAt)
}

func TestUserSyncHonorsBatchSize(t *testing.T) {
	conn := &connector.Fake{}
	w, store := newSyncFixture(t, conn)
	res := seedSyncResource(t, store)
	ctx := context.Background()
	w.BatchSize = 2

	for _, name := range []string{"u1", "u2", "u3"} {
		u := &types.ResourceUser{ResourceID: res.ID, Username: name, SyncStatus: types.SyncPending}
		require.NoError(t, store.CreateResourceUser(ctx, u))
	}

	require.NoError(t, w.Cycle(ctx))
	assert.Equal(t, 2, conn.Calls("CreateUser"))

	// The next cycle drains the remainder.
	require.NoError(t, w.Cycle(ctx))
	assert.Equal(t, 3, conn.Calls("CreateUser"))
}

func TestUserSyncMarksErrorWithMessage(t *testing.T) {
	conn := &connector.Fake{Err: &connector.Error{
		Kind: connector.ErrKindConnection, Op: "UserExists", Err: errors.New("dial timeout"),
	}}
	w, store := newSyncFixture(t, conn)
	res := seedSyncResource(t, store)
	ctx := context.Background()

	u := &types.ResourceUser{ResourceID: res.ID, Username: "bob", SyncStatus: types.SyncPending}
	require.NoError(t, store.CreateResourceUser(ctx, u))

	require.NoError(t, w.Cycle(ctx))

	got, err := store.GetResourceUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, types.SyncError, got.SyncStatus)
	assert.Equal(t, "Connection failed - will retry", got.SyncError)

	// Errored rows are picked up again on the next cycle.
	users, err := store.ListUnsyncedResourceUsers(ctx, 10)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "bob", users[0].Username)
}

func TestUserSyncDeleteUser(t *testing.T) {
	conn := &connector.Fake{Users: map[string]connector.UserSpec{
		"carol": {Username: "carol"},
	}}
	w, store := newSyncFixture(t, conn)
	res := seedSyncResource(t, store)
	ctx := context.Background()

	u := &types.ResourceUser{ResourceID: res.ID, Username: "carol", SyncStatus: types.SyncSynced}
	require.NoError(t, store.CreateResourceUser(ctx, u))

	require.NoError(t, w.DeleteUser(ctx, u.ID))

	assert.Equal(t, 1, conn.Calls("DeleteUser"))
	_, err := store.GetResourceUser(ctx, u.ID)
	assert.True(t, storage.IsNotFound(err))
}

func TestUserSyncDeleteUserAbsentRemotely(t *testing.T) {
	conn := &connector.Fake{}
	w, store := newSyncFixture(t, conn)
	res := seedSyncResource(t, store)
	ctx := context.Background()

	u := &types.ResourceUser{ResourceID: res.ID, Username: "dave", SyncStatus: types.SyncSynced}
	require.NoError(t, store.CreateResourceUser(ctx, u))

	require.NoError(t, w.DeleteUser(ctx, u.ID))

	assert.Equal(t, 0, conn.Calls("DeleteUser"))
	_, err := store.GetResourceUser(ctx, u.ID)
	assert.True(t, storage.IsNotFound(err))
}
