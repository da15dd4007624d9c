package storage

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreyhq/drey/pkg/types"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewWithDB(sqlx.NewDb(db, "pgx")), mock
}

var resourceRowCols = []string{
	"id", "name", "resource_type_id", "team_id", "status", "lifecycle_mode",
	"can_modify_config", "can_modify_users", "can_backup", "can_scale",
	"k8s_namespace", "k8s_resource_name", "k8s_resource_type",
	"connection_info", "credentials", "config",
	"tls_enabled", "tls_ca_id", "tls_cert_id",
	"created_by", "created_at", "updated_at", "deleted_at",
}

func TestGetResourceMapsRow(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT .+ FROM resources WHERE id = \$1 AND deleted_at IS NULL`).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows(resourceRowCols).AddRow(
			42, "orders-db", 1, 7, "active", "full",
			true, true, true, true,
			"team-7", "orders-db", "StatefulSet",
			[]byte(`{"host":"orders-db.team-7.svc.cluster.local","port":5432}`),
			[]byte(`{"username":"tok1","password":"tok2"}`),
			[]byte(`{"replicas":3}`),
			false, nil, nil,
			nil, now, now, nil,
		))

	res, err := store.GetResource(context.Background(), 42)
	require.NoError(t, err)

	assert.Equal(t, int64(42), res.ID)
	assert.Equal(t, types.StatusActive, res.Status)
	assert.Equal(t, types.LifecycleFull, res.LifecycleMode)
	require.NotNil(t, res.ConnectionInfo)
	assert.Equal(t, "orders-db.team-7.svc.cluster.local", res.ConnectionInfo.Host)
	assert.Equal(t, 5432, res.ConnectionInfo.Port)
	assert.Equal(t, types.Credentials{"username": "tok1", "password": "tok2"}, res.Credentials)
	assert.EqualValues(t, 3, res.Config["replicas"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetResourceNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT .+ FROM resources WHERE id = \$1`).
		WithArgs(int64(99)).
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetResource(context.Background(), 99)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateResourceConflict(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`INSERT INTO resources`).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "resources_team_id_name_key"})

	err := store.CreateResource(context.Background(), &types.Resource{
		Name:           "orders-db",
		ResourceTypeID: 1,
		TeamID:         7,
		Status:         types.StatusPending,
		LifecycleMode:  types.LifecycleFull,
	})
	require.Error(t, err)
	assert.True(t, IsConflict(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateResourceAssignsID(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`INSERT INTO resources`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(17)))

	res := &types.Resource{
		Name:           "orders-db",
		ResourceTypeID: 1,
		TeamID:         7,
		Status:         types.StatusPending,
		LifecycleMode:  types.LifecycleFull,
	}
	require.NoError(t, store.CreateResource(context.Background(), res))
	assert.Equal(t, int64(17), res.ID)
	assert.False(t, res.CreatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateResourceNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE resources SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.UpdateResource(context.Background(), &types.Resource{ID: 12, Name: "gone"})
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTxCommitsOnSuccess(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM teams WHERE id = \$1`).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "is_global", "created_at", "updated_at", "deleted_at"}).
			AddRow(1, "payments", false, time.Now(), time.Now(), nil))
	mock.ExpectCommit()

	err := store.WithTx(context.Background(), func(tx Store) error {
		_, err := tx.GetTeam(context.Background(), 1)
		return err
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTxRollsBackOnError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("boom")
	err := store.WithTx(context.Background(), func(Store) error { return boom })
	assert.True(t, errors.Is(err, boom))
	require.NoError(t, mock.ExpectationsWereMet())
}
