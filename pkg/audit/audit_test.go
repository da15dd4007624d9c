package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreyhq/drey/pkg/storage"
	"github.com/dreyhq/drey/pkg/types"
)

func TestRecordAppendsEntry(t *testing.T) {
	store := storage.NewMem()
	r := NewRecorder(store)

	userID := int64(3)
	resID := int64(42)
	r.Record(context.Background(), Entry{
		UserID:       &userID,
		Action:       types.ActionUpdateConfig,
		ResourceType: "resource",
		ResourceID:   &resID,
		Details:      map[string]any{"name": "orders-db"},
	})

	logs := store.AuditLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, types.ActionUpdateConfig, logs[0].Action)
	assert.Equal(t, &userID, logs[0].UserID)
	assert.Equal(t, &resID, logs[0].ResourceID)
	assert.Equal(t, "orders-db", logs[0].Details["name"])
}

type failingAuditStore struct {
	storage.Store
}

func (f *failingAuditStore) AppendAuditLog(context.Context, *types.AuditLog) error {
	return errors.New("disk full")
}

func TestRecordSwallowsStoreFailure(t *testing.T) {
	r := NewRecorder(&failingAuditStore{Store: storage.NewMem()})

	// Must not panic or surface the error.
	r.Record(context.Background(), Entry{Action: types.ActionUpdateConfig})
}
