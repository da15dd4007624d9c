// Package audit appends best-effort audit records. A failed write is
// logged and never promoted into an operation failure.
package audit

import (
	"context"

	"github.com/dreyhq/drey/pkg/log"
	"github.com/dreyhq/drey/pkg/storage"
	"github.com/dreyhq/drey/pkg/types"
)

// Recorder appends audit entries to the store.
type Recorder struct {
	store storage.Store
}

// NewRecorder returns a recorder over the given store
func NewRecorder(store storage.Store) *Recorder {
	return &Recorder{store: store}
}

// Entry describes one auditable action
type Entry struct {
	UserID       *int64
	Action       string
	ResourceType string
	ResourceID   *int64
	TeamID       *int64
	Details      map[string]any
}

// Record appends an audit entry; failures are logged, not returned
func (r *Recorder) Record(ctx context.Context, e Entry) {
	entry := &types.AuditLog{
		UserID:       e.UserID,
		Action:       e.Action,
		ResourceType: e.ResourceType,
		ResourceID:   e.ResourceID,
		TeamID:       e.TeamID,
		Details:      e.Details,
	}
	if err := r.store.AppendAuditLog(ctx, entry); err != nil {
		logger := log.WithComponent("audit")
		logger.Error().
			Err(err).
			Str("action", e.Action).
			Msg("failed to append audit entry")
	}
}
