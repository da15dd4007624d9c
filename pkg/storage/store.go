// Package storage persists the resource catalog in a relational store.
// All default reads filter soft-deleted rows; audit and stats tables are
// append-only.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dreyhq/drey/pkg/types"
)

// ErrorKind classifies store failures
type ErrorKind string

const (
	// ErrKindNotFound - entity absent or soft-deleted
	ErrKindNotFound ErrorKind = "not_found"
	// ErrKindConflict - unique or FK constraint violation
	ErrKindConflict ErrorKind = "conflict"
	// ErrKindBackend - database-level failure
	ErrKindBackend ErrorKind = "backend"
)

// Error is a typed store failure
type Error struct {
	Kind   ErrorKind
	Entity string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("store: %s %s: %v", e.Entity, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is a store not-found error
func IsNotFound(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.Kind == ErrKindNotFound
}

// IsConflict reports whether err is a store conflict error
func IsConflict(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.Kind == ErrKindConflict
}

// ResourceFilter narrows ListResources
type ResourceFilter struct {
	TeamID         *int64
	Status         []types.ResourceStatus
	LifecycleModes []types.LifecycleMode
}

// Store is the persistence interface for the whole catalog. Mutating
// methods assign generated IDs and timestamps back onto their argument.
type Store interface {
	// Teams and users
	GetTeam(ctx context.Context, id int64) (*types.Team, error)
	GetGlobalTeam(ctx context.Context) (*types.Team, error)
	GetUser(ctx context.Context, id int64) (*types.User, error)
	GetMembership(ctx context.Context, userID, teamID int64) (*types.TeamMembership, error)
	ListMembershipsForUser(ctx context.Context, userID int64) ([]*types.TeamMembership, error)

	// Resource types
	GetResourceType(ctx context.Context, id int64) (*types.ResourceType, error)
	GetResourceTypeByName(ctx context.Context, name string) (*types.ResourceType, error)
	ListResourceTypes(ctx context.Context) ([]*types.ResourceType, error)

	// Resources
	CreateResource(ctx context.Context, r *types.Resource) error
	GetResource(ctx context.Context, id int64) (*types.Resource, error)
	UpdateResource(ctx context.Context, r *types.Resource) error
	SoftDeleteResource(ctx context.Context, id int64) error
	ListResources(ctx context.Context, filter ResourceFilter) ([]*types.Resource, error)

	// Resource users
	CreateResourceUser(ctx context.Context, u *types.ResourceUser) error
	GetResourceUser(ctx context.Context, id int64) (*types.ResourceUser, error)
	UpdateResourceUser(ctx context.Context, u *types.ResourceUser) error
	SoftDeleteResourceUser(ctx context.Context, id int64) error
	ListResourceUsers(ctx context.Context, resourceID int64) ([]*types.ResourceUser, error)
	ListUnsyncedResourceUsers(ctx context.Context, limit int) ([]*types.ResourceUser, error)

	// Certificate authorities and certificates
	CreateCA(ctx context.Context, ca *types.CertificateAuthority) error
	GetCA(ctx context.Context, id int64) (*types.CertificateAuthority, error)
	SoftDeleteCA(ctx context.Context, id int64) error
	ListCAs(ctx context.Context) ([]*types.CertificateAuthority, error)
	CreateCertificate(ctx context.Context, cert *types.Certificate) error
	GetCertificate(ctx context.Context, id int64) (*types.Certificate, error)
	UpdateCertificate(ctx context.Context, cert *types.Certificate) error
	SoftDeleteCertificate(ctx context.Context, id int64) error
	ListCertificatesExpiringBy(ctx context.Context, deadline time.Time) ([]*types.Certificate, error)

	// Jobs
	CreateBackupJob(ctx context.Context, job *types.BackupJob) error
	GetBackupJob(ctx context.Context, id int64) (*types.BackupJob, error)
	UpdateBackupJob(ctx context.Context, job *types.BackupJob) error
	ListBackupJobs(ctx context.Context, resourceID int64) ([]*types.BackupJob, error)
	CreateProvisioningJob(ctx context.Context, job *types.ProvisioningJob) error
	GetProvisioningJob(ctx context.Context, id int64) (*types.ProvisioningJob, error)
	UpdateProvisioningJob(ctx context.Context, job *types.ProvisioningJob) error

	// Stats and audit (append-only)
	InsertResourceStat(ctx context.Context, stat *types.ResourceStat) error
	ListResourceStats(ctx context.Context, resourceID int64, since time.Time) ([]*types.ResourceStat, error)
	AppendAuditLog(ctx context.Context, entry *types.AuditLog) error

	// WithTx runs fn inside a transaction; the Store passed to fn routes
	// all calls through that transaction. Rolled back on error.
	WithTx(ctx context.Context, fn func(Store) error) error

	Close() error
}
