// Package connector reaches externally-hosted resources through a uniform
// capability set. Each resource type registers a factory; construction
// takes the stored connection info plus decrypted credentials.
package connector

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dreyhq/drey/pkg/types"
)

// ErrorKind classifies connector failures
type ErrorKind string

const (
	// ErrKindUnsupported - the connector lacks the requested capability
	ErrKindUnsupported ErrorKind = "unsupported"
	// ErrKindConnection - the external system is unreachable
	ErrKindConnection ErrorKind = "connection"
	// ErrKindAuth - the external system rejected the credentials
	ErrKindAuth ErrorKind = "auth"
	// ErrKindConfig - the connector is misconfigured
	ErrKindConfig ErrorKind = "config"
	// ErrKindBackend - the external system failed the operation
	ErrKindBackend ErrorKind = "backend"
)

// Error is a typed connector failure
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("connector: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the error kind; unknown errors classify as backend
func KindOf(err error) ErrorKind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ErrKindBackend
}

// IsUnsupported reports whether err is an unsupported-capability error
func IsUnsupported(err error) bool {
	return KindOf(err) == ErrKindUnsupported
}

// UserSpec describes an identity to materialize on a resource
type UserSpec struct {
	Username string
	Password string
	Roles    []string
}

// BackupOptions tunes a backup or restore run
type BackupOptions struct {
	Type types.BackupType
}

// Connector is the capability interface over one external resource.
// Connectors for types without a capability return an unsupported error.
type Connector interface {
	TestConnection(ctx context.Context) error
	UserExists(ctx context.Context, username string) (bool, error)
	CreateUser(ctx context.Context, spec UserSpec) error
	UpdateUser(ctx context.Context, username string, spec UserSpec) error
	DeleteUser(ctx context.Context, username string) error
	UpdateConfig(ctx context.Context, params map[string]any) error
	ReloadConfig(ctx context.Context) error
	// TriggerBackup returns the absolute path of the produced artifact.
	TriggerBackup(ctx context.Context, location string, opts BackupOptions) (string, error)
	RestoreBackup(ctx context.Context, location string, opts BackupOptions) error
	CollectStats(ctx context.Context) (types.Metrics, error)
	Close() error
}

// Factory builds a connector from connection info and decrypted credentials
type Factory func(info *types.ConnectionInfo, creds map[string]string) (Connector, error)

// Registry maps resource type names to connector factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry returns a registry with every built-in connector wired
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(types.TypePostgreSQL, NewPostgres)
	r.Register(types.TypeMariaDB, NewMariaDB)
	r.Register(types.TypeRedis, NewRedis)
	r.Register(types.TypeValkey, NewRedis)
	r.Register(types.TypeCeph, NewCeph)
	r.Register(types.TypeSAN, NewSAN)
	return r
}

// Register binds a factory to a resource type name
func (r *Registry) Register(typeName string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[typeName] = f
}

// New builds a connector for the given resource type
func (r *Registry) New(typeName string, info *types.ConnectionInfo, creds map[string]string) (Connector, error) {
	r.mu.RLock()
	f, ok := r.factories[typeName]
	r.mu.RUnlock()
	if !ok {
		return nil, &Error{Kind: ErrKindUnsupported, Op: "New",
			Err: fmt.Errorf("no connector registered for resource type %q", typeName)}
	}
	return f(info, creds)
}
