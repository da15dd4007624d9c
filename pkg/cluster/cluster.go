// Package cluster defines the narrow capability set the control plane needs
// from its Kubernetes substrate. The concrete API client lives outside the
// core; tests use the Fake implementation.
package cluster

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies cluster failures
type ErrorKind string

const (
	ErrKindNotFound ErrorKind = "not_found"
	ErrKindConflict ErrorKind = "conflict"
	ErrKindBackend  ErrorKind = "backend"
)

// Error is a typed cluster failure
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("cluster: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is a cluster not-found error
func IsNotFound(err error) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Kind == ErrKindNotFound
}

// SecretType mirrors the cluster secret kinds the control plane emits
type SecretType string

const (
	SecretOpaque SecretType = "Opaque"
	SecretTLS    SecretType = "kubernetes.io/tls"
)

// WorkloadStatus is the readiness view of a stateful workload
type WorkloadStatus struct {
	Name            string
	Namespace       string
	DesiredReplicas int32
	ReadyReplicas   int32
}

// Ready reports whether every desired replica is ready
func (s *WorkloadStatus) Ready() bool {
	return s.DesiredReplicas > 0 && s.ReadyReplicas >= s.DesiredReplicas
}

// ServiceIngress is an endpoint exposed by a cluster service
type ServiceIngress struct {
	Name      string
	Namespace string
	ClusterIP string
	Ports     []int
}

// PodMetrics is the raw usage sample for one pod. Quantity strings use the
// cluster's native encoding (IEC/SI suffixes, millicores).
type PodMetrics struct {
	PodName         string
	CPUUsage        string
	MemoryUsage     string
	NetworkInBytes  int64
	NetworkOutBytes int64
}

// Manifest is one parsed cluster object ready to apply
type Manifest struct {
	Kind string
	Name string
	Body map[string]any
}

// Client is the capability interface over the cluster substrate.
type Client interface {
	// CreateNamespace is idempotent: an existing namespace succeeds.
	CreateNamespace(ctx context.Context, name string) error
	// CreateSecret is create-or-update.
	CreateSecret(ctx context.Context, namespace, name string, data map[string]string, secretType SecretType, labels map[string]string) error
	// CreateStatefulWorkload is create-or-update.
	CreateStatefulWorkload(ctx context.Context, namespace string, manifest Manifest) error
	// CreateService is create-or-update.
	CreateService(ctx context.Context, namespace string, manifest Manifest) error
	GetStatefulWorkload(ctx context.Context, namespace, name string) (*WorkloadStatus, error)
	ScaleStatefulWorkload(ctx context.Context, namespace, name string, replicas int32) error
	GetService(ctx context.Context, namespace, name string) (*ServiceIngress, error)
	// DeleteNamespace is asynchronous; completion is observed via GetNamespace.
	DeleteNamespace(ctx context.Context, name string) error
	// GetNamespace returns a not-found error once deletion has completed.
	GetNamespace(ctx context.Context, name string) error
	GetPodMetrics(ctx context.Context, namespace, name string) ([]PodMetrics, error)
	// ApplyManifest is generic create-or-update for any object kind.
	ApplyManifest(ctx context.Context, namespace string, manifest Manifest) error
}
