package types

import (
	"time"
)

// Team is the unit of ownership for resources. A single distinguished team
// is flagged global; its admin members hold fleet-wide privileges.
type Team struct {
	ID        int64      `db:"id" json:"id"`
	Name      string     `db:"name" json:"name"`
	IsGlobal  bool       `db:"is_global" json:"is_global"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}

// User is an identity principal. Authentication happens outside the control
// plane; operations receive the user ID.
type User struct {
	ID        int64      `db:"id" json:"id"`
	Username  string     `db:"username" json:"username"`
	Email     string     `db:"email" json:"email"`
	IsActive  bool       `db:"is_active" json:"is_active"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}

// TeamRole defines a user's role within a team
type TeamRole string

const (
	TeamRoleAdmin  TeamRole = "admin"
	TeamRoleMember TeamRole = "member"
	TeamRoleViewer TeamRole = "viewer"
)

// TeamMembership links a user to a team with a role. The (user, team) pair
// is unique.
type TeamMembership struct {
	ID        int64     `db:"id" json:"id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	TeamID    int64     `db:"team_id" json:"team_id"`
	Role      TeamRole  `db:"role" json:"role"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ResourceType defines a kind of managed resource and the capabilities the
// control plane supports for it.
type ResourceType struct {
	ID                       int64     `db:"id" json:"id"`
	Name                     string    `db:"name" json:"name"`
	Category                 string    `db:"category" json:"category"`
	DisplayName              string    `db:"display_name" json:"display_name"`
	SupportsFullLifecycle    bool      `db:"supports_full_lifecycle" json:"supports_full_lifecycle"`
	SupportsPartialLifecycle bool      `db:"supports_partial_lifecycle" json:"supports_partial_lifecycle"`
	SupportsUserManagement   bool      `db:"supports_user_management" json:"supports_user_management"`
	SupportsBackup           bool      `db:"supports_backup" json:"supports_backup"`
	CreatedAt                time.Time `db:"created_at" json:"created_at"`
}

// Well-known resource type names
const (
	TypePostgreSQL = "db-postgresql"
	TypeMariaDB    = "db-mariadb"
	TypeRedis      = "db-redis"
	TypeValkey     = "db-valkey"
	TypeCeph       = "storage-ceph"
	TypeSAN        = "storage-san"
)

// LifecycleMode describes how much of a resource's lifecycle the control
// plane owns.
type LifecycleMode string

const (
	// LifecycleFull - provisioned, scaled and destroyed by the control plane
	LifecycleFull LifecycleMode = "full"
	// LifecyclePartial - pre-existing resource managed through a connector
	LifecyclePartial LifecycleMode = "partial"
	// LifecycleMonitorOnly - partial lifecycle restricted to stats collection
	LifecycleMonitorOnly LifecycleMode = "monitor_only"
)

// ResourceStatus represents the runtime state of a resource
type ResourceStatus string

const (
	StatusPending      ResourceStatus = "pending"
	StatusProvisioning ResourceStatus = "provisioning"
	StatusActive       ResourceStatus = "active"
	StatusUpdating     ResourceStatus = "updating"
	StatusPaused       ResourceStatus = "paused"
	StatusError        ResourceStatus = "error"
	StatusDeleted      ResourceStatus = "deleted"
)

// ConnectionInfo is the endpoint record stored on a resource. For
// cluster-hosted resources the host is the service DNS name.
type ConnectionInfo struct {
	Host        string `json:"host"`
	Port        int    `json:"port"`
	Namespace   string `json:"namespace,omitempty"`
	ServiceName string `json:"service_name,omitempty"`
	Protocol    string `json:"protocol,omitempty"`
}

// Credentials maps credential field names to values. At rest every value is
// a vault ciphertext token; connectors receive the decrypted form.
type Credentials map[string]string

// Config is the type-specific configuration blob of a resource
type Config map[string]any

// Resource is the central entity: a managed database or storage system.
type Resource struct {
	ID             int64          `db:"id" json:"id"`
	Name           string         `db:"name" json:"name"`
	ResourceTypeID int64          `db:"resource_type_id" json:"resource_type_id"`
	TeamID         int64          `db:"team_id" json:"team_id"`
	Status         ResourceStatus `db:"status" json:"status"`
	LifecycleMode  LifecycleMode  `db:"lifecycle_mode" json:"lifecycle_mode"`

	// Per-instance capability bits; may be narrower than the type's flags.
	CanModifyConfig bool `db:"can_modify_config" json:"can_modify_config"`
	CanModifyUsers  bool `db:"can_modify_users" json:"can_modify_users"`
	CanBackup       bool `db:"can_backup" json:"can_backup"`
	CanScale        bool `db:"can_scale" json:"can_scale"`

	// Cluster binding; empty for external resources.
	K8sNamespace    string `db:"k8s_namespace" json:"k8s_namespace,omitempty"`
	K8sResourceName string `db:"k8s_resource_name" json:"k8s_resource_name,omitempty"`
	K8sResourceType string `db:"k8s_resource_type" json:"k8s_resource_type,omitempty"`

	ConnectionInfo *ConnectionInfo `json:"connection_info,omitempty"`
	Credentials    Credentials     `json:"credentials,omitempty"`
	Config         Config          `json:"config,omitempty"`

	TLSEnabled bool   `db:"tls_enabled" json:"tls_enabled"`
	TLSCAID    *int64 `db:"tls_ca_id" json:"tls_ca_id,omitempty"`
	TLSCertID  *int64 `db:"tls_cert_id" json:"tls_cert_id,omitempty"`

	CreatedBy *int64     `db:"created_by" json:"created_by,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}

// IsClusterBound reports whether the resource has a cluster binding
func (r *Resource) IsClusterBound() bool {
	return r.K8sNamespace != "" && r.K8sResourceName != ""
}

// SyncStatus represents the synchronization state of a resource user
type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncSyncing SyncStatus = "syncing"
	SyncSynced  SyncStatus = "synced"
	SyncError   SyncStatus = "error"
)

// ResourceUser is an identity to be materialized on a managed resource
// (a database role, a cache ACL user).
type ResourceUser struct {
	ID           int64      `db:"id" json:"id"`
	ResourceID   int64      `db:"resource_id" json:"resource_id"`
	Username     string     `db:"username" json:"username"`
	PasswordHash string     `db:"password_hash" json:"-"`
	Roles        []string   `json:"roles,omitempty"`
	SyncStatus   SyncStatus `db:"sync_status" json:"sync_status"`
	LastSyncedAt *time.Time `db:"last_synced_at" json:"last_synced_at,omitempty"`
	SyncError    string     `db:"sync_error" json:"sync_error,omitempty"`
	CreatedBy    *int64     `db:"created_by" json:"created_by,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt    *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}

// CAType classifies a certificate authority
type CAType string

const (
	CATypeRoot         CAType = "root"
	CATypeIntermediate CAType = "intermediate"
	CATypeSelfSigned   CAType = "self_signed"
)

// CertificateAuthority holds a CA certificate and, for internally managed
// CAs, its private key.
type CertificateAuthority struct {
	ID           int64      `db:"id" json:"id"`
	Name         string     `db:"name" json:"name"`
	Type         CAType     `db:"type" json:"type"`
	Certificate  string     `db:"certificate" json:"certificate"`
	PrivateKey   string     `db:"private_key" json:"-"`
	Subject      string     `db:"subject" json:"subject"`
	Issuer       string     `db:"issuer" json:"issuer"`
	ValidFrom    time.Time  `db:"valid_from" json:"valid_from"`
	ValidUntil   time.Time  `db:"valid_until" json:"valid_until"`
	SerialNumber string     `db:"serial_number" json:"serial_number"`
	IsManaged    bool       `db:"is_managed" json:"is_managed"`
	CreatedBy    *int64     `db:"created_by" json:"created_by,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt    *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}

// Certificate is an issued leaf certificate, optionally bound to a resource.
type Certificate struct {
	ID                   int64      `db:"id" json:"id"`
	ResourceID           *int64     `db:"resource_id" json:"resource_id,omitempty"`
	CAID                 int64      `db:"ca_id" json:"ca_id"`
	Certificate          string     `db:"certificate" json:"certificate"`
	PrivateKey           string     `db:"private_key" json:"-"`
	CommonName           string     `db:"common_name" json:"common_name"`
	SANDNS               []string   `json:"san_dns,omitempty"`
	SANIPs               []string   `json:"san_ips,omitempty"`
	ValidFrom            time.Time  `db:"valid_from" json:"valid_from"`
	ValidUntil           time.Time  `db:"valid_until" json:"valid_until"`
	SerialNumber         string     `db:"serial_number" json:"serial_number"`
	AutoRenew            bool       `db:"auto_renew" json:"auto_renew"`
	RenewalThresholdDays int        `db:"renewal_threshold_days" json:"renewal_threshold_days"`
	CreatedAt            time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt            *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}

// DaysUntilExpiry returns whole days until the certificate expires
func (c *Certificate) DaysUntilExpiry(now time.Time) int {
	return int(c.ValidUntil.Sub(now).Hours() / 24)
}

// BackupType enumerates backup job kinds
type BackupType string

const (
	BackupFull         BackupType = "full"
	BackupIncremental  BackupType = "incremental"
	BackupDifferential BackupType = "differential"
	BackupRestore      BackupType = "restore"
)

// BackupStatus enumerates backup job states
type BackupStatus string

const (
	BackupPending   BackupStatus = "pending"
	BackupRunning   BackupStatus = "running"
	BackupCompleted BackupStatus = "completed"
	BackupFailed    BackupStatus = "failed"
	BackupCancelled BackupStatus = "cancelled"
)

// BackupJob records a backup or restore execution for a resource.
type BackupJob struct {
	ID              int64        `db:"id" json:"id"`
	ResourceID      int64        `db:"resource_id" json:"resource_id"`
	JobType         BackupType   `db:"job_type" json:"job_type"`
	Status          BackupStatus `db:"status" json:"status"`
	BackupLocation  string       `db:"backup_location" json:"backup_location,omitempty"`
	BackupSizeBytes int64        `db:"backup_size_bytes" json:"backup_size_bytes"`
	StartedAt       *time.Time   `db:"started_at" json:"started_at,omitempty"`
	CompletedAt     *time.Time   `db:"completed_at" json:"completed_at,omitempty"`
	ErrorMessage    string       `db:"error_message" json:"error_message,omitempty"`
	CreatedBy       *int64       `db:"created_by" json:"created_by,omitempty"`
	CreatedAt       time.Time    `db:"created_at" json:"created_at"`
}

// ProvisioningJobType enumerates provisioning job kinds
type ProvisioningJobType string

const (
	JobProvision    ProvisioningJobType = "provision"
	JobDeprovision  ProvisioningJobType = "deprovision"
	JobScale        ProvisioningJobType = "scale"
	JobUpdateConfig ProvisioningJobType = "update_config"
)

// ProvisioningJobStatus enumerates provisioning job states
type ProvisioningJobStatus string

const (
	JobPending    ProvisioningJobStatus = "pending"
	JobRunning    ProvisioningJobStatus = "running"
	JobCompleted  ProvisioningJobStatus = "completed"
	JobFailed     ProvisioningJobStatus = "failed"
	JobRolledBack ProvisioningJobStatus = "rolled_back"
)

// ProvisioningJob records a lifecycle operation on a full-lifecycle resource.
type ProvisioningJob struct {
	ID           int64                 `db:"id" json:"id"`
	ResourceID   int64                 `db:"resource_id" json:"resource_id"`
	JobType      ProvisioningJobType   `db:"job_type" json:"job_type"`
	Status       ProvisioningJobStatus `db:"status" json:"status"`
	StartedAt    *time.Time            `db:"started_at" json:"started_at,omitempty"`
	CompletedAt  *time.Time            `db:"completed_at" json:"completed_at,omitempty"`
	Logs         string                `db:"logs" json:"logs,omitempty"`
	ErrorMessage string                `db:"error_message" json:"error_message,omitempty"`
	CreatedBy    *int64                `db:"created_by" json:"created_by,omitempty"`
	CreatedAt    time.Time             `db:"created_at" json:"created_at"`
}

// RiskLevel classifies operational risk derived from metrics
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

var riskSeverity = map[RiskLevel]int{
	RiskLow:      0,
	RiskMedium:   1,
	RiskHigh:     2,
	RiskCritical: 3,
}

// Severity returns the numeric ordering of a risk level (low=0 .. critical=3)
func (r RiskLevel) Severity() int {
	return riskSeverity[r]
}

// Max returns the more severe of two risk levels
func (r RiskLevel) Max(other RiskLevel) RiskLevel {
	if other.Severity() > r.Severity() {
		return other
	}
	return r
}

// Metrics is a normalized metrics blob collected from a resource
type Metrics map[string]any

// ResourceStat is an append-only metrics sample with its risk assessment.
type ResourceStat struct {
	ID          int64     `db:"id" json:"id"`
	ResourceID  int64     `db:"resource_id" json:"resource_id"`
	Timestamp   time.Time `db:"timestamp" json:"timestamp"`
	Metrics     Metrics   `json:"metrics"`
	RiskLevel   RiskLevel `db:"risk_level" json:"risk_level"`
	RiskFactors []string  `json:"risk_factors,omitempty"`
}

// AuditLog is an append-only record of an action taken through the control
// plane. Entries are never deleted.
type AuditLog struct {
	ID           int64          `db:"id" json:"id"`
	UserID       *int64         `db:"user_id" json:"user_id,omitempty"`
	Action       string         `db:"action" json:"action"`
	ResourceType string         `db:"resource_type" json:"resource_type"`
	ResourceID   *int64         `db:"resource_id" json:"resource_id,omitempty"`
	TeamID       *int64         `db:"team_id" json:"team_id,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
	Timestamp    time.Time      `db:"timestamp" json:"timestamp"`
}

// Audit actions recorded by the control plane
const (
	ActionCACreated            = "ca_created"
	ActionCAImported           = "ca_imported"
	ActionCADeleted            = "ca_deleted"
	ActionCertificateGenerated = "certificate_generated"
	ActionCertificateRenewed   = "certificate_renewed"
	ActionCertificateRevoked   = "certificate_revoked"
	ActionUpdateConfig         = "update_config"
	ActionSyncUsers            = "sync_users"
	ActionTriggerBackup        = "trigger_backup"
	ActionRestoreBackup        = "restore_backup"
	ActionCollectStats         = "collect_stats"
	ActionReloadConfig         = "reload_config"
)
