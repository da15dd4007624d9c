package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dreyhq/drey/pkg/types"
)

// Mem is an in-memory Store used by tests and local development. It
// applies the same soft-delete and not-found semantics as the Postgres
// implementation but offers no durability. Zero value is ready to use.
type Mem struct {
	mu     sync.Mutex
	nextID int64

	teams            map[int64]*types.Team
	users            map[int64]*types.User
	memberships      map[int64]*types.TeamMembership
	resourceTypes    map[int64]*types.ResourceType
	resources        map[int64]*types.Resource
	resourceUsers    map[int64]*types.ResourceUser
	cas              map[int64]*types.CertificateAuthority
	certificates     map[int64]*types.Certificate
	backupJobs       map[int64]*types.BackupJob
	provisioningJobs map[int64]*types.ProvisioningJob
	stats            []*types.ResourceStat
	auditLogs        []*types.AuditLog
}

// NewMem returns an empty in-memory store
func NewMem() *Mem {
	return &Mem{}
}

func (m *Mem) init() {
	if m.teams == nil {
		m.teams = make(map[int64]*types.Team)
		m.users = make(map[int64]*types.User)
		m.memberships = make(map[int64]*types.TeamMembership)
		m.resourceTypes = make(map[int64]*types.ResourceType)
		m.resources = make(map[int64]*types.Resource)
		m.resourceUsers = make(map[int64]*types.ResourceUser)
		m.cas = make(map[int64]*types.CertificateAuthority)
		m.certificates = make(map[int64]*types.Certificate)
		m.backupJobs = make(map[int64]*types.BackupJob)
		m.provisioningJobs = make(map[int64]*types.ProvisioningJob)
	}
}

func (m *Mem) id() int64 {
	m.nextID++
	return m.nextID
}

func notFound(entity string, id any) error {
	return &Error{Kind: ErrKindNotFound, Entity: entity, Err: fmt.Errorf("%v not found", id)}
}

// --- seeding helpers ---

// SeedTeam inserts a team and returns it
func (m *Mem) SeedTeam(name string, global bool) *types.Team {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	t := &types.Team{ID: m.id(), Name: name, IsGlobal: global, CreatedAt: time.Now().UTC()}
	m.teams[t.ID] = t
	return t
}

// SeedUser inserts a user and returns it
func (m *Mem) SeedUser(username string) *types.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	u := &types.User{ID: m.id(), Username: username, IsActive: true, CreatedAt: time.Now().UTC()}
	m.users[u.ID] = u
	return u
}

// SeedMembership links a user to a team
func (m *Mem) SeedMembership(userID, teamID int64, role types.TeamRole) *types.TeamMembership {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	ms := &types.TeamMembership{ID: m.id(), UserID: userID, TeamID: teamID, Role: role, CreatedAt: time.Now().UTC()}
	m.memberships[ms.ID] = ms
	return ms
}

// SeedResourceType inserts a resource type and returns it
func (m *Mem) SeedResourceType(rt types.ResourceType) *types.ResourceType {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	rt.ID = m.id()
	rt.CreatedAt = time.Now().UTC()
	m.resourceTypes[rt.ID] = &rt
	return &rt
}

// --- teams and users ---

func (m *Mem) GetTeam(ctx context.Context, id int64) (*types.Team, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	t, ok := m.teams[id]
	if !ok || t.DeletedAt != nil {
		return nil, notFound("team", id)
	}
	copied := *t
	return &copied, nil
}

func (m *Mem) GetGlobalTeam(ctx context.Context) (*types.Team, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	for _, t := range m.teams {
		if t.IsGlobal && t.DeletedAt == nil {
			copied := *t
			return &copied, nil
		}
	}
	return nil, notFound("team", "global")
}

func (m *Mem) GetUser(ctx context.Context, id int64) (*types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	u, ok := m.users[id]
	if !ok || u.DeletedAt != nil {
		return nil, notFound("user", id)
	}
	copied := *u
	return &copied, nil
}

func (m *Mem) GetMembership(ctx context.Context, userID, teamID int64) (*types.TeamMembership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	for _, ms := range m.memberships {
		if ms.UserID == userID && ms.TeamID == teamID {
			copied := *ms
			return &copied, nil
		}
	}
	return nil, notFound("membership", fmt.Sprintf("%d/%d", userID, teamID))
}

func (m *Mem) ListMembershipsForUser(ctx context.Context, userID int64) ([]*types.TeamMembership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	var out []*types.TeamMembership
	for _, ms := range m.memberships {
		if ms.UserID == userID {
			copied := *ms
			out = append(out, &copied)
		}
	}
	return out, nil
}

// --- resource types ---

func (m *Mem) GetResourceType(ctx context.Context, id int64) (*types.ResourceType, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	rt, ok := m.resourceTypes[id]
	if !ok {
		return nil, notFound("resource_type", id)
	}
	copied := *rt
	return &copied, nil
}

func (m *Mem) GetResourceTypeByName(ctx context.Context, name string) (*types.ResourceType, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	for _, rt := range m.resourceTypes {
		if rt.Name == name {
			copied := *rt
			return &copied, nil
		}
	}
	return nil, notFound("resource_type", name)
}

func (m *Mem) ListResourceTypes(ctx context.Context) ([]*types.ResourceType, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	out := make([]*types.ResourceType, 0, len(m.resourceTypes))
	for _, rt := range m.resourceTypes {
		copied := *rt
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- resources ---

func (m *Mem) CreateResource(ctx context.Context, r *types.Resource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	for _, existing := range m.resources {
		if existing.DeletedAt == nil && existing.TeamID == r.TeamID && existing.Name == r.Name {
			return &Error{Kind: ErrKindConflict, Entity: "resource", Err: fmt.Errorf("name %q already exists in team %d", r.Name, r.TeamID)}
		}
	}
	r.ID = m.id()
	r.CreatedAt = time.Now().UTC()
	r.UpdatedAt = r.CreatedAt
	copied := *r
	m.resources[r.ID] = &copied
	return nil
}

func (m *Mem) GetResource(ctx context.Context, id int64) (*types.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	r, ok := m.resources[id]
	if !ok || r.DeletedAt != nil {
		return nil, notFound("resource", id)
	}
	copied := *r
	return &copied, nil
}

func (m *Mem) UpdateResource(ctx context.Context, r *types.Resource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	existing, ok := m.resources[r.ID]
	if !ok || existing.DeletedAt != nil {
		return notFound("resource", r.ID)
	}
	r.UpdatedAt = time.Now().UTC()
	copied := *r
	m.resources[r.ID] = &copied
	return nil
}

func (m *Mem) SoftDeleteResource(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	r, ok := m.resources[id]
	if !ok || r.DeletedAt != nil {
		return notFound("resource", id)
	}
	now := time.Now().UTC()
	r.DeletedAt = &now
	r.Status = types.StatusDeleted
	return nil
}

func (m *Mem) ListResources(ctx context.Context, filter ResourceFilter) ([]*types.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	var out []*types.Resource
	for _, r := range m.resources {
		if r.DeletedAt != nil {
			continue
		}
		if filter.TeamID != nil && r.TeamID != *filter.TeamID {
			continue
		}
		if len(filter.Status) > 0 && !containsStatus(filter.Status, r.Status) {
			continue
		}
		if len(filter.LifecycleModes) > 0 && !containsMode(filter.LifecycleModes, r.LifecycleMode) {
			continue
		}
		copied := *r
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func containsStatus(list []types.ResourceStatus, s types.ResourceStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsMode(list []types.LifecycleMode, m types.LifecycleMode) bool {
	for _, v := range list {
		if v == m {
			return true
		}
	}
	return false
}

// --- resource users ---

func (m *Mem) CreateResourceUser(ctx context.Context, u *types.ResourceUser) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	for _, existing := range m.resourceUsers {
		if existing.DeletedAt == nil && existing.ResourceID == u.ResourceID && existing.Username == u.Username {
			return &Error{Kind: ErrKindConflict, Entity: "resource_user", Err: fmt.Errorf("username %q already exists on resource %d", u.Username, u.ResourceID)}
		}
	}
	u.ID = m.id()
	u.CreatedAt = time.Now().UTC()
	u.UpdatedAt = u.CreatedAt
	if u.SyncStatus == "" {
		u.SyncStatus = types.SyncPending
	}
	copied := *u
	m.resourceUsers[u.ID] = &copied
	return nil
}

func (m *Mem) GetResourceUser(ctx context.Context, id int64) (*types.ResourceUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	u, ok := m.resourceUsers[id]
	if !ok || u.DeletedAt != nil {
		return nil, notFound("resource_user", id)
	}
	copied := *u
	return &copied, nil
}

func (m *Mem) UpdateResourceUser(ctx context.Context, u *types.ResourceUser) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	existing, ok := m.resourceUsers[u.ID]
	if !ok || existing.DeletedAt != nil {
		return notFound("resource_user", u.ID)
	}
	u.UpdatedAt = time.Now().UTC()
	copied := *u
	m.resourceUsers[u.ID] = &copied
	return nil
}

func (m *Mem) SoftDeleteResourceUser(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	u, ok := m.resourceUsers[id]
	if !ok || u.DeletedAt != nil {
		return notFound("resource_user", id)
	}
	now := time.Now().UTC()
	u.DeletedAt = &now
	return nil
}

func (m *Mem) ListResourceUsers(ctx context.Context, resourceID int64) ([]*types.ResourceUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	var out []*types.ResourceUser
	for _, u := range m.resourceUsers {
		if u.DeletedAt == nil && u.ResourceID == resourceID {
			copied := *u
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Mem) ListUnsyncedResourceUsers(ctx context.Context, limit int) ([]*types.ResourceUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	var out []*types.ResourceUser
	for _, u := range m.resourceUsers {
		if u.DeletedAt == nil && (u.SyncStatus == types.SyncPending || u.SyncStatus == types.SyncError) {
			copied := *u
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- CAs and certificates ---

func (m *Mem) CreateCA(ctx context.Context, ca *types.CertificateAuthority) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	ca.ID = m.id()
	ca.CreatedAt = time.Now().UTC()
	ca.UpdatedAt = ca.CreatedAt
	copied := *ca
	m.cas[ca.ID] = &copied
	return nil
}

func (m *Mem) GetCA(ctx context.Context, id int64) (*types.CertificateAuthority, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	ca, ok := m.cas[id]
	if !ok || ca.DeletedAt != nil {
		return nil, notFound("certificate_authority", id)
	}
	copied := *ca
	return &copied, nil
}

func (m *Mem) SoftDeleteCA(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	ca, ok := m.cas[id]
	if !ok || ca.DeletedAt != nil {
		return notFound("certificate_authority", id)
	}
	now := time.Now().UTC()
	ca.DeletedAt = &now
	return nil
}

func (m *Mem) ListCAs(ctx context.Context) ([]*types.CertificateAuthority, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	var out []*types.CertificateAuthority
	for _, ca := range m.cas {
		if ca.DeletedAt == nil {
			copied := *ca
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Mem) CreateCertificate(ctx context.Context, cert *types.Certificate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	cert.ID = m.id()
	cert.CreatedAt = time.Now().UTC()
	cert.UpdatedAt = cert.CreatedAt
	copied := *cert
	m.certificates[cert.ID] = &copied
	return nil
}

func (m *Mem) GetCertificate(ctx context.Context, id int64) (*types.Certificate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	cert, ok := m.certificates[id]
	if !ok || cert.DeletedAt != nil {
		return nil, notFound("certificate", id)
	}
	copied := *cert
	return &copied, nil
}

func (m *Mem) UpdateCertificate(ctx context.Context, cert *types.Certificate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	existing, ok := m.certificates[cert.ID]
	if !ok || existing.DeletedAt != nil {
		return notFound("certificate", cert.ID)
	}
	cert.UpdatedAt = time.Now().UTC()
	copied := *cert
	m.certificates[cert.ID] = &copied
	return nil
}

func (m *Mem) SoftDeleteCertificate(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	cert, ok := m.certificates[id]
	if !ok || cert.DeletedAt != nil {
		return notFound("certificate", id)
	}
	now := time.Now().UTC()
	cert.DeletedAt = &now
	return nil
}

func (m *Mem) ListCertificatesExpiringBy(ctx context.Context, deadline time.Time) ([]*types.Certificate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	var out []*types.Certificate
	for _, cert := range m.certificates {
		if cert.DeletedAt == nil && !cert.ValidUntil.After(deadline) {
			copied := *cert
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ValidUntil.Before(out[j].ValidUntil) })
	return out, nil
}

// --- jobs ---

func (m *Mem) CreateBackupJob(ctx context.Context, job *types.BackupJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	job.ID = m.id()
	job.CreatedAt = time.Now().UTC()
	copied := *job
	m.backupJobs[job.ID] = &copied
	return nil
}

func (m *Mem) GetBackupJob(ctx context.Context, id int64) (*types.BackupJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	job, ok := m.backupJobs[id]
	if !ok {
		return nil, notFound("backup_job", id)
	}
	copied := *job
	return &copied, nil
}

func (m *Mem) UpdateBackupJob(ctx context.Context, job *types.BackupJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	if _, ok := m.backupJobs[job.ID]; !ok {
		return notFound("backup_job", job.ID)
	}
	copied := *job
	m.backupJobs[job.ID] = &copied
	return nil
}

func (m *Mem) ListBackupJobs(ctx context.Context, resourceID int64) ([]*types.BackupJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	var out []*types.BackupJob
	for _, job := range m.backupJobs {
		if job.ResourceID == resourceID {
			copied := *job
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Mem) CreateProvisioningJob(ctx context.Context, job *types.ProvisioningJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	job.ID = m.id()
	job.CreatedAt = time.Now().UTC()
	copied := *job
	m.provisioningJobs[job.ID] = &copied
	return nil
}

func (m *Mem) GetProvisioningJob(ctx context.Context, id int64) (*types.ProvisioningJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	job, ok := m.provisioningJobs[id]
	if !ok {
		return nil, notFound("provisioning_job", id)
	}
	copied := *job
	return &copied, nil
}

func (m *Mem) UpdateProvisioningJob(ctx context.Context, job *types.ProvisioningJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	if _, ok := m.provisioningJobs[job.ID]; !ok {
		return notFound("provisioning_job", job.ID)
	}
	copied := *job
	m.provisioningJobs[job.ID] = &copied
	return nil
}

// --- stats and audit ---

func (m *Mem) InsertResourceStat(ctx context.Context, stat *types.ResourceStat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	stat.ID = m.id()
	if stat.Timestamp.IsZero() {
		stat.Timestamp = time.Now().UTC()
	}
	copied := *stat
	m.stats = append(m.stats, &copied)
	return nil
}

func (m *Mem) ListResourceStats(ctx context.Context, resourceID int64, since time.Time) ([]*types.ResourceStat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	var out []*types.ResourceStat
	for _, stat := range m.stats {
		if stat.ResourceID == resourceID && !stat.Timestamp.Before(since) {
			copied := *stat
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *Mem) AppendAuditLog(ctx context.Context, entry *types.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	entry.ID = m.id()
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	copied := *entry
	m.auditLogs = append(m.auditLogs, &copied)
	return nil
}

// AuditLogs returns a copy of every recorded audit entry
func (m *Mem) AuditLogs() []*types.AuditLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	out := make([]*types.AuditLog, 0, len(m.auditLogs))
	for _, entry := range m.auditLogs {
		copied := *entry
		out = append(out, &copied)
	}
	return out
}

// ProvisioningJobs returns a copy of every provisioning job row
func (m *Mem) ProvisioningJobs() []*types.ProvisioningJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	var out []*types.ProvisioningJob
	for _, job := range m.provisioningJobs {
		copied := *job
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// BackupJobs returns a copy of every backup job row
func (m *Mem) BackupJobs() []*types.BackupJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	var out []*types.BackupJob
	for _, job := range m.backupJobs {
		copied := *job
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// WithTx runs fn against the same store; the in-memory implementation
// offers no rollback.
func (m *Mem) WithTx(ctx context.Context, fn func(Store) error) error {
	return fn(m)
}

func (m *Mem) Close() error { return nil }
