package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/dreyhq/drey/pkg/types"
)

// PostgresStore implements Store over a Postgres database.
type PostgresStore struct {
	db *sqlx.DB
	q  sqlx.ExtContext
}

// Open connects to Postgres and verifies the connection
func Open(dsn string) (*PostgresStore, error) {
	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return &PostgresStore{db: db, q: db}, nil
}

// NewWithDB wraps an existing connection (used by tests)
func NewWithDB(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db, q: db}
}

// Close closes the underlying connection pool
func (s *PostgresStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// WithTx runs fn inside a transaction
func (s *PostgresStore) WithTx(ctx context.Context, fn func(Store) error) error {
	if s.db == nil {
		// Already inside a transaction; nesting joins the outer one.
		return fn(s)
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return &Error{Kind: ErrKindBackend, Entity: "tx", Err: err}
	}
	txStore := &PostgresStore{q: tx}
	if err := fn(txStore); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return &Error{Kind: ErrKindBackend, Entity: "tx", Err: err}
	}
	return nil
}

func classify(entity string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return &Error{Kind: ErrKindNotFound, Entity: entity, Err: err}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505", "23503": // unique_violation, foreign_key_violation
			return &Error{Kind: ErrKindConflict, Entity: entity, Err: err}
		}
	}
	return &Error{Kind: ErrKindBackend, Entity: entity, Err: err}
}

// --- teams and users ---

func (s *PostgresStore) GetTeam(ctx context.Context, id int64) (*types.Team, error) {
	var t types.Team
	err := sqlx.GetContext(ctx, s.q, &t,
		`SELECT id, name, is_global, created_at, updated_at, deleted_at
		 FROM teams WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return nil, classify("team", err)
	}
	return &t, nil
}

func (s *PostgresStore) GetGlobalTeam(ctx context.Context) (*types.Team, error) {
	var t types.Team
	err := sqlx.GetContext(ctx, s.q, &t,
		`SELECT id, name, is_global, created_at, updated_at, deleted_at
		 FROM teams WHERE is_global AND deleted_at IS NULL`)
	if err != nil {
		return nil, classify("team", err)
	}
	return &t, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id int64) (*types.User, error) {
	var u types.User
	err := sqlx.GetContext(ctx, s.q, &u,
		`SELECT id, username, email, is_active, created_at, updated_at, deleted_at
		 FROM users WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return nil, classify("user", err)
	}
	return &u, nil
}

func (s *PostgresStore) GetMembership(ctx context.Context, userID, teamID int64) (*types.TeamMembership, error) {
	var m types.TeamMembership
	err := sqlx.GetContext(ctx, s.q, &m,
		`SELECT id, user_id, team_id, role, created_at
		 FROM team_memberships WHERE user_id = $1 AND team_id = $2`, userID, teamID)
	if err != nil {
		return nil, classify("membership", err)
	}
	return &m, nil
}

func (s *PostgresStore) ListMembershipsForUser(ctx context.Context, userID int64) ([]*types.TeamMembership, error) {
	var ms []*types.TeamMembership
	err := sqlx.SelectContext(ctx, s.q, &ms,
		`SELECT id, user_id, team_id, role, created_at
		 FROM team_memberships WHERE user_id = $1`, userID)
	if err != nil {
		return nil, classify("membership", err)
	}
	return ms, nil
}

// --- resource types ---

const resourceTypeCols = `id, name, category, display_name,
	supports_full_lifecycle, supports_partial_lifecycle,
	supports_user_management, supports_backup, created_at`

func (s *PostgresStore) GetResourceType(ctx context.Context, id int64) (*types.ResourceType, error) {
	var rt types.ResourceType
	err := sqlx.GetContext(ctx, s.q, &rt,
		`SELECT `+resourceTypeCols+` FROM resource_types WHERE id = $1`, id)
	if err != nil {
		return nil, classify("resource_type", err)
	}
	return &rt, nil
}

func (s *PostgresStore) GetResourceTypeByName(ctx context.Context, name string) (*types.ResourceType, error) {
	var rt types.ResourceType
	err := sqlx.GetContext(ctx, s.q, &rt,
		`SELECT `+resourceTypeCols+` FROM resource_types WHERE name = $1`, name)
	if err != nil {
		return nil, classify("resource_type", err)
	}
	return &rt, nil
}

func (s *PostgresStore) ListResourceTypes(ctx context.Context) ([]*types.ResourceType, error) {
	var rts []*types.ResourceType
	err := sqlx.SelectContext(ctx, s.q, &rts,
		`SELECT `+resourceTypeCols+` FROM resource_types ORDER BY name`)
	if err != nil {
		return nil, classify("resource_type", err)
	}
	return rts, nil
}

// --- resources ---

// resourceRow maps the resources table; JSON blobs are marshalled at this
// edge so types.Resource stays plain Go values.
type resourceRow struct {
	ID              int64                `db:"id"`
	Name            string               `db:"name"`
	ResourceTypeID  int64                `db:"resource_type_id"`
	TeamID          int64                `db:"team_id"`
	Status          types.ResourceStatus `db:"status"`
	LifecycleMode   types.LifecycleMode  `db:"lifecycle_mode"`
	CanModifyConfig bool                 `db:"can_modify_config"`
	CanModifyUsers  bool                 `db:"can_modify_users"`
	CanBackup       bool                 `db:"can_backup"`
	CanScale        bool                 `db:"can_scale"`
	K8sNamespace    string               `db:"k8s_namespace"`
	K8sResourceName string               `db:"k8s_resource_name"`
	K8sResourceType string               `db:"k8s_resource_type"`
	ConnectionInfo  []byte               `db:"connection_info"`
	Credentials     []byte               `db:"credentials"`
	Config          []byte               `db:"config"`
	TLSEnabled      bool                 `db:"tls_enabled"`
	TLSCAID         *int64               `db:"tls_ca_id"`
	TLSCertID       *int64               `db:"tls_cert_id"`
	CreatedBy       *int64               `db:"created_by"`
	CreatedAt       time.Time            `db:"created_at"`
	UpdatedAt       time.Time            `db:"updated_at"`
	DeletedAt       *time.Time           `db:"deleted_at"`
}

const resourceCols = `id, name, resource_type_id, team_id, status, lifecycle_mode,
	can_modify_config, can_modify_users, can_backup, can_scale,
	k8s_namespace, k8s_resource_name, k8s_resource_type,
	connection_info, credentials, config,
	tls_enabled, tls_ca_id, tls_cert_id,
	created_by, created_at, updated_at, deleted_at`

func (r *resourceRow) toResource() (*types.Resource, error) {
	res := &types.Resource{
		ID:              r.ID,
		Name:            r.Name,
		ResourceTypeID:  r.ResourceTypeID,
		TeamID:          r.TeamID,
		Status:          r.Status,
		LifecycleMode:   r.LifecycleMode,
		CanModifyConfig: r.CanModifyConfig,
		CanModifyUsers:  r.CanModifyUsers,
		CanBackup:       r.CanBackup,
		CanScale:        r.CanScale,
		K8sNamespace:    r.K8sNamespace,
		K8sResourceName: r.K8sResourceName,
		K8sResourceType: r.K8sResourceType,
		TLSEnabled:      r.TLSEnabled,
		TLSCAID:         r.TLSCAID,
		TLSCertID:       r.TLSCertID,
		CreatedBy:       r.CreatedBy,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		DeletedAt:       r.DeletedAt,
	}
	if len(r.ConnectionInfo) > 0 {
		if err := json.Unmarshal(r.ConnectionInfo, &res.ConnectionInfo); err != nil {
			return nil, fmt.Errorf("failed to decode connection info: %w", err)
		}
	}
	if len(r.Credentials) > 0 {
		if err := json.Unmarshal(r.Credentials, &res.Credentials); err != nil {
			return nil, fmt.Errorf("failed to decode credentials: %w", err)
		}
	}
	if len(r.Config) > 0 {
		if err := json.Unmarshal(r.Config, &res.Config); err != nil {
			return nil, fmt.Errorf("failed to decode config: %w", err)
		}
	}
	return res, nil
}

func marshalResourceBlobs(r *types.Resource) (connInfo, creds, cfg []byte, err error) {
	if r.ConnectionInfo != nil {
		if connInfo, err = json.Marshal(r.ConnectionInfo); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to encode connection info: %w", err)
		}
	}
	if r.Credentials != nil {
		if creds, err = json.Marshal(r.Credentials); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to encode credentials: %w", err)
		}
	}
	if r.Config != nil {
		if cfg, err = json.Marshal(r.Config); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to encode config: %w", err)
		}
	}
	return connInfo, creds, cfg, nil
}

func (s *PostgresStore) CreateResource(ctx context.Context, r *types.Resource) error {
	connInfo, creds, cfg, err := marshalResourceBlobs(r)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	err = s.q.QueryRowxContext(ctx,
		`INSERT INTO resources (name, resource_type_id, team_id, status, lifecycle_mode,
			can_modify_config, can_modify_users, can_backup, can_scale,
			k8s_namespace, k8s_resource_name, k8s_resource_type,
			connection_info, credentials, config,
			tls_enabled, tls_ca_id, tls_cert_id, created_by, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$20)
		 RETURNING id`,
		r.Name, r.ResourceTypeID, r.TeamID, r.Status, r.LifecycleMode,
		r.CanModifyConfig, r.CanModifyUsers, r.CanBackup, r.CanScale,
		r.K8sNamespace, r.K8sResourceName, r.K8sResourceType,
		connInfo, creds, cfg,
		r.TLSEnabled, r.TLSCAID, r.TLSCertID, r.CreatedBy, now,
	).Scan(&r.ID)
	if err != nil {
		return classify("resource", err)
	}
	r.CreatedAt = now
	r.UpdatedAt = now
	return nil
}

func (s *PostgresStore) GetResource(ctx context.Context, id int64) (*types.Resource, error) {
	var row resourceRow
	err := sqlx.GetContext(ctx, s.q, &row,
		`SELECT `+resourceCols+` FROM resources WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return nil, classify("resource", err)
	}
	return row.toResource()
}

func (s *PostgresStore) UpdateResource(ctx context.Context, r *types.Resource) error {
	connInfo, creds, cfg, err := marshalResourceBlobs(r)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	res, err := s.q.ExecContext(ctx,
		`UPDATE resources SET name=$2, status=$3, lifecycle_mode=$4,
			can_modify_config=$5, can_modify_users=$6, can_backup=$7, can_scale=$8,
			k8s_namespace=$9, k8s_resource_name=$10, k8s_resource_type=$11,
			connection_info=$12, credentials=$13, config=$14,
			tls_enabled=$15, tls_ca_id=$16, tls_cert_id=$17, updated_at=$18
		 WHERE id=$1 AND deleted_at IS NULL`,
		r.ID, r.Name, r.Status, r.LifecycleMode,
		r.CanModifyConfig, r.CanModifyUsers, r.CanBackup, r.CanScale,
		r.K8sNamespace, r.K8sResourceName, r.K8sResourceType,
		connInfo, creds, cfg,
		r.TLSEnabled, r.TLSCAID, r.TLSCertID, now)
	if err != nil {
		return classify("resource", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &Error{Kind: ErrKindNotFound, Entity: "resource", Err: sql.ErrNoRows}
	}
	r.UpdatedAt = now
	return nil
}

func (s *PostgresStore) SoftDeleteResource(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	res, err := s.q.ExecContext(ctx,
		`UPDATE resources SET deleted_at=$2, status=$3, updated_at=$2
		 WHERE id=$1 AND deleted_at IS NULL`, id, now, types.StatusDeleted)
	if err != nil {
		return classify("resource", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &Error{Kind: ErrKindNotFound, Entity: "resource", Err: sql.ErrNoRows}
	}
	return nil
}

func (s *PostgresStore) ListResources(ctx context.Context, filter ResourceFilter) ([]*types.Resource, error) {
	query := `SELECT ` + resourceCols + ` FROM resources WHERE deleted_at IS NULL`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.TeamID != nil {
		query += ` AND team_id = ` + arg(*filter.TeamID)
	}
	if len(filter.Status) > 0 {
		placeholders := ""
		for i, st := range filter.Status {
			if i > 0 {
				placeholders += ","
			}
			placeholders += arg(string(st))
		}
		query += ` AND status IN (` + placeholders + `)`
	}
	if len(filter.LifecycleModes) > 0 {
		placeholders := ""
		for i, m := range filter.LifecycleModes {
			if i > 0 {
				placeholders += ","
			}
			placeholders += arg(string(m))
		}
		query += ` AND lifecycle_mode IN (` + placeholders + `)`
	}
	query += ` ORDER BY id`

	var rows []resourceRow
	if err := sqlx.SelectContext(ctx, s.q, &rows, query, args...); err != nil {
		return nil, classify("resource", err)
	}
	out := make([]*types.Resource, 0, len(rows))
	for i := range rows {
		r, err := rows[i].toResource()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// --- resource users ---

type resourceUserRow struct {
	ID           int64            `db:"id"`
	ResourceID   int64            `db:"resource_id"`
	Username     string           `db:"username"`
	PasswordHash string           `db:"password_hash"`
	Roles        []byte           `db:"roles"`
	SyncStatus   types.SyncStatus `db:"sync_status"`
	LastSyncedAt *time.Time       `db:"last_synced_at"`
	SyncError    sql.NullString   `db:"sync_error"`
	CreatedBy    *int64           `db:"created_by"`
	CreatedAt    time.Time        `db:"created_at"`
	UpdatedAt    time.Time        `db:"updated_at"`
	DeletedAt    *time.Time       `db:"deleted_at"`
}

const resourceUserCols = `id, resource_id, username, password_hash, roles,
	sync_status, last_synced_at, sync_error, created_by, created_at, updated_at, deleted_at`

func (r *resourceUserRow) toResourceUser() (*types.ResourceUser, error) {
	u := &types.ResourceUser{
		ID:           r.ID,
		ResourceID:   r.ResourceID,
		Username:     r.Username,
		PasswordHash: r.PasswordHash,
		SyncStatus:   r.SyncStatus,
		LastSyncedAt: r.LastSyncedAt,
		SyncError:    r.SyncError.String,
		CreatedBy:    r.CreatedBy,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
		DeletedAt:    r.DeletedAt,
	}
	if len(r.Roles) > 0 {
		if err := json.Unmarshal(r.Roles, &u.Roles); err != nil {
			return nil, fmt.Errorf("failed to decode roles: %w", err)
		}
	}
	return u, nil
}

func (s *PostgresStore) CreateResourceUser(ctx context.Context, u *types.ResourceUser) error {
	roles, err := json.Marshal(u.Roles)
	if err != nil {
		return fmt.Errorf("failed to encode roles: %w", err)
	}
	now := time.Now().UTC()
	if u.SyncStatus == "" {
		u.SyncStatus = types.SyncPending
	}
	err = s.q.QueryRowxContext(ctx,
		`INSERT INTO resource_users (resource_id, username, password_hash, roles,
			sync_status, created_by, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$7) RETURNING id`,
		u.ResourceID, u.Username, u.PasswordHash, roles, u.SyncStatus, u.CreatedBy, now,
	).Scan(&u.ID)
	if err != nil {
		return classify("resource_user", err)
	}
	u.CreatedAt = now
	u.UpdatedAt = now
	return nil
}

func (s *PostgresStore) GetResourceUser(ctx context.Context, id int64) (*types.ResourceUser, error) {
	var row resourceUserRow
	err := sqlx.GetContext(ctx, s.q, &row,
		`SELECT `+resourceUserCols+` FROM resource_users WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return nil, classify("resource_user", err)
	}
	return row.toResourceUser()
}

func (s *PostgresStore) UpdateResourceUser(ctx context.Context, u *types.ResourceUser) error {
	roles, err := json.Marshal(u.Roles)
	if err != nil {
		return fmt.Errorf("failed to encode roles: %w", err)
	}
	now := time.Now().UTC()
	var syncErr any
	if u.SyncError != "" {
		syncErr = u.SyncError
	}
	res, err := s.q.ExecContext(ctx,
		`UPDATE resource_users SET username=$2, password_hash=$3, roles=$4,
			sync_status=$5, last_synced_at=$6, sync_error=$7, updated_at=$8
		 WHERE id=$1 AND deleted_at IS NULL`,
		u.ID, u.Username, u.PasswordHash, roles,
		u.SyncStatus, u.LastSyncedAt, syncErr, now)
	if err != nil {
		return classify("resource_user", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &Error{Kind: ErrKindNotFound, Entity: "resource_user", Err: sql.ErrNoRows}
	}
	u.UpdatedAt = now
	return nil
}

func (s *PostgresStore) SoftDeleteResourceUser(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	res, err := s.q.ExecContext(ctx,
		`UPDATE resource_users SET deleted_at=$2, sync_status=$3, updated_at=$2
		 WHERE id=$1 AND deleted_at IS NULL`, id, now, types.SyncSynced)
	if err != nil {
		return classify("resource_user", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &Error{Kind: ErrKindNotFound, Entity: "resource_user", Err: sql.ErrNoRows}
	}
	return nil
}

func (s *PostgresStore) ListResourceUsers(ctx context.Context, resourceID int64) ([]*types.ResourceUser, error) {
	var rows []resourceUserRow
	err := sqlx.SelectContext(ctx, s.q, &rows,
		`SELECT `+resourceUserCols+` FROM resource_users
		 WHERE resource_id = $1 AND deleted_at IS NULL ORDER BY id`, resourceID)
	if err != nil {
		return nil, classify("resource_user", err)
	}
	return toResourceUsers(rows)
}

func (s *PostgresStore) ListUnsyncedResourceUsers(ctx context.Context, limit int) ([]*types.ResourceUser, error) {
	var rows []resourceUserRow
	err := sqlx.SelectContext(ctx, s.q, &rows,
		`SELECT `+resourceUserCols+` FROM resource_users
		 WHERE sync_status IN ($1,$2) AND deleted_at IS NULL
		 ORDER BY created_at ASC LIMIT $3`,
		types.SyncPending, types.SyncError, limit)
	if err != nil {
		return nil, classify("resource_user", err)
	}
	return toResourceUsers(rows)
}

func toResourceUsers(rows []resourceUserRow) ([]*types.ResourceUser, error) {
	out := make([]*types.ResourceUser, 0, len(rows))
	for i := range rows {
		u, err := rows[i].toResourceUser()
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

// --- certificate authorities ---

const caCols = `id, name, type, certificate, private_key, subject, issuer,
	valid_from, valid_until, serial_number, is_managed,
	created_by, created_at, updated_at, deleted_at`

func (s *PostgresStore) CreateCA(ctx context.Context, ca *types.CertificateAuthority) error {
	now := time.Now().UTC()
	err := s.q.QueryRowxContext(ctx,
		`INSERT INTO certificate_authorities (name, type, certificate, private_key,
			subject, issuer, valid_from, valid_until, serial_number, is_managed,
			created_by, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$12) RETURNING id`,
		ca.Name, ca.Type, ca.Certificate, ca.PrivateKey,
		ca.Subject, ca.Issuer, ca.ValidFrom, ca.ValidUntil, ca.SerialNumber, ca.IsManaged,
		ca.CreatedBy, now,
	).Scan(&ca.ID)
	if err != nil {
		return classify("certificate_authority", err)
	}
	ca.CreatedAt = now
	ca.UpdatedAt = now
	return nil
}

func (s *PostgresStore) GetCA(ctx context.Context, id int64) (*types.CertificateAuthority, error) {
	var ca types.CertificateAuthority
	err := sqlx.GetContext(ctx, s.q, &ca,
		`SELECT `+caCols+` FROM certificate_authorities WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return nil, classify("certificate_authority", err)
	}
	return &ca, nil
}

func (s *PostgresStore) SoftDeleteCA(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	res, err := s.q.ExecContext(ctx,
		`UPDATE certificate_authorities SET deleted_at=$2, updated_at=$2
		 WHERE id=$1 AND deleted_at IS NULL`, id, now)
	if err != nil {
		return classify("certificate_authority", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &Error{Kind: ErrKindNotFound, Entity: "certificate_authority", Err: sql.ErrNoRows}
	}
	return nil
}

func (s *PostgresStore) ListCAs(ctx context.Context) ([]*types.CertificateAuthority, error) {
	var cas []*types.CertificateAuthority
	err := sqlx.SelectContext(ctx, s.q, &cas,
		`SELECT `+caCols+` FROM certificate_authorities WHERE deleted_at IS NULL ORDER BY name`)
	if err != nil {
		return nil, classify("certificate_authority", err)
	}
	return cas, nil
}

// --- certificates ---

type certificateRow struct {
	ID                   int64      `db:"id"`
	ResourceID           *int64     `db:"resource_id"`
	CAID                 int64      `db:"ca_id"`
	Certificate          string     `db:"certificate"`
	PrivateKey           string     `db:"private_key"`
	CommonName           string     `db:"common_name"`
	SANDNS               []byte     `db:"san_dns"`
	SANIPs               []byte     `db:"san_ips"`
	ValidFrom            time.Time  `db:"valid_from"`
	ValidUntil           time.Time  `db:"valid_until"`
	SerialNumber         string     `db:"serial_number"`
	AutoRenew            bool       `db:"auto_renew"`
	RenewalThresholdDays int        `db:"renewal_threshold_days"`
	CreatedAt            time.Time  `db:"created_at"`
	UpdatedAt            time.Time  `db:"updated_at"`
	DeletedAt            *time.Time `db:"deleted_at"`
}

const certificateCols = `id, resource_id, ca_id, certificate, private_key, common_name,
	san_dns, san_ips, valid_from, valid_until, serial_number,
	auto_renew, renewal_threshold_days, created_at, updated_at, deleted_at`

func (r *certificateRow) toCertificate() (*types.Certificate, error) {
	c := &types.Certificate{
		ID:                   r.ID,
		ResourceID:           r.ResourceID,
		CAID:                 r.CAID,
		Certificate:          r.Certificate,
		PrivateKey:           r.PrivateKey,
		CommonName:           r.CommonName,
		ValidFrom:            r.ValidFrom,
		ValidUntil:           r.ValidUntil,
		SerialNumber:         r.SerialNumber,
		AutoRenew:            r.AutoRenew,
		RenewalThresholdDays: r.RenewalThresholdDays,
		CreatedAt:            r.CreatedAt,
		UpdatedAt:            r.UpdatedAt,
		DeletedAt:            r.DeletedAt,
	}
	if len(r.SANDNS) > 0 {
		if err := json.Unmarshal(r.SANDNS, &c.SANDNS); err != nil {
			return nil, fmt.Errorf("failed to decode SAN DNS list: %w", err)
		}
	}
	if len(r.SANIPs) > 0 {
		if err := json.Unmarshal(r.SANIPs, &c.SANIPs); err != nil {
			return nil, fmt.Errorf("failed to decode SAN IP list: %w", err)
		}
	}
	return c, nil
}

func (s *PostgresStore) CreateCertificate(ctx context.Context, cert *types.Certificate) error {
	sanDNS, err := json.Marshal(cert.SANDNS)
	if err != nil {
		return fmt.Errorf("failed to encode SAN DNS list: %w", err)
	}
	sanIPs, err := json.Marshal(cert.SANIPs)
	if err != nil {
		return fmt.Errorf("failed to encode SAN IP list: %w", err)
	}
	if cert.RenewalThresholdDays == 0 {
		cert.RenewalThresholdDays = 30
	}
	now := time.Now().UTC()
	err = s.q.QueryRowxContext(ctx,
		`INSERT INTO certificates (resource_id, ca_id, certificate, private_key,
			common_name, san_dns, san_ips, valid_from, valid_until, serial_number,
			auto_renew, renewal_threshold_days, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$13) RETURNING id`,
		cert.ResourceID, cert.CAID, cert.Certificate, cert.PrivateKey,
		cert.CommonName, sanDNS, sanIPs, cert.ValidFrom, cert.ValidUntil, cert.SerialNumber,
		cert.AutoRenew, cert.RenewalThresholdDays, now,
	).Scan(&cert.ID)
	if err != nil {
		return classify("certificate", err)
	}
	cert.CreatedAt = now
	cert.UpdatedAt = now
	return nil
}

func (s *PostgresStore) GetCertificate(ctx context.Context, id int64) (*types.Certificate, error) {
	var row certificateRow
	err := sqlx.GetContext(ctx, s.q, &row,
		`SELECT `+certificateCols+` FROM certificates WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return nil, classify("certificate", err)
	}
	return row.toCertificate()
}

func (s *PostgresStore) UpdateCertificate(ctx context.Context, cert *types.Certificate) error {
	sanDNS, err := json.Marshal(cert.SANDNS)
	if err != nil {
		return fmt.Errorf("failed to encode SAN DNS list: %w", err)
	}
	sanIPs, err := json.Marshal(cert.SANIPs)
	if err != nil {
		return fmt.Errorf("failed to encode SAN IP list: %w", err)
	}
	now := time.Now().UTC()
	res, err := s.q.ExecContext(ctx,
		`UPDATE certificates SET certificate=$2, private_key=$3, common_name=$4,
			san_dns=$5, san_ips=$6, valid_from=$7, valid_until=$8, serial_number=$9,
			auto_renew=$10, renewal_threshold_days=$11, updated_at=$12
		 WHERE id=$1 AND deleted_at IS NULL`,
		cert.ID, cert.Certificate, cert.PrivateKey, cert.CommonName,
		sanDNS, sanIPs, cert.ValidFrom, cert.ValidUntil, cert.SerialNumber,
		cert.AutoRenew, cert.RenewalThresholdDays, now)
	if err != nil {
		return classify("certificate", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &Error{Kind: ErrKindNotFound, Entity: "certificate", Err: sql.ErrNoRows}
	}
	cert.UpdatedAt = now
	return nil
}

func (s *PostgresStore) SoftDeleteCertificate(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	res, err := s.q.ExecContext(ctx,
		`UPDATE certificates SET deleted_at=$2, updated_at=$2
		 WHERE id=$1 AND deleted_at IS NULL`, id, now)
	if err != nil {
		return classify("certificate", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &Error{Kind: ErrKindNotFound, Entity: "certificate", Err: sql.ErrNoRows}
	}
	return nil
}

func (s *PostgresStore) ListCertificatesExpiringBy(ctx context.Context, deadline time.Time) ([]*types.Certificate, error) {
	var rows []certificateRow
	err := sqlx.SelectContext(ctx, s.q, &rows,
		`SELECT `+certificateCols+` FROM certificates
		 WHERE valid_until <= $1 AND deleted_at IS NULL ORDER BY valid_until ASC`, deadline)
	if err != nil {
		return nil, classify("certificate", err)
	}
	out := make([]*types.Certificate, 0, len(rows))
	for i := range rows {
		c, err := rows[i].toCertificate()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// --- backup jobs ---

const backupJobCols = `id, resource_id, job_type, status, backup_location,
	backup_size_bytes, started_at, completed_at, error_message, created_by, created_at`

func (s *PostgresStore) CreateBackupJob(ctx context.Context, job *types.BackupJob) error {
	now := time.Now().UTC()
	if job.Status == "" {
		job.Status = types.BackupPending
	}
	err := s.q.QueryRowxContext(ctx,
		`INSERT INTO backup_jobs (resource_id, job_type, status, backup_location,
			backup_size_bytes, started_at, completed_at, error_message, created_by, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING id`,
		job.ResourceID, job.JobType, job.Status, job.BackupLocation,
		job.BackupSizeBytes, job.StartedAt, job.CompletedAt, job.ErrorMessage, job.CreatedBy, now,
	).Scan(&job.ID)
	if err != nil {
		return classify("backup_job", err)
	}
	job.CreatedAt = now
	return nil
}

func (s *PostgresStore) GetBackupJob(ctx context.Context, id int64) (*types.BackupJob, error) {
	var job types.BackupJob
	err := sqlx.GetContext(ctx, s.q, &job,
		`SELECT `+backupJobCols+` FROM backup_jobs WHERE id = $1`, id)
	if err != nil {
		return nil, classify("backup_job", err)
	}
	return &job, nil
}

func (s *PostgresStore) UpdateBackupJob(ctx context.Context, job *types.BackupJob) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE backup_jobs SET status=$2, backup_location=$3, backup_size_bytes=$4,
			started_at=$5, completed_at=$6, error_message=$7
		 WHERE id=$1`,
		job.ID, job.Status, job.BackupLocation, job.BackupSizeBytes,
		job.StartedAt, job.CompletedAt, job.ErrorMessage)
	if err != nil {
		return classify("backup_job", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &Error{Kind: ErrKindNotFound, Entity: "backup_job", Err: sql.ErrNoRows}
	}
	return nil
}

func (s *PostgresStore) ListBackupJobs(ctx context.Context, resourceID int64) ([]*types.BackupJob, error) {
	var jobs []*types.BackupJob
	err := sqlx.SelectContext(ctx, s.q, &jobs,
		`SELECT `+backupJobCols+` FROM backup_jobs WHERE resource_id = $1 ORDER BY created_at DESC`, resourceID)
	if err != nil {
		return nil, classify("backup_job", err)
	}
	return jobs, nil
}

// --- provisioning jobs ---

const provisioningJobCols = `id, resource_id, job_type, status,
	started_at, completed_at, logs, error_message, created_by, created_at`

func (s *PostgresStore) CreateProvisioningJob(ctx context.Context, job *types.ProvisioningJob) error {
	now := time.Now().UTC()
	if job.Status == "" {
		job.Status = types.JobPending
	}
	err := s.q.QueryRowxContext(ctx,
		`INSERT INTO provisioning_jobs (resource_id, job_type, status,
			started_at, completed_at, logs, error_message, created_by, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id`,
		job.ResourceID, job.JobType, job.Status,
		job.StartedAt, job.CompletedAt, job.Logs, job.ErrorMessage, job.CreatedBy, now,
	).Scan(&job.ID)
	if err != nil {
		return classify("provisioning_job", err)
	}
	job.CreatedAt = now
	return nil
}

func (s *PostgresStore) GetProvisioningJob(ctx context.Context, id int64) (*types.ProvisioningJob, error) {
	var job types.ProvisioningJob
	err := sqlx.GetContext(ctx, s.q, &job,
		`SELECT `+provisioningJobCols+` FROM provisioning_jobs WHERE id = $1`, id)
	if err != nil {
		return nil, classify("provisioning_job", err)
	}
	return &job, nil
}

func (s *PostgresStore) UpdateProvisioningJob(ctx context.Context, job *types.ProvisioningJob) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE provisioning_jobs SET status=$2, started_at=$3, completed_at=$4,
			logs=$5, error_message=$6
		 WHERE id=$1`,
		job.ID, job.Status, job.StartedAt, job.CompletedAt, job.Logs, job.ErrorMessage)
	if err != nil {
		return classify("provisioning_job", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &Error{Kind: ErrKindNotFound, Entity: "provisioning_job", Err: sql.ErrNoRows}
	}
	return nil
}

// --- stats and audit ---

func (s *PostgresStore) InsertResourceStat(ctx context.Context, stat *types.ResourceStat) error {
	metrics, err := json.Marshal(stat.Metrics)
	if err != nil {
		return fmt.Errorf("failed to encode metrics: %w", err)
	}
	factors, err := json.Marshal(stat.RiskFactors)
	if err != nil {
		return fmt.Errorf("failed to encode risk factors: %w", err)
	}
	if stat.Timestamp.IsZero() {
		stat.Timestamp = time.Now().UTC()
	}
	err = s.q.QueryRowxContext(ctx,
		`INSERT INTO resource_stats (resource_id, timestamp, metrics, risk_level, risk_factors)
		 VALUES ($1,$2,$3,$4,$5) RETURNING id`,
		stat.ResourceID, stat.Timestamp, metrics, stat.RiskLevel, factors,
	).Scan(&stat.ID)
	if err != nil {
		return classify("resource_stat", err)
	}
	return nil
}

type resourceStatRow struct {
	ID          int64           `db:"id"`
	ResourceID  int64           `db:"resource_id"`
	Timestamp   time.Time       `db:"timestamp"`
	Metrics     []byte          `db:"metrics"`
	RiskLevel   types.RiskLevel `db:"risk_level"`
	RiskFactors []byte          `db:"risk_factors"`
}

func (s *PostgresStore) ListResourceStats(ctx context.Context, resourceID int64, since time.Time) ([]*types.ResourceStat, error) {
	var rows []resourceStatRow
	err := sqlx.SelectContext(ctx, s.q, &rows,
		`SELECT id, resource_id, timestamp, metrics, risk_level, risk_factors
		 FROM resource_stats WHERE resource_id = $1 AND timestamp >= $2
		 ORDER BY timestamp ASC`, resourceID, since)
	if err != nil {
		return nil, classify("resource_stat", err)
	}
	out := make([]*types.ResourceStat, 0, len(rows))
	for i := range rows {
		stat := &types.ResourceStat{
			ID:         rows[i].ID,
			ResourceID: rows[i].ResourceID,
			Timestamp:  rows[i].Timestamp,
			RiskLevel:  rows[i].RiskLevel,
		}
		if len(rows[i].Metrics) > 0 {
			if err := json.Unmarshal(rows[i].Metrics, &stat.Metrics); err != nil {
				return nil, fmt.Errorf("failed to decode metrics: %w", err)
			}
		}
		if len(rows[i].RiskFactors) > 0 {
			if err := json.Unmarshal(rows[i].RiskFactors, &stat.RiskFactors); err != nil {
				return nil, fmt.Errorf("failed to decode risk factors: %w", err)
			}
		}
		out = append(out, stat)
	}
	return out, nil
}

func (s *PostgresStore) AppendAuditLog(ctx context.Context, entry *types.AuditLog) error {
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return fmt.Errorf("failed to encode audit details: %w", err)
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	err = s.q.QueryRowxContext(ctx,
		`INSERT INTO audit_logs (user_id, action, resource_type, resource_id, team_id, details, timestamp)
		 VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`,
		entry.UserID, entry.Action, entry.ResourceType, entry.ResourceID, entry.TeamID, details, entry.Timestamp,
	).Scan(&entry.ID)
	if err != nil {
		return classify("audit_log", err)
	}
	return nil
}
