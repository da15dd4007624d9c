package connector

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dreyhq/drey/pkg/types"
)

// postgresConn manages a PostgreSQL instance over a direct connection.
type postgresConn struct {
	info  *types.ConnectionInfo
	creds map[string]string
	conn  *pgx.Conn
}

// NewPostgres builds the PostgreSQL connector
func NewPostgres(info *types.ConnectionInfo, creds map[string]string) (Connector, error) {
	if info == nil || info.Host == "" {
		return nil, &Error{Kind: ErrKindConfig, Op: "NewPostgres", Err: fmt.Errorf("connection info missing host")}
	}
	if creds["username"] == "" || creds["password"] == "" {
		return nil, &Error{Kind: ErrKindConfig, Op: "NewPostgres", Err: fmt.Errorf("credentials missing username or password")}
	}
	return &postgresConn{info: info, creds: creds}, nil
}

func (p *postgresConn) database() string {
	if db := p.creds["database"]; db != "" {
		return db
	}
	return "postgres"
}

func (p *postgresConn) connect(ctx context.Context) (*pgx.Conn, error) {
	if p.conn != nil && !p.conn.IsClosed() {
		return p.conn, nil
	}
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s connect_timeout=5",
		p.info.Host, p.info.Port, p.creds["username"], p.creds["password"], p.database())
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		kind := ErrKindConnection
		if strings.Contains(err.Error(), "password authentication failed") {
			kind = ErrKindAuth
		}
		return nil, &Error{Kind: kind, Op: "connect", Err: err}
	}
	p.conn = conn
	return conn, nil
}

func (p *postgresConn) Close() error {
	if p.conn == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return p.conn.Close(ctx)
}

func (p *postgresConn) TestConnection(ctx context.Context) error {
	conn, err := p.connect(ctx)
	if err != nil {
		return err
	}
	if err := conn.Ping(ctx); err != nil {
		return &Error{Kind: ErrKindConnection, Op: "TestConnection", Err: err}
	}
	return nil
}

func (p *postgresConn) UserExists(ctx context.Context, username string) (bool, error) {
	conn, err := p.connect(ctx)
	if err != nil {
		return false, err
	}
	var exists bool
	err = conn.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM pg_roles WHERE rolname = $1)`, username).Scan(&exists)
	if err != nil {
		return false, &Error{Kind: ErrKindBackend, Op: "UserExists", Err: err}
	}
	return exists, nil
}

func (p *postgresConn) CreateUser(ctx context.Context, spec UserSpec) error {
	conn, err := p.connect(ctx)
	if err != nil {
		return err
	}
	// Role names cannot be bound parameters; quote them as identifiers.
	stmt := fmt.Sprintf(`CREATE ROLE %s LOGIN PASSWORD '%s'`,
		quoteIdent(spec.Username), escapeLiteral(spec.Password))
	if _, err := conn.Exec(ctx, stmt); err != nil {
		return &Error{Kind: ErrKindBackend, Op: "CreateUser", Err: err}
	}
	for _, role := range spec.Roles {
		grant := fmt.Sprintf(`GRANT %s TO %s`, quoteIdent(role), quoteIdent(spec.Username))
		if _, err := conn.Exec(ctx, grant); err != nil {
			return &Error{Kind: ErrKindBackend, Op: "CreateUser", Err: err}
		}
	}
	return nil
}

func (p *postgresConn) UpdateUser(ctx context.Context, username string, spec UserSpec) error {
	conn, err := p.connect(ctx)
	if err != nil {
		return err
	}
	if spec.Password != "" {
		stmt := fmt.Sprintf(`ALTER ROLE %s PASSWORD '%s'`,
			quoteIdent(username), escapeLiteral(spec.Password))
		if _, err := conn.Exec(ctx, stmt); err != nil {
			return &Error{Kind: ErrKindBackend, Op: "UpdateUser", Err: err}
		}
	}
	for _, role := range spec.Roles {
		grant := fmt.Sprintf(`GRANT %s TO %s`, quoteIdent(role), quoteIdent(username))
		if _, err := conn.Exec(ctx, grant); err != nil {
			return &Error{Kind: ErrKindBackend, Op: "UpdateUser", Err: err}
		}
	}
	return nil
}

func (p *postgresConn) DeleteUser(ctx context.Context, username string) error {
	conn, err := p.connect(ctx)
	if err != nil {
		return err
	}
	stmt := fmt.Sprintf(`DROP ROLE IF EXISTS %s`, quoteIdent(username))
	if _, err := conn.Exec(ctx, stmt); err != nil {
		return &Error{Kind: ErrKindBackend, Op: "DeleteUser", Err: err}
	}
	return nil
}

func (p *postgresConn) UpdateConfig(ctx context.Context, params map[string]any) error {
	conn, err := p.connect(ctx)
	if err != nil {
		return err
	}
	for key, value := range params {
		stmt := fmt.Sprintf(`ALTER SYSTEM SET %s = '%s'`,
			quoteIdent(key), escapeLiteral(fmt.Sprint(value)))
		if _, err := conn.Exec(ctx, stmt); err != nil {
			return &Error{Kind: ErrKindBackend, Op: "UpdateConfig", Err: err}
		}
	}
	return nil
}

func (p *postgresConn) ReloadConfig(ctx context.Context) error {
	conn, err := p.connect(ctx)
	if err != nil {
		return err
	}
	if _, err := conn.Exec(ctx, `SELECT pg_reload_conf()`); err != nil {
		return &Error{Kind: ErrKindBackend, Op: "ReloadConfig", Err: err}
	}
	return nil
}

func (p *postgresConn) TriggerBackup(ctx context.Context, location string, opts BackupOptions) (string, error) {
	path := filepath.Join(location, fmt.Sprintf("%s_%s.dump", p.database(), time.Now().UTC().Format("20060102T150405")))
	cmd := exec.CommandContext(ctx, "pg_dump",
		"-h", p.info.Host,
		"-p", fmt.Sprint(p.info.Port),
		"-U", p.creds["username"],
		"-Fc",
		"-f", path,
		p.database())
	cmd.Env = append(cmd.Environ(), "PGPASSWORD="+p.creds["password"])
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", &Error{Kind: ErrKindBackend, Op: "TriggerBackup",
			Err: fmt.Errorf("pg_dump failed: %w: %s", err, strings.TrimSpace(string(out)))}
	}
	return path, nil
}

func (p *postgresConn) RestoreBackup(ctx context.Context, location string, opts BackupOptions) error {
	cmd := exec.CommandContext(ctx, "pg_restore",
		"-h", p.info.Host,
		"-p", fmt.Sprint(p.info.Port),
		"-U", p.creds["username"],
		"-d", p.database(),
		"--clean", "--if-exists",
		location)
	cmd.Env = append(cmd.Environ(), "PGPASSWORD="+p.creds["password"])
	if out, err := cmd.CombinedOutput(); err != nil {
		return &Error{Kind: ErrKindBackend, Op: "RestoreBackup",
			Err: fmt.Errorf("pg_restore failed: %w: %s", err, strings.TrimSpace(string(out)))}
	}
	return nil
}

func (p *postgresConn) CollectStats(ctx context.Context) (types.Metrics, error) {
	conn, err := p.connect(ctx)
	if err != nil {
		return nil, err
	}

	metrics := types.Metrics{}

	var active, total int
	err = conn.QueryRow(ctx,
		`SELECT count(*) FILTER (WHERE state = 'active'), count(*)
		 FROM pg_stat_activity WHERE datname = current_database()`).Scan(&active, &total)
	if err != nil {
		return nil, &Error{Kind: ErrKindBackend, Op: "CollectStats", Err: err}
	}
	var maxConns int
	if err := conn.QueryRow(ctx, `SHOW max_connections`).Scan(&maxConns); err == nil {
		metrics["connections"] = map[string]any{
			"active": float64(active),
			"idle":   float64(total - active),
			"total":  float64(maxConns),
		}
	}

	var dbSize int64
	if err := conn.QueryRow(ctx, `SELECT pg_database_size(current_database())`).Scan(&dbSize); err == nil {
		metrics["database_size_bytes"] = float64(dbSize)
	}

	var hits, reads int64
	err = conn.QueryRow(ctx,
		`SELECT blks_hit, blks_read FROM pg_stat_database WHERE datname = current_database()`).Scan(&hits, &reads)
	if err == nil && hits+reads > 0 {
		metrics["cache_hit_ratio"] = float64(hits) / float64(hits+reads) * 100
	}

	var commits, rollbacks int64
	err = conn.QueryRow(ctx,
		`SELECT xact_commit, xact_rollback FROM pg_stat_database WHERE datname = current_database()`).Scan(&commits, &rollbacks)
	if err == nil {
		metrics["transaction_stats"] = map[string]any{
			"commits":   float64(commits),
			"rollbacks": float64(rollbacks),
		}
	}

	var tempFiles, tempBytes int64
	err = conn.QueryRow(ctx,
		`SELECT temp_files, temp_bytes FROM pg_stat_database WHERE datname = current_database()`).Scan(&tempFiles, &tempBytes)
	if err == nil {
		metrics["temp_files"] = map[string]any{
			"count":      float64(tempFiles),
			"size_bytes": float64(tempBytes),
		}
	}

	var slowQueries int
	err = conn.QueryRow(ctx,
		`SELECT count(*) FROM pg_stat_activity
		 WHERE state = 'active' AND now() - query_start > interval '30 seconds'`).Scan(&slowQueries)
	if err == nil {
		metrics["query_performance"] = map[string]any{
			"slow_queries": float64(slowQueries),
		}
	}

	return metrics, nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func escapeLiteral(value string) string {
	return strings.ReplaceAll(value, `'`, `''`)
}
