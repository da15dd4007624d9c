package connector

import (
	"context"
	"database/sql"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/dreyhq/drey/pkg/types"
)

// mariadbConn manages a MariaDB instance over database/sql.
type mariadbConn struct {
	info  *types.ConnectionInfo
	creds map[string]string
	db    *sql.DB
}

// NewMariaDB builds the MariaDB connector
func NewMariaDB(info *types.ConnectionInfo, creds map[string]string) (Connector, error) {
	if info == nil || info.Host == "" {
		return nil, &Error{Kind: ErrKindConfig, Op: "NewMariaDB", Err: fmt.Errorf("connection info missing host")}
	}
	if creds["username"] == "" || creds["password"] == "" {
		return nil, &Error{Kind: ErrKindConfig, Op: "NewMariaDB", Err: fmt.Errorf("credentials missing username or password")}
	}
	return &mariadbConn{info: info, creds: creds}, nil
}

func (m *mariadbConn) database() string {
	if db := m.creds["database"]; db != "" {
		return db
	}
	return ""
}

func (m *mariadbConn) connect() (*sql.DB, error) {
	if m.db != nil {
		return m.db, nil
	}
	cfg := mysql.NewConfig()
	cfg.Addr = fmt.Sprintf("%s:%d", m.info.Host, m.info.Port)
	cfg.Net = "tcp"
	cfg.User = m.creds["username"]
	cfg.Passwd = m.creds["password"]
	cfg.DBName = m.database()
	cfg.Timeout = 5 * time.Second
	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, &Error{Kind: ErrKindConfig, Op: "connect", Err: err}
	}
	db.SetMaxOpenConns(2)
	m.db = db
	return db, nil
}

func (m *mariadbConn) Close() error {
	if m.db == nil {
		return nil
	}
	return m.db.Close()
}

func classifyMySQL(op string, err error) error {
	if mysqlErr, ok := err.(*mysql.MySQLError); ok {
		// 1045: access denied
		if mysqlErr.Number == 1045 {
			return &Error{Kind: ErrKindAuth, Op: op, Err: err}
		}
		return &Error{Kind: ErrKindBackend, Op: op, Err: err}
	}
	if strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "i/o timeout") {
		return &Error{Kind: ErrKindConnection, Op: op, Err: err}
	}
	return &Error{Kind: ErrKindBackend, Op: op, Err: err}
}

func (m *mariadbConn) TestConnection(ctx context.Context) error {
	db, err := m.connect()
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		return classifyMySQL("TestConnection", err)
	}
	return nil
}

func (m *mariadbConn) UserExists(ctx context.Context, username string) (bool, error) {
	db, err := m.connect()
	if err != nil {
		return false, err
	}
	var count int
	err = db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM mysql.user WHERE user = ?`, username).Scan(&count)
	if err != nil {
		return false, classifyMySQL("UserExists", err)
	}
	return count > 0, nil
}

func (m *mariadbConn) CreateUser(ctx context.Context, spec UserSpec) error {
	db, err := m.connect()
	if err != nil {
		return err
	}
	stmt := fmt.Sprintf("CREATE USER '%s'@'%%' IDENTIFIED BY '%s'",
		escapeLiteral(spec.Username), escapeLiteral(spec.Password))
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return classifyMySQL("CreateUser", err)
	}
	for _, role := range spec.Roles {
		grant := fmt.Sprintf("GRANT %s ON %s.* TO '%s'@'%%'",
			grantFor(role), backquote(m.database()), escapeLiteral(spec.Username))
		if _, err := db.ExecContext(ctx, grant); err != nil {
			return classifyMySQL("CreateUser", err)
		}
	}
	if _, err := db.ExecContext(ctx, "FLUSH PRIVILEGES"); err != nil {
		return classifyMySQL("CreateUser", err)
	}
	return nil
}

func (m *mariadbConn) UpdateUser(ctx context.Context, username string, spec UserSpec) error {
	db, err := m.connect()
	if err != nil {
		return err
	}
	if spec.Password != "" {
		stmt := fmt.Sprintf("ALTER USER '%s'@'%%' IDENTIFIED BY '%s'",
			escapeLiteral(username), escapeLiteral(spec.Password))
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return classifyMySQL("UpdateUser", err)
		}
	}
	for _, role := range spec.Roles {
		grant := fmt.Sprintf("GRANT %s ON %s.* TO '%s'@'%%'",
			grantFor(role), backquote(m.database()), escapeLiteral(username))
		if _, err := db.ExecContext(ctx, grant); err != nil {
			return classifyMySQL("UpdateUser", err)
		}
	}
	if _, err := db.ExecContext(ctx, "FLUSH PRIVILEGES"); err != nil {
		return classifyMySQL("UpdateUser", err)
	}
	return nil
}

func (m *mariadbConn) DeleteUser(ctx context.Context, username string) error {
	db, err := m.connect()
	if err != nil {
		return err
	}
	stmt := fmt.Sprintf("DROP USER IF EXISTS '%s'@'%%'", escapeLiteral(username))
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return classifyMySQL("DeleteUser", err)
	}
	return nil
}

func (m *mariadbConn) UpdateConfig(ctx context.Context, params map[string]any) error {
	db, err := m.connect()
	if err != nil {
		return err
	}
	for key, value := range params {
		stmt := fmt.Sprintf("SET GLOBAL %s = ?", backquote(key))
		if _, err := db.ExecContext(ctx, stmt, fmt.Sprint(value)); err != nil {
			return classifyMySQL("UpdateConfig", err)
		}
	}
	return nil
}

func (m *mariadbConn) ReloadConfig(ctx context.Context) error {
	db, err := m.connect()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, "FLUSH PRIVILEGES"); err != nil {
		return classifyMySQL("ReloadConfig", err)
	}
	return nil
}

func (m *mariadbConn) TriggerBackup(ctx context.Context, location string, opts BackupOptions) (string, error) {
	path := filepath.Join(location, fmt.Sprintf("%s_%s.sql", m.database(), time.Now().UTC().Format("20060102T150405")))
	cmd := exec.CommandContext(ctx, "mariadb-dump",
		"-h", m.info.Host,
		"-P", fmt.Sprint(m.info.Port),
		"-u", m.creds["username"],
		"--result-file", path,
		m.database())
	cmd.Env = append(cmd.Environ(), "MYSQL_PWD="+m.creds["password"])
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", &Error{Kind: ErrKindBackend, Op: "TriggerBackup",
			Err: fmt.Errorf("mariadb-dump failed: %w: %s", err, strings.TrimSpace(string(out)))}
	}
	return path, nil
}

func (m *mariadbConn) RestoreBackup(ctx context.Context, location string, opts BackupOptions) error {
	cmd := exec.CommandContext(ctx, "mariadb",
		"-h", m.info.Host,
		"-P", fmt.Sprint(m.info.Port),
		"-u", m.creds["username"],
		"-e", fmt.Sprintf("source %s", location),
		m.database())
	cmd.Env = append(cmd.Environ(), "MYSQL_PWD="+m.creds["password"])
	if out, err := cmd.CombinedOutput(); err != nil {
		return &Error{Kind: ErrKindBackend, Op: "RestoreBackup",
			Err: fmt.Errorf("restore failed: %w: %s", err, strings.TrimSpace(string(out)))}
	}
	return nil
}

func (m *mariadbConn) CollectStats(ctx context.Context) (types.Metrics, error) {
	db, err := m.connect()
	if err != nil {
		return nil, err
	}

	metrics := types.Metrics{}

	status, err := m.globalStatus(ctx, db,
		"Threads_connected", "Threads_running", "Max_used_connections",
		"Qcache_hits", "Com_select", "Com_commit", "Com_rollback", "Slow_queries")
	if err != nil {
		return nil, err
	}

	var maxConns float64
	if err := db.QueryRowContext(ctx,
		`SELECT @@max_connections`).Scan(&maxConns); err == nil {
		metrics["connections"] = map[string]any{
			"active": status["Threads_running"],
			"idle":   status["Threads_connected"] - status["Threads_running"],
			"total":  maxConns,
		}
	}

	var dbSize float64
	err = db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(data_length + index_length), 0)
		 FROM information_schema.tables WHERE table_schema = ?`, m.database()).Scan(&dbSize)
	if err == nil {
		metrics["database_size_bytes"] = dbSize
	}

	if hits, selects := status["Qcache_hits"], status["Com_select"]; hits+selects > 0 {
		metrics["cache_hit_ratio"] = hits / (hits + selects) * 100
	}

	metrics["transaction_stats"] = map[string]any{
		"commits":   status["Com_commit"],
		"rollbacks": status["Com_rollback"],
	}
	metrics["query_performance"] = map[string]any{
		"slow_queries": status["Slow_queries"],
	}

	return metrics, nil
}

func (m *mariadbConn) globalStatus(ctx context.Context, db *sql.DB, names ...string) (map[string]float64, error) {
	out := make(map[string]float64, len(names))
	for _, name := range names {
		var variable string
		var value float64
		err := db.QueryRowContext(ctx,
			`SELECT VARIABLE_NAME, VARIABLE_VALUE FROM information_schema.GLOBAL_STATUS
			 WHERE VARIABLE_NAME = ?`, name).Scan(&variable, &value)
		if err != nil && err != sql.ErrNoRows {
			return nil, classifyMySQL("CollectStats", err)
		}
		out[name] = value
	}
	return out, nil
}

func grantFor(role string) string {
	switch role {
	case "read", "readonly":
		return "SELECT"
	case "readwrite":
		return "SELECT, INSERT, UPDATE, DELETE"
	case "admin":
		return "ALL PRIVILEGES"
	default:
		return "SELECT"
	}
}

func backquote(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}
