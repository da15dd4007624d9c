// Package config loads control plane configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the full process configuration.
type Config struct {
	Log     LogConfig
	DB      DBConfig
	Vault   VaultConfig
	Workers WorkerConfig
	Backup  BackupConfig
	Metrics MetricsConfig
}

// LogConfig controls logging output
type LogConfig struct {
	Level      string
	JSONOutput bool
}

// DBConfig holds store connection parameters
type DBConfig struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

// DSN returns the Postgres connection string
func (c DBConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.Host, c.Port, c.Name, c.User, c.Password, c.SSLMode)
}

// VaultConfig holds credential vault parameters
type VaultConfig struct {
	// EncryptionKey is a base64-encoded 256-bit key. Empty means an
	// ephemeral key is generated (test/dev only).
	EncryptionKey string
}

// WorkerConfig holds background worker intervals and tuning knobs
type WorkerConfig struct {
	CertCheckInterval     time.Duration
	NotificationThreshold int
	UserSyncInterval      time.Duration
	UserSyncBatchSize     int
	StatsInterval         time.Duration
	BackupScanInterval    time.Duration
}

// BackupConfig selects and configures the backup storage backend
type BackupConfig struct {
	// Backend is one of "local", "nfs", "s3".
	Backend   string
	LocalPath string
	NFSPath   string
	S3Bucket  string
	S3Prefix  string
	S3Region  string
}

// MetricsConfig holds the metrics endpoint address
type MetricsConfig struct {
	ListenAddr string
}

// Load reads configuration from environment variables, applying defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Log: LogConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			JSONOutput: getBool("LOG_JSON", false),
		},
		DB: DBConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getInt("DB_PORT", 5432),
			Name:     getEnv("DB_NAME", "drey"),
			User:     getEnv("DB_USER", "drey"),
			Password: os.Getenv("DB_PASSWORD"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Vault: VaultConfig{
			EncryptionKey: os.Getenv("ENCRYPTION_KEY"),
		},
		Workers: WorkerConfig{
			CertCheckInterval:     time.Duration(getInt("CHECK_INTERVAL", 86400)) * time.Second,
			NotificationThreshold: getInt("NOTIFICATION_THRESHOLD", 7),
			UserSyncInterval:      time.Duration(getInt("SYNC_INTERVAL", 30)) * time.Second,
			UserSyncBatchSize:     getInt("BATCH_SIZE", 10),
			StatsInterval:         time.Duration(getInt("STATS_INTERVAL", 60)) * time.Second,
			BackupScanInterval:    time.Duration(getInt("BACKUP_SCAN_INTERVAL", 300)) * time.Second,
		},
		Backup: BackupConfig{
			Backend:   getEnv("BACKUP_BACKEND", "local"),
			LocalPath: getEnv("BACKUP_LOCAL_PATH", "/var/lib/drey/backups"),
			NFSPath:   os.Getenv("BACKUP_NFS_PATH"),
			S3Bucket:  os.Getenv("BACKUP_S3_BUCKET"),
			S3Prefix:  os.Getenv("BACKUP_S3_PREFIX"),
			S3Region:  os.Getenv("BACKUP_S3_REGION"),
		},
		Metrics: MetricsConfig{
			ListenAddr: getEnv("METRICS_ADDR", ":9090"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Backup.Backend {
	case "local", "nfs", "s3":
	default:
		return fmt.Errorf("invalid backup backend %q (want local, nfs or s3)", c.Backup.Backend)
	}
	if c.Backup.Backend == "s3" && c.Backup.S3Bucket == "" {
		return fmt.Errorf("BACKUP_S3_BUCKET is required when BACKUP_BACKEND=s3")
	}
	if c.Backup.Backend == "nfs" && c.Backup.NFSPath == "" {
		return fmt.Errorf("BACKUP_NFS_PATH is required when BACKUP_BACKEND=nfs")
	}
	if c.Workers.UserSyncBatchSize < 1 {
		return fmt.Errorf("BATCH_SIZE must be >= 1, got %d", c.Workers.UserSyncBatchSize)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
