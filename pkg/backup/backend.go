// Package backup stores and prunes backup artifacts across storage
// backends (local disk, NFS mounts, S3 buckets).
package backup

import (
	"context"
	"fmt"
	"time"

	"github.com/dreyhq/drey/pkg/config"
)

// Artifact describes one stored backup
type Artifact struct {
	// Path is the backend-relative location, e.g. "42/backup_20260101T020000.tar.gz"
	Path      string
	SizeBytes int64
	ModTime   time.Time
}

// Backend is the storage interface for backup artifacts.
type Backend interface {
	// Upload copies a local file into the backend at remotePath and
	// returns the stored artifact.
	Upload(ctx context.Context, localPath, remotePath string) (*Artifact, error)
	// Metadata returns the artifact at remotePath.
	Metadata(ctx context.Context, remotePath string) (*Artifact, error)
	// List returns artifacts under the given prefix.
	List(ctx context.Context, prefix string) ([]Artifact, error)
	// CleanupOlderThan deletes artifacts whose modification time is
	// before cutoff and returns how many were deleted.
	CleanupOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// NewBackend builds the configured backend
func NewBackend(ctx context.Context, cfg config.BackupConfig) (Backend, error) {
	switch cfg.Backend {
	case "local":
		return NewLocal(cfg.LocalPath)
	case "nfs":
		// NFS mounts present as a local path once mounted.
		return NewLocal(cfg.NFSPath)
	case "s3":
		return NewS3(ctx, cfg.S3Bucket, cfg.S3Prefix, cfg.S3Region)
	default:
		return nil, fmt.Errorf("unknown backup backend %q", cfg.Backend)
	}
}

// RemotePath computes the canonical artifact path for a resource backup
func RemotePath(resourceID int64, now time.Time) string {
	return fmt.Sprintf("%d/backup_%s.tar.gz", resourceID, now.UTC().Format("20060102T150405"))
}
