package backup

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Local stores artifacts under a directory on the local filesystem. NFS
// backends reuse this implementation against the mount point.
type Local struct {
	root string
}

// NewLocal creates the root directory if needed
func NewLocal(root string) (*Local, error) {
	if root == "" {
		return nil, fmt.Errorf("backup root path is empty")
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create backup root: %w", err)
	}
	return &Local{root: root}, nil
}

func (l *Local) Upload(ctx context.Context, localPath, remotePath string) (*Artifact, error) {
	src, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open source: %w", err)
	}
	defer src.Close()

	dest := filepath.Join(l.root, filepath.FromSlash(remotePath))
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}

	dst, err := os.Create(dest)
	if err != nil {
		return nil, fmt.Errorf("failed to create artifact: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return nil, fmt.Errorf("failed to copy artifact: %w", err)
	}
	if err := dst.Sync(); err != nil {
		return nil, fmt.Errorf("failed to sync artifact: %w", err)
	}
	return l.Metadata(ctx, remotePath)
}

func (l *Local) Metadata(ctx context.Context, remotePath string) (*Artifact, error) {
	info, err := os.Stat(filepath.Join(l.root, filepath.FromSlash(remotePath)))
	if err != nil {
		return nil, fmt.Errorf("failed to stat artifact: %w", err)
	}
	return &Artifact{
		Path:      remotePath,
		SizeBytes: info.Size(),
		ModTime:   info.ModTime(),
	}, nil
}

func (l *Local) List(ctx context.Context, prefix string) ([]Artifact, error) {
	var out []Artifact
	err := filepath.WalkDir(l.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(l.root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if prefix != "" && !strings.HasPrefix(rel, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, Artifact{Path: rel, SizeBytes: info.Size(), ModTime: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	return out, nil
}

func (l *Local) CleanupOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	artifacts, err := l.List(ctx, "")
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, a := range artifacts {
		if !a.ModTime.Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(l.root, filepath.FromSlash(a.Path))); err != nil {
			return deleted, fmt.Errorf("failed to delete expired artifact %s: %w", a.Path, err)
		}
		deleted++
	}
	return deleted, nil
}
