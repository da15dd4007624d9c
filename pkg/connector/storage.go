package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/dreyhq/drey/pkg/types"
)

// storageConn reaches a storage system's management API over HTTP. Ceph and
// SAN systems only support monitoring, so every mutating capability is
// unsupported.
type storageConn struct {
	kind    string
	baseURL string
	client  *http.Client
	user    string
	token   string
}

// NewCeph builds the Ceph monitoring connector
func NewCeph(info *types.ConnectionInfo, creds map[string]string) (Connector, error) {
	return newStorage("ceph", info, creds)
}

// NewSAN builds the SAN monitoring connector
func NewSAN(info *types.ConnectionInfo, creds map[string]string) (Connector, error) {
	return newStorage("san", info, creds)
}

func newStorage(kind string, info *types.ConnectionInfo, creds map[string]string) (Connector, error) {
	if info == nil || info.Host == "" {
		return nil, &Error{Kind: ErrKindConfig, Op: "newStorage", Err: fmt.Errorf("connection info missing host")}
	}
	scheme := info.Protocol
	if scheme == "" {
		scheme = "https"
	}
	return &storageConn{
		kind:    kind,
		baseURL: fmt.Sprintf("%s://%s:%d", scheme, info.Host, info.Port),
		client:  &http.Client{Timeout: 5 * time.Second},
		user:    creds["username"],
		token:   creds["token"],
	}, nil
}

func (s *storageConn) Close() error { return nil }

func (s *storageConn) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return &Error{Kind: ErrKindConfig, Op: "get", Err: err}
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	} else if s.user != "" {
		req.SetBasicAuth(s.user, "")
	}
	resp, err := s.client.Do(req)
	if err != nil {
		if _, ok := err.(net.Error); ok {
			return &Error{Kind: ErrKindConnection, Op: "get", Err: err}
		}
		return &Error{Kind: ErrKindConnection, Op: "get", Err: err}
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &Error{Kind: ErrKindAuth, Op: "get", Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode >= 400:
		return &Error{Kind: ErrKindBackend, Op: "get", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Kind: ErrKindBackend, Op: "get", Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}

func (s *storageConn) TestConnection(ctx context.Context) error {
	var out map[string]any
	return s.get(ctx, s.healthPath(), &out)
}

func (s *storageConn) healthPath() string {
	if s.kind == "ceph" {
		return "/api/health/minimal"
	}
	return "/api/v1/health"
}

func (s *storageConn) statsPath() string {
	if s.kind == "ceph" {
		return "/api/cluster/capacity"
	}
	return "/api/v1/capacity"
}

func (s *storageConn) CollectStats(ctx context.Context) (types.Metrics, error) {
	var capacity struct {
		UsedBytes      float64 `json:"used_bytes"`
		AvailableBytes float64 `json:"available_bytes"`
		TotalBytes     float64 `json:"total_bytes"`
	}
	if err := s.get(ctx, s.statsPath(), &capacity); err != nil {
		return nil, err
	}
	metrics := types.Metrics{
		"used_bytes":      capacity.UsedBytes,
		"available_bytes": capacity.AvailableBytes,
		"total_bytes":     capacity.TotalBytes,
	}
	if capacity.TotalBytes > 0 {
		metrics["disk_usage_percent"] = capacity.UsedBytes / capacity.TotalBytes * 100
	}
	return metrics, nil
}

func (s *storageConn) unsupported(op string) error {
	return &Error{Kind: ErrKindUnsupported, Op: op,
		Err: fmt.Errorf("%s connector is monitor-only", s.kind)}
}

func (s *storageConn) UserExists(ctx context.Context, username string) (bool, error) {
	return false, s.unsupported("UserExists")
}

func (s *storageConn) CreateUser(ctx context.Context, spec UserSpec) error {
	return s.unsupported("CreateUser")
}

func (s *storageConn) UpdateUser(ctx context.Context, username string, spec UserSpec) error {
	return s.unsupported("UpdateUser")
}

func (s *storageConn) DeleteUser(ctx context.Context, username string) error {
	return s.unsupported("DeleteUser")
}

func (s *storageConn) UpdateConfig(ctx context.Context, params map[string]any) error {
	return s.unsupported("UpdateConfig")
}

func (s *storageConn) ReloadConfig(ctx context.Context) error {
	return s.unsupported("ReloadConfig")
}

func (s *storageConn) TriggerBackup(ctx context.Context, location string, opts BackupOptions) (string, error) {
	return "", s.unsupported("TriggerBackup")
}

func (s *storageConn) RestoreBackup(ctx context.Context, location string, opts BackupOptions) error {
	return s.unsupported("RestoreBackup")
}
