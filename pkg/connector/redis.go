package connector

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/dreyhq/drey/pkg/types"
)

// redisConn manages a Redis or Valkey instance. Both speak the same
// protocol, so one connector serves both types.
type redisConn struct {
	info   *types.ConnectionInfo
	client *redis.Client
}

// NewRedis builds the Redis/Valkey connector
func NewRedis(info *types.ConnectionInfo, creds map[string]string) (Connector, error) {
	if info == nil || info.Host == "" {
		return nil, &Error{Kind: ErrKindConfig, Op: "NewRedis", Err: fmt.Errorf("connection info missing host")}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", info.Host, info.Port),
		Password: creds["password"],
	})
	return &redisConn{info: info, client: client}, nil
}

func (r *redisConn) Close() error {
	return r.client.Close()
}

func classifyRedis(op string, err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "NOAUTH"), strings.Contains(msg, "WRONGPASS"):
		return &Error{Kind: ErrKindAuth, Op: op, Err: err}
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "i/o timeout"):
		return &Error{Kind: ErrKindConnection, Op: op, Err: err}
	}
	return &Error{Kind: ErrKindBackend, Op: op, Err: err}
}

func (r *redisConn) TestConnection(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return classifyRedis("TestConnection", err)
	}
	return nil
}

func (r *redisConn) UserExists(ctx context.Context, username string) (bool, error) {
	users, err := r.client.ACLList(ctx).Result()
	if err != nil {
		return false, classifyRedis("UserExists", err)
	}
	for _, entry := range users {
		fields := strings.Fields(entry)
		if len(fields) >= 2 && fields[0] == "user" && fields[1] == username {
			return true, nil
		}
	}
	return false, nil
}

func (r *redisConn) CreateUser(ctx context.Context, spec UserSpec) error {
	args := []any{"ACL", "SETUSER", spec.Username, "on", ">" + spec.Password}
	args = append(args, aclRules(spec.Roles)...)
	if err := r.client.Do(ctx, args...).Err(); err != nil {
		return classifyRedis("CreateUser", err)
	}
	return nil
}

func (r *redisConn) UpdateUser(ctx context.Context, username string, spec UserSpec) error {
	args := []any{"ACL", "SETUSER", username, "on"}
	if spec.Password != "" {
		args = append(args, "resetpass", ">"+spec.Password)
	}
	args = append(args, aclRules(spec.Roles)...)
	if err := r.client.Do(ctx, args...).Err(); err != nil {
		return classifyRedis("UpdateUser", err)
	}
	return nil
}

func (r *redisConn) DeleteUser(ctx context.Context, username string) error {
	if err := r.client.Do(ctx, "ACL", "DELUSER", username).Err(); err != nil {
		return classifyRedis("DeleteUser", err)
	}
	return nil
}

func (r *redisConn) UpdateConfig(ctx context.Context, params map[string]any) error {
	for key, value := range params {
		if err := r.client.ConfigSet(ctx, key, fmt.Sprint(value)).Err(); err != nil {
			return classifyRedis("UpdateConfig", err)
		}
	}
	return nil
}

func (r *redisConn) ReloadConfig(ctx context.Context) error {
	if err := r.client.ConfigRewrite(ctx).Err(); err != nil {
		return classifyRedis("ReloadConfig", err)
	}
	return nil
}

func (r *redisConn) TriggerBackup(ctx context.Context, location string, opts BackupOptions) (string, error) {
	if err := r.client.BgSave(ctx).Err(); err != nil {
		// "already in progress" still produces the artifact
		if !strings.Contains(err.Error(), "in progress") {
			return "", classifyRedis("TriggerBackup", err)
		}
	}
	dir, err := r.client.ConfigGet(ctx, "dir").Result()
	if err != nil {
		return "", classifyRedis("TriggerBackup", err)
	}
	dbfile, err := r.client.ConfigGet(ctx, "dbfilename").Result()
	if err != nil {
		return "", classifyRedis("TriggerBackup", err)
	}
	return filepath.Join(dir["dir"], dbfile["dbfilename"]), nil
}

func (r *redisConn) RestoreBackup(ctx context.Context, location string, opts BackupOptions) error {
	// RDB restore requires placing the file and restarting the server,
	// which is outside what the protocol offers.
	return &Error{Kind: ErrKindUnsupported, Op: "RestoreBackup",
		Err: fmt.Errorf("restore requires out-of-band RDB placement")}
}

func (r *redisConn) CollectStats(ctx context.Context) (types.Metrics, error) {
	info, err := r.client.Info(ctx, "memory", "clients", "stats").Result()
	if err != nil {
		return nil, classifyRedis("CollectStats", err)
	}
	fields := parseInfo(info)

	metrics := types.Metrics{}
	if v, ok := fields["used_memory"]; ok {
		metrics["used_memory_bytes"] = v
	}
	if used, ok := fields["used_memory"]; ok {
		if max, ok := fields["maxmemory"]; ok && max > 0 {
			metrics["used_memory_percent"] = used / max * 100
		}
	}
	if v, ok := fields["connected_clients"]; ok {
		metrics["connected_clients"] = v
	}
	hits, misses := fields["keyspace_hits"], fields["keyspace_misses"]
	if hits+misses > 0 {
		metrics["cache_hit_ratio"] = hits / (hits + misses) * 100
	}
	return metrics, nil
}

func aclRules(roles []string) []any {
	var rules []any
	for _, role := range roles {
		switch role {
		case "read", "readonly":
			rules = append(rules, "+@read", "~*")
		case "readwrite":
			rules = append(rules, "+@read", "+@write", "~*")
		case "admin":
			rules = append(rules, "allcommands", "allkeys")
		}
	}
	if len(rules) == 0 {
		rules = append(rules, "+@read", "~*")
	}
	return rules
}

func parseInfo(info string) map[string]float64 {
	out := make(map[string]float64)
	for _, line := range strings.Split(info, "\r\n") {
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			out[key] = f
		}
	}
	return out
}
