package connector

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreyhq/drey/pkg/types"
)

func newRedisConn(t *testing.T) (Connector, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	port, err := strconv.Atoi(srv.Port())
	require.NoError(t, err)

	conn, err := NewRedis(&types.ConnectionInfo{Host: srv.Host(), Port: port}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn, srv
}

func TestRedisTestConnection(t *testing.T) {
	conn, _ := newRedisConn(t)
	assert.NoError(t, conn.TestConnection(context.Background()))
}

func TestRedisTestConnectionRefused(t *testing.T) {
	srv := miniredis.RunT(t)
	addr := srv.Host()
	port, err := strconv.Atoi(srv.Port())
	require.NoError(t, err)
	srv.Close()

	conn, err := NewRedis(&types.ConnectionInfo{Host: addr, Port: port}, nil)
	require.NoError(t, err)
	defer conn.Close()

	err = conn.TestConnection(context.Background())
	require.Error(t, err)
	assert.Equal(t, ErrKindConnection, KindOf(err))
}

func TestRedisUpdateConfig(t *testing.T) {
	conn, srv := newRedisConn(t)

	ctx := context.Background()
	err := conn.UpdateConfig(ctx, map[string]any{"maxmemory": 1048576})
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer client.Close()
	got, err := client.ConfigGet(ctx, "maxmemory").Result()
	require.NoError(t, err)
	assert.Equal(t, "1048576", got["maxmemory"])
}

func TestRedisRequiresHost(t *testing.T) {
	_, err := NewRedis(nil, nil)
	require.Error(t, err)
	assert.Equal(t, ErrKindConfig, KindOf(err))

	_, err = NewRedis(&types.ConnectionInfo{Port: 6379}, nil)
	require.Error(t, err)
	assert.Equal(t, ErrKindConfig, KindOf(err))
}

func TestRedisRestoreBackupUnsupported(t *testing.T) {
	conn, _ := newRedisConn(t)
	err := conn.RestoreBackup(context.Background(), "/backups/dump.rdb", BackupOptions{})
	assert.True(t, IsUnsupported(err))
}

func TestClassifyRedis(t *testing.T) {
	tests := []struct {
		msg  string
		kind ErrorKind
	}{
		{"NOAUTH Authentication required.", ErrKindAuth},
		{"WRONGPASS invalid username-password pair", ErrKindAuth},
		{"dial tcp 10.0.0.1:6379: connect: connection refused", ErrKindConnection},
		{"read tcp 10.0.0.1:6379: i/o timeout", ErrKindConnection},
		{"ERR unknown command", ErrKindBackend},
	}
	for _, tt := range tests {
		err := classifyRedis("Op", errors.New(tt.msg))
		assert.Equal(t, tt.kind, KindOf(err), tt.msg)
	}
}

func TestACLRules(t *testing.T) {
	assert.Equal(t, []any{"+@read", "~*"}, aclRules([]string{"read"}))
	assert.Equal(t, []any{"+@read", "+@write", "~*"}, aclRules([]string{"readwrite"}))
	assert.Equal(t, []any{"allcommands", "allkeys"}, aclRules([]string{"admin"}))
	// Unknown and empty role sets fall back to read-only.
	assert.Equal(t, []any{"+@read", "~*"}, aclRules(nil))
	assert.Equal(t, []any{"+@read", "~*"}, aclRules([]string{"mystery"}))
}

func TestParseInfo(t *testing.T) {
	info := strings.Join([]string{
		"# Memory",
		"used_memory:1024",
		"maxmemory:4096",
		"redis_version:7.2.0",
		"",
		"# Stats",
		"keyspace_hits:90",
		"keyspace_misses:10",
	}, "\r\n")

	fields := parseInfo(info)
	assert.Equal(t, 1024.0, fields["used_memory"])
	assert.Equal(t, 4096.0, fields["maxmemory"])
	assert.Equal(t, 90.0, fields["keyspace_hits"])
	// Non-numeric values are dropped.
	_, ok := fields["redis_version"]
	assert.False(t, ok)
}

func TestRegistryServesRedisAndValkey(t *testing.T) {
	srv := miniredis.RunT(t)
	port, err := strconv.Atoi(srv.Port())
	require.NoError(t, err)
	info := &types.ConnectionInfo{Host: srv.Host(), Port: port}

	registry := DefaultRegistry()
	for _, typeName := range []string{types.TypeRedis, types.TypeValkey} {
		conn, err := registry.New(typeName, info, nil)
		require.NoError(t, err, typeName)
		assert.NoError(t, conn.TestConnection(context.Background()), typeName)
		conn.Close()
	}

	_, err = registry.New("db-oracle", info, nil)
	require.Error(t, err)
	assert.True(t, IsUnsupported(err))
}
