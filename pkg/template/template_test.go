package template

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderPostgres(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	out, err := r.Render("db-postgresql", map[string]any{
		"namespace":             "team-1",
		"postgres_name":         "orders-db",
		"postgres_secret_name":  "orders-db-secret",
		"postgres_replicas":     2,
		"postgres_storage_size": "20Gi",
	})
	require.NoError(t, err)

	assert.Contains(t, out, "name: orders-db")
	assert.Contains(t, out, "namespace: team-1")
	assert.Contains(t, out, "name: orders-db-secret")
	assert.Contains(t, out, "replicas: 2")
	assert.Contains(t, out, "storage: 20Gi")
}

func TestRenderDefaults(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	out, err := r.Render("db-postgresql", map[string]any{
		"namespace":            "team-1",
		"postgres_name":        "orders-db",
		"postgres_secret_name": "orders-db-secret",
	})
	require.NoError(t, err)

	assert.Contains(t, out, "replicas: 1")
	assert.Contains(t, out, "storage: 10Gi")
	assert.Contains(t, out, `storageClassName: "standard"`)
}

func TestRenderUnknownType(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	_, err = r.Render("storage-ceph", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no manifest template")
}

func TestRenderAllSupportedTypes(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	for typeName, prefix := range typePrefix {
		out, err := r.Render(typeName, map[string]any{
			"namespace":             "team-9",
			prefix + "_name":        "svc",
			prefix + "_secret_name": "svc-secret",
		})
		require.NoError(t, err, typeName)
		assert.Contains(t, out, "namespace: team-9", typeName)

		bundle, err := SplitBundle(out)
		require.NoError(t, err, typeName)
		require.NotNil(t, bundle.Workload, typeName)
	}
}

func TestSplitBundle(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	out, err := r.Render("db-postgresql", map[string]any{
		"namespace":            "team-1",
		"postgres_name":        "orders-db",
		"postgres_secret_name": "orders-db-secret",
	})
	require.NoError(t, err)

	bundle, err := SplitBundle(out)
	require.NoError(t, err)

	require.NotNil(t, bundle.Service)
	assert.Equal(t, "Service", bundle.Service.Kind)
	assert.Equal(t, "orders-db", bundle.Service.Name)

	require.NotNil(t, bundle.Workload)
	assert.Equal(t, "StatefulSet", bundle.Workload.Kind)
	assert.Equal(t, "orders-db", bundle.Workload.Name)
	assert.NotEmpty(t, bundle.Workload.Body["spec"])
}

func TestSplitBundleErrors(t *testing.T) {
	_, err := SplitBundle("kind: ConfigMap\nmetadata:\n  name: odd\n")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected manifest kind")

	_, err = SplitBundle("kind: Service\nmetadata:\n  name: lonely\n")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no stateful workload")

	_, err = SplitBundle(strings.Repeat("\t", 3))
	assert.Error(t, err)
}

func TestPrefixAndSupported(t *testing.T) {
	p, ok := Prefix("db-redis")
	assert.True(t, ok)
	assert.Equal(t, "redis", p)

	_, ok = Prefix("storage-ceph")
	assert.False(t, ok)

	assert.True(t, Supported("db-valkey"))
	assert.False(t, Supported("storage-san"))
}
