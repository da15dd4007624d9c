package externalops

import (
	"os"

	"github.com/dreyhq/drey/pkg/types"
)

// Normalize shapes a raw connector metrics blob into the per-type schema
// and derives missing computed fields. Connector extras (temp files,
// replication lag) pass through untouched so they still reach the risk
// evaluator.
func Normalize(typeName string, raw types.Metrics) types.Metrics {
	if raw == nil {
		return types.Metrics{}
	}
	out := types.Metrics{}
	for k, v := range raw {
		out[k] = v
	}

	switch typeName {
	case types.TypeRedis, types.TypeValkey:
		if _, ok := out["used_memory_percent"]; !ok {
			used, okU := toFloat(out["used_memory_bytes"])
			max, okM := toFloat(out["maxmemory"])
			if okU && okM && max > 0 {
				out["used_memory_percent"] = used / max * 100
			}
		}
	case types.TypeCeph, types.TypeSAN:
		if _, ok := out["disk_usage_percent"]; !ok {
			used, okU := toFloat(out["used_bytes"])
			total, okT := toFloat(out["total_bytes"])
			if okU && okT && total > 0 {
				out["disk_usage_percent"] = used / total * 100
			}
		}
	}
	return out
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// fileSize returns the on-disk size of a backup artifact, 0 when the
// path is not visible from this process (remote artifacts)
func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
