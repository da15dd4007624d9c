// Package risk evaluates operational risk from a normalized metrics map.
// The evaluator is pure: same metrics in, same level and factors out.
package risk

import (
	"fmt"

	"github.com/dreyhq/drey/pkg/types"
)

// Evaluate applies each rule independently and combines by maximum
// severity. Factors carry the formatted observation that triggered them.
func Evaluate(metrics types.Metrics) (types.RiskLevel, []string) {
	level := types.RiskLow
	var factors []string

	if v, ok := asFloat(metrics["disk_usage_percent"]); ok {
		switch {
		case v > 95:
			level = level.Max(types.RiskCritical)
			factors = append(factors, fmt.Sprintf("Disk usage critical: %.1f%%", v))
		case v > 85:
			level = level.Max(types.RiskHigh)
			factors = append(factors, fmt.Sprintf("Disk usage high: %.1f%%", v))
		}
	}

	if v, ok := asFloat(metrics["memory_usage_percent"]); ok && v > 90 {
		level = level.Max(types.RiskHigh)
		factors = append(factors, fmt.Sprintf("Memory usage high: %.1f%%", v))
	}

	if v, ok := asFloat(metrics["memory_percent"]); ok {
		switch {
		case v > 90:
			level = level.Max(types.RiskHigh)
			factors = append(factors, fmt.Sprintf("Memory usage high: %.1f%%", v))
		case v > 85:
			level = level.Max(types.RiskMedium)
			factors = append(factors, fmt.Sprintf("Memory usage moderate: %.1f%%", v))
		}
	}

	if conns, ok := metrics["connections"].(map[string]any); ok {
		active, okA := asFloat(conns["active"])
		total, okT := asFloat(conns["total"])
		if okA && okT && total > 0 && active/total > 0.80 {
			level = level.Max(types.RiskMedium)
			factors = append(factors, fmt.Sprintf("Connection saturation: %.1f%%", active/total*100))
		}
	}

	if tmp, ok := metrics["temp_files"].(map[string]any); ok {
		if size, ok := asFloat(tmp["size_bytes"]); ok && size > 1<<30 {
			level = level.Max(types.RiskMedium)
			factors = append(factors, fmt.Sprintf("Temporary space usage: %.1fGB", size/(1<<30)))
		}
	}

	if v, ok := asFloat(metrics["replication_lag_seconds"]); ok && v > 3600 {
		level = level.Max(types.RiskMedium)
		factors = append(factors, fmt.Sprintf("Replication lag: %.0fs", v))
	}

	if v, ok := asFloat(metrics["cpu_percent"]); ok && v > 85 {
		level = level.Max(types.RiskMedium)
		factors = append(factors, fmt.Sprintf("CPU usage high: %.1f%%", v))
	}

	return level, factors
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
