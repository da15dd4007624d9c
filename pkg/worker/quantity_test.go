package worker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseByteQuantity(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"512", 512},
		{"1Ki", 1024},
		{"512Mi", 512 * 1024 * 1024},
		{"2Gi", 2 * 1024 * 1024 * 1024},
		{"1Ti", 1 << 40},
		{"1500k", 1_500_000},
		{"3M", 3_000_000},
		{"2G", 2_000_000_000},
		{"1T", 1e12},
		{"1.5Gi", 1.5 * 1024 * 1024 * 1024},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseByteQuantity(tt.in)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 0.001)
		})
	}

	for _, bad := range []string{"", "abc", "12Qi"} {
		_, err := parseByteQuantity(bad)
		assert.Error(t, err, "input %q", bad)
	}
}

func TestParseCPUQuantity(t *testing.T) {
	tests := []struct {
		in   string
		want float64 // millicores
	}{
		{"250m", 250},
		{"1", 1000},
		{"2", 2000},
		{"0.5", 500},
		{"1500000n", 1.5},
		{"1000000000n", 1000},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseCPUQuantity(tt.in)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 0.001)
		})
	}

	for _, bad := range []string{"", "m", "xn"} {
		_, err := parseCPUQuantity(bad)
		assert.Error(t, err, "input %q", bad)
	}
}
