package worker

import (
	"fmt"
	"strconv"
	"strings"
)

// IEC suffixes are 1024-based, SI suffixes 1000-based.
var byteSuffixes = []struct {
	suffix string
	factor float64
}{
	{"Ti", 1 << 40},
	{"Gi", 1 << 30},
	{"Mi", 1 << 20},
	{"Ki", 1 << 10},
	{"T", 1e12},
	{"G", 1e9},
	{"M", 1e6},
	{"k", 1e3},
}

// parseByteQuantity converts a cluster memory quantity ("512Mi", "2Gi",
// "1500k", "1048576") to bytes.
func parseByteQuantity(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty quantity")
	}
	for _, bs := range byteSuffixes {
		if strings.HasSuffix(s, bs.suffix) {
			n, err := strconv.ParseFloat(strings.TrimSuffix(s, bs.suffix), 64)
			if err != nil {
				return 0, fmt.Errorf("invalid quantity %q: %w", s, err)
			}
			return n * bs.factor, nil
		}
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid quantity %q: %w", s, err)
	}
	return n, nil
}

// parseCPUQuantity converts a cluster CPU quantity ("250m", "1500000n",
// "2") to millicores.
func parseCPUQuantity(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty quantity")
	}
	switch {
	case strings.HasSuffix(s, "n"):
		n, err := strconv.ParseFloat(strings.TrimSuffix(s, "n"), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid cpu quantity %q: %w", s, err)
		}
		return n / 1e6, nil
	case strings.HasSuffix(s, "m"):
		n, err := strconv.ParseFloat(strings.TrimSuffix(s, "m"), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid cpu quantity %q: %w", s, err)
		}
		return n, nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid cpu quantity %q: %w", s, err)
	}
	return n * 1000, nil
}
