package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var shiftUnits = map[byte]time.Duration{
	's': time.Second,
	'm': time.Minute,
	'h': time.Hour,
	'd': 24 * time.Hour,
	'w': 7 * 24 * time.Hour,
}

// ParseShift accepts "<n><unit>" with unit one of s, m, h, d, w (e.g. 2s,
// 5m, 1d, -2w) and anything time.ParseDuration accepts. Empty means zero.
func ParseShift(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	if unit, ok := shiftUnits[s[len(s)-1]]; ok {
		n, err := strconv.ParseInt(s[:len(s)-1], 10, 64)
		if err == nil {
			if n > math.MaxInt64/int64(unit) || n < math.MinInt64/int64(unit) {
				return 0, fmt.Errorf("shift %q out of range", s)
			}
			return time.Duration(n) * unit, nil
		}
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid shift %q (example 2s, 5m, 5h, 1d, 2w)", s)
	}

	return d, nil
}
