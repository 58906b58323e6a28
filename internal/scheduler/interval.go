package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseIntervalDuration parses "30m", "1h", "12h", "1d", "1w" into time.Duration.
// Returns (0, false) on invalid input.
func ParseIntervalDuration(interval string) (time.Duration, bool) {
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return 0, false
	}
	unit := interval[len(interval)-1]
	numStr := strings.TrimSpace(interval[:len(interval)-1])
	if numStr == "" {
		return 0, false
	}
	n, err := strconv.Atoi(numStr)
	if err != nil || n <= 0 {
		return 0, false
	}
	switch unit {
	case 's':
		return time.Duration(n) * time.Second, true
	case 'm':
		return time.Duration(n) * time.Minute, true
	case 'h':
		return time.Duration(n) * time.Hour, true
	case 'd':
		return time.Duration(n) * 24 * time.Hour, true
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, true
	default:
		return 0, false
	}
}

// BuildCadence 用配置覆盖内置节奏：interval 与 times 二选一，均为空时返回 base。
func BuildCadence(base Cadence, interval string, times []string) (Cadence, error) {
	out := base
	if len(times) > 0 {
		out.Interval = 0
		out.Times = make([]TimeOfDay, 0, len(times))
		for _, raw := range times {
			t, err := ParseTimeOfDay(raw)
			if err != nil {
				return Cadence{}, fmt.Errorf("cadence %s: %w", base.Name, err)
			}
			out.Times = append(out.Times, t)
		}
		return out, out.Validate()
	}
	if strings.TrimSpace(interval) != "" {
		d, ok := ParseIntervalDuration(interval)
		if !ok {
			return Cadence{}, fmt.Errorf("cadence %s: invalid interval %q", base.Name, interval)
		}
		out.Interval = d
		out.Times = nil
	}
	return out, out.Validate()
}
