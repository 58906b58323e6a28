package scheduler

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// TimeOfDay is a UTC wall-clock gate, e.g. 08:00.
type TimeOfDay struct {
	Hour   int
	Minute int
}

func (t TimeOfDay) String() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }

func (t TimeOfDay) valid() bool {
	return t.Hour >= 0 && t.Hour < 24 && t.Minute >= 0 && t.Minute < 60
}

func (t TimeOfDay) offset() time.Duration {
	return time.Duration(t.Hour)*time.Hour + time.Duration(t.Minute)*time.Minute
}

// ParseTimeOfDay parses "HH:MM" (UTC).
func ParseTimeOfDay(raw string) (TimeOfDay, error) {
	raw = strings.TrimSpace(raw)
	hh, mm, ok := strings.Cut(raw, ":")
	if !ok {
		return TimeOfDay{}, fmt.Errorf("time of day %q: want HH:MM", raw)
	}
	h, err := strconv.Atoi(hh)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("time of day %q: %w", raw, err)
	}
	m, err := strconv.Atoi(mm)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("time of day %q: %w", raw, err)
	}
	t := TimeOfDay{Hour: h, Minute: m}
	if !t.valid() {
		return TimeOfDay{}, fmt.Errorf("time of day %q out of range", raw)
	}
	return t, nil
}

// Cadence describes when a job fires. With Times set the job fires at those
// UTC times every day; otherwise it fires on Interval boundaries aligned to
// the UTC epoch (hourly → top of hour, 30m → :00 and :30).
type Cadence struct {
	Name           string
	Interval       time.Duration
	Times          []TimeOfDay
	RunImmediately bool
}

var (
	Hourly        = Cadence{Name: "hourly", Interval: time.Hour, RunImmediately: true}
	ThirtyMinutes = Cadence{Name: "thirty_minutes", Interval: 30 * time.Minute, RunImmediately: true}
	TwelveHour    = Cadence{Name: "twelve_hour", Times: []TimeOfDay{{Hour: 8}, {Hour: 20}}, RunImmediately: true}
	Daily         = Cadence{Name: "daily", Times: []TimeOfDay{{Hour: 0}}, RunImmediately: true}
)

// Validate rejects cadences that would never fire.
func (c Cadence) Validate() error {
	if len(c.Times) == 0 {
		if c.Interval <= 0 {
			return fmt.Errorf("cadence %s: interval must be > 0 or times set", c.Name)
		}
		return nil
	}
	for _, t := range c.Times {
		if !t.valid() {
			return fmt.Errorf("cadence %s: invalid time %s", c.Name, t)
		}
	}
	return nil
}

// Next returns the first firing strictly after now.
func (c Cadence) Next(now time.Time) time.Time {
	now = now.UTC()
	if len(c.Times) == 0 {
		return nextFixedTimeAfter(time.Unix(0, 0), c.Interval, now)
	}
	offsets := make([]time.Duration, 0, len(c.Times))
	for _, t := range c.Times {
		offsets = append(offsets, t.offset())
	}
	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })
	day := now.Truncate(24 * time.Hour)
	for _, off := range offsets {
		if at := day.Add(off); at.After(now) {
			return at
		}
	}
	return day.Add(24 * time.Hour).Add(offsets[0])
}

func (c Cadence) String() string {
	if len(c.Times) == 0 {
		return fmt.Sprintf("%s(every %s)", c.Name, c.Interval)
	}
	parts := make([]string, 0, len(c.Times))
	for _, t := range c.Times {
		parts = append(parts, t.String())
	}
	return fmt.Sprintf("%s(at %s UTC)", c.Name, strings.Join(parts, ","))
}

// nextFixedTimeAfter returns anchor + k*interval, the first such point strictly after now.
func nextFixedTimeAfter(anchor time.Time, interval time.Duration, now time.Time) time.Time {
	anchor = anchor.UTC()
	now = now.UTC()
	if interval <= 0 {
		return now
	}
	delta := now.Sub(anchor)
	if delta < 0 {
		return anchor
	}
	k := delta / interval
	return anchor.Add((k + 1) * interval)
}
