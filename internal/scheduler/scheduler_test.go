package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 7, 40, 0, 0, time.UTC)

func TestCadenceNext(t *testing.T) {
	cases := []struct {
		name    string
		cadence Cadence
		now     time.Time
		want    time.Time
	}{
		{"hourly mid", Hourly, t0, time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)},
		{"hourly on boundary", Hourly, time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC), time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)},
		{"thirty", ThirtyMinutes, time.Date(2026, 3, 1, 7, 10, 0, 0, time.UTC), time.Date(2026, 3, 1, 7, 30, 0, 0, time.UTC)},
		{"twelve morning", TwelveHour, t0, time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)},
		{"twelve evening", TwelveHour, time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC), time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)},
		{"twelve rollover", TwelveHour, time.Date(2026, 3, 1, 21, 0, 0, 0, time.UTC), time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)},
		{"daily", Daily, t0, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.cadence.Next(tc.now))
		})
	}
}

func TestCadenceNextNonUTCInput(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)
	now := time.Date(2026, 3, 1, 15, 40, 0, 0, loc) // 07:40 UTC
	assert.Equal(t, time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC), TwelveHour.Next(now))
}

func TestBuildCadence(t *testing.T) {
	c, err := BuildCadence(TwelveHour, "", []string{"09:30", "21:00"})
	require.NoError(t, err)
	assert.Equal(t, []TimeOfDay{{9, 30}, {21, 0}}, c.Times)
	assert.True(t, c.RunImmediately)

	c, err = BuildCadence(Hourly, "2h", nil)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, c.Interval)

	c, err = BuildCadence(Daily, "", nil)
	require.NoError(t, err)
	assert.Equal(t, Daily.Times, c.Times)

	_, err = BuildCadence(Hourly, "abc", nil)
	assert.Error(t, err)
	_, err = BuildCadence(Hourly, "", []string{"25:00"})
	assert.Error(t, err)
}

func TestParseIntervalDuration(t *testing.T) {
	d, ok := ParseIntervalDuration("30m")
	assert.True(t, ok)
	assert.Equal(t, 30*time.Minute, d)
	d, ok = ParseIntervalDuration("1d")
	assert.True(t, ok)
	assert.Equal(t, 24*time.Hour, d)
	_, ok = ParseIntervalDuration("0h")
	assert.False(t, ok)
	_, ok = ParseIntervalDuration("h")
	assert.False(t, ok)
}

type counter struct {
	mu sync.Mutex
	n  map[string]int
}

func (c *counter) job(name string, cad Cadence) Job {
	return Job{Name: name, Cadence: cad, Run: func(ctx context.Context) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.n == nil {
			c.n = map[string]int{}
		}
		c.n[name]++
		return nil
	}}
}

func (c *counter) get(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n[name]
}

func TestStartRunsImmediatelyThenOnCadence(t *testing.T) {
	clock := NewFakeClock(t0)
	s := New(WithClock(clock))
	var c counter

	h, err := s.Start(context.Background(), c.job("hourly", Hourly), c.job("daily", Daily))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"hourly", "daily"}, h.Jobs())

	clock.Advance(0)
	assert.Equal(t, 1, c.get("hourly"))
	assert.Equal(t, 1, c.get("daily"))

	clock.Advance(20 * time.Minute) // 08:00
	assert.Equal(t, 2, c.get("hourly"))

	clock.Advance(16 * time.Hour) // 00:00 next day
	assert.Equal(t, 18, c.get("hourly"))
	assert.Equal(t, 2, c.get("daily"))
}

func TestStartWithoutImmediateWaitsForBoundary(t *testing.T) {
	clock := NewFakeClock(t0)
	s := New(WithClock(clock))
	var c counter
	cad := Hourly
	cad.RunImmediately = false

	_, err := s.Start(context.Background(), c.job("h", cad))
	require.NoError(t, err)
	clock.Advance(19 * time.Minute)
	assert.Zero(t, c.get("h"))
	clock.Advance(time.Minute)
	assert.Equal(t, 1, c.get("h"))
}

func TestStopCancelsAllTimers(t *testing.T) {
	clock := NewFakeClock(t0)
	s := New(WithClock(clock))
	var c counter

	h, err := s.Start(context.Background(), c.job("a", Hourly), c.job("b", ThirtyMinutes))
	require.NoError(t, err)
	clock.Advance(0)
	assert.Equal(t, 2, clock.Pending())

	h.Stop()
	h.Stop()
	assert.True(t, h.Stopped())
	assert.Zero(t, clock.Pending())

	clock.Advance(48 * time.Hour)
	assert.Equal(t, 1, c.get("a"))
	assert.Equal(t, 1, c.get("b"))
	require.NoError(t, h.Wait(context.Background()))

	select {
	case <-h.Done():
	default:
		t.Fatal("done channel not closed")
	}
}

func TestStartSupersedesPreviousHandle(t *testing.T) {
	clock := NewFakeClock(t0)
	s := New(WithClock(clock))
	var c counter

	first, err := s.Start(context.Background(), c.job("old", Hourly))
	require.NoError(t, err)
	second, err := s.Start(context.Background(), c.job("new", Hourly))
	require.NoError(t, err)

	assert.True(t, first.Stopped())
	assert.Same(t, second, s.Active())

	clock.Advance(3 * time.Hour)
	assert.Zero(t, c.get("old"))
	assert.Equal(t, 4, c.get("new"))
	assert.Equal(t, 4, second.Runs("new"))
	assert.Equal(t, 1, clock.Pending())
}

func TestStartValidation(t *testing.T) {
	s := New(WithClock(NewFakeClock(t0)))
	noop := func(context.Context) error { return nil }

	_, err := s.Start(context.Background())
	assert.ErrorIs(t, err, ErrNoJobs)

	_, err = s.Start(context.Background(), Job{Name: "x", Cadence: Hourly})
	assert.Error(t, err)
	_, err = s.Start(context.Background(), Job{Name: "x", Cadence: Hourly, Run: noop}, Job{Name: "x", Cadence: Hourly, Run: noop})
	assert.Error(t, err)
	_, err = s.Start(context.Background(), Job{Name: "x", Cadence: Cadence{Name: "bad"}, Run: noop})
	assert.Error(t, err)
	assert.Nil(t, s.Active())
}

func TestFailingAndPanickingJobsKeepSchedule(t *testing.T) {
	clock := NewFakeClock(t0)
	s := New(WithClock(clock))
	calls := 0
	h, err := s.Start(context.Background(),
		Job{Name: "fails", Cadence: Hourly, Run: func(context.Context) error {
			calls++
			if calls == 1 {
				panic("boom")
			}
			return errors.New("upstream down")
		}},
	)
	require.NoError(t, err)
	clock.Advance(2 * time.Hour)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, h.Runs("fails"))
}

func TestOverlappingRunIsSkipped(t *testing.T) {
	clock := NewFakeClock(t0)
	s := New(WithClock(clock))
	var inner int
	h, err := s.Start(context.Background(),
		Job{Name: "slow", Cadence: Hourly, Run: func(context.Context) error {
			inner++
			if inner == 1 {
				// 执行期间节奏继续推进，下一次触发应被跳过
				clock.Advance(time.Hour)
			}
			return nil
		}},
	)
	require.NoError(t, err)
	clock.Advance(0)
	assert.Equal(t, 1, inner)
	assert.Equal(t, 1, h.Runs("slow"))
}

type fakeLease struct {
	held     bool
	released bool
}

func (l *fakeLease) Hold(context.Context) (bool, error) { return l.held, nil }
func (l *fakeLease) Release(context.Context) error {
	l.released = true
	return nil
}

func TestLeaseGatesRuns(t *testing.T) {
	clock := NewFakeClock(t0)
	lease := &fakeLease{}
	s := New(WithClock(clock), WithLease(lease))
	var c counter
	_, err := s.Start(context.Background(), c.job("h", Hourly))
	require.NoError(t, err)

	clock.Advance(0)
	assert.Zero(t, c.get("h"))

	lease.held = true
	clock.Advance(20 * time.Minute)
	assert.Equal(t, 1, c.get("h"))

	require.NoError(t, s.Shutdown(context.Background()))
	assert.True(t, lease.released)
	assert.Nil(t, s.Active())
}

func TestStopCancelsRunContext(t *testing.T) {
	clock := NewFakeClock(t0)
	s := New(WithClock(clock))
	var seen context.Context
	h, err := s.Start(context.Background(), Job{Name: "ctx", Cadence: Hourly, Run: func(ctx context.Context) error {
		seen = ctx
		return nil
	}})
	require.NoError(t, err)
	clock.Advance(0)
	require.NotNil(t, seen)
	assert.NoError(t, seen.Err())
	h.Stop()
	assert.ErrorIs(t, seen.Err(), context.Canceled)
}
