package snapshot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lpwatch/internal/store"
	"lpwatch/internal/store/jsonfile"
	"lpwatch/internal/types"
)

var fixedNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

func backends(t *testing.T) map[string]store.SnapshotLog {
	t.Helper()
	fileLog, err := jsonfile.NewSnapshotLog(t.TempDir())
	require.NoError(t, err)
	return map[string]store.SnapshotLog{
		"memory":   store.NewMemorySnapshotLog(),
		"jsonfile": fileLog,
	}
}

func TestRecordPrunesOutsideRetention(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := New(backend, WithClock(clock))

			s.Record(ctx, store.KindIntraday, types.Snapshot{Key: "pool", PoolID: "pool", Timestamp: fixedNow.Add(-8 * 24 * time.Hour), Price: 1})
			s.Record(ctx, store.KindIntraday, types.Snapshot{Key: "pool", PoolID: "pool", Timestamp: fixedNow.Add(-time.Hour), Price: 2})

			got := s.Load(ctx, store.KindIntraday, "pool", 30*24*time.Hour)
			require.Len(t, got, 1)
			assert.Equal(t, 2.0, got[0].Price)
		})
	}
}

func TestPortfolioRetentionIsLonger(t *testing.T) {
	ctx := context.Background()
	s := New(store.NewMemorySnapshotLog(), WithClock(clock))

	s.Record(ctx, store.KindPortfolio, types.Snapshot{Key: "pos", Timestamp: fixedNow.Add(-30 * 24 * time.Hour), ValueUSD: 100})
	s.Record(ctx, store.KindPortfolio, types.Snapshot{Key: "pos", Timestamp: fixedNow.Add(-91 * 24 * time.Hour), ValueUSD: 50})
	s.Record(ctx, store.KindPortfolio, types.Snapshot{Key: "pos", Timestamp: fixedNow, ValueUSD: 120})

	w := s.Range(ctx, store.KindPortfolio, "pos", 0)
	require.Len(t, w.Items, 2)
	assert.Equal(t, 100.0, w.First.ValueUSD)
	assert.Equal(t, 120.0, w.Latest.ValueUSD)
	assert.InDelta(t, 20.0, w.ValueChange(), 1e-9)
}

func TestRoundTripKeepsFieldValues(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := New(backend, WithClock(clock))
			var want []types.Snapshot
			for i := 0; i < 12; i++ {
				snap := types.Snapshot{
					Key:         "poolB",
					PoolID:      "poolB",
					Timestamp:   fixedNow.Add(-time.Duration(12-i) * time.Hour),
					Price:       150 + float64(i)*0.25,
					Volume24h:   1_000_000 + float64(i),
					VolumeRatio: 1.05,
					ActiveBin:   -3 + i,
					Volatility:  0.012,
				}
				want = append(want, snap)
				s.Record(ctx, store.KindIntraday, snap)
			}

			got := s.Load(ctx, store.KindIntraday, "poolB", 24*time.Hour)
			require.Len(t, got, len(want))
			for i := range want {
				assert.True(t, want[i].Timestamp.Equal(got[i].Timestamp))
				got[i].Timestamp = want[i].Timestamp
				assert.Equal(t, want[i], got[i])
			}
		})
	}
}

func TestRangeEmptyAndPriceChange(t *testing.T) {
	ctx := context.Background()
	s := New(store.NewMemorySnapshotLog(), WithClock(clock))
	assert.True(t, s.Range(ctx, store.KindIntraday, "none", time.Hour).Empty())

	s.Record(ctx, store.KindIntraday, types.Snapshot{Key: "p", Timestamp: fixedNow.Add(-2 * time.Hour), Price: 100})
	s.Record(ctx, store.KindIntraday, types.Snapshot{Key: "p", Timestamp: fixedNow.Add(-time.Hour), Price: 110})
	w := s.Range(ctx, store.KindIntraday, "p", 24*time.Hour)
	assert.InDelta(t, 10.0, w.PriceChangePct(), 1e-9)
}

func TestSweepAndZeroTimestamp(t *testing.T) {
	ctx := context.Background()
	backend := store.NewMemorySnapshotLog()
	require.NoError(t, backend.Append(ctx, store.KindIntraday, types.Snapshot{Key: "stale", Timestamp: fixedNow.Add(-10 * 24 * time.Hour)}))

	s := New(backend, WithClock(clock), WithRetention(Retention{Intraday: 24 * time.Hour}))
	assert.Equal(t, 90*24*time.Hour, s.Retention().Portfolio)
	s.Record(ctx, store.KindIntraday, types.Snapshot{PoolID: "fresh"})

	assert.Equal(t, 1, s.Sweep(ctx))
	fresh := s.Load(ctx, store.KindIntraday, "fresh", 0)
	require.Len(t, fresh, 1)
	assert.True(t, fresh[0].Timestamp.Equal(fixedNow))
}

type failingLog struct{ store.SnapshotLog }

func (failingLog) Append(context.Context, store.Kind, types.Snapshot) error {
	return errors.New("disk full")
}

func (failingLog) Load(context.Context, store.Kind, string, time.Time) ([]types.Snapshot, error) {
	return nil, errors.New("corrupt")
}

func TestStorageFailuresAreSwallowed(t *testing.T) {
	ctx := context.Background()
	s := New(failingLog{}, WithClock(clock))
	assert.NotPanics(t, func() {
		s.Record(ctx, store.KindIntraday, types.Snapshot{Key: "x"})
	})
	assert.Empty(t, s.Load(ctx, store.KindIntraday, "x", time.Hour))

	var nilStore *Store
	assert.Empty(t, nilStore.Load(ctx, store.KindIntraday, "x", time.Hour))
}
