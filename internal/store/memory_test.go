package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lpwatch/internal/types"
)

func TestMemorySnapshotLogConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	s := NewMemorySnapshotLog()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.Append(ctx, KindIntraday, types.Snapshot{Key: "pool", Timestamp: base.Add(time.Duration(i) * time.Minute)})
		}(i)
	}
	wg.Wait()

	got, err := s.Load(ctx, KindIntraday, "pool", time.Time{})
	require.NoError(t, err)
	require.Len(t, got, 50)
	for i := 1; i < len(got); i++ {
		assert.False(t, got[i].Timestamp.Before(got[i-1].Timestamp))
	}

	removed, err := s.Prune(ctx, KindIntraday, "pool", base.Add(10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 10, removed)
}

func TestMemorySnapshotLogKeysPerKind(t *testing.T) {
	ctx := context.Background()
	s := newMemorySnapshotLog(4)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Append(ctx, KindPortfolio, types.Snapshot{Key: fmt.Sprintf("pos-%d", i), Timestamp: time.Now()}))
	}
	require.NoError(t, s.Append(ctx, KindIntraday, types.Snapshot{Key: "pool", Timestamp: time.Now()}))

	keys, err := s.Keys(ctx, KindPortfolio)
	require.NoError(t, err)
	assert.Equal(t, []string{"pos-0", "pos-1", "pos-2", "pos-3", "pos-4"}, keys)

	assert.Error(t, s.Append(ctx, Kind("x"), types.Snapshot{Key: "k"}))
	assert.Error(t, s.Append(ctx, KindIntraday, types.Snapshot{}))
}

func TestHistoryFilterAndMemoryHistory(t *testing.T) {
	ctx := context.Background()
	h := NewMemoryHistoryLog()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, h.Append(ctx, types.RebalanceHistoryEntry{ID: "1", Timestamp: base, PoolID: "p", OldPositionID: "a", NewPositionID: "b"}))
	require.NoError(t, h.Append(ctx, types.RebalanceHistoryEntry{ID: "2", Timestamp: base.Add(time.Hour), PoolID: "q", OldPositionID: "b", NewPositionID: "c"}))

	got, err := h.List(ctx, HistoryFilter{PositionID: "b"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "2", got[0].ID)

	got, err = h.List(ctx, HistoryFilter{Since: base.Add(time.Minute)})
	require.NoError(t, err)
	require.Len(t, got, 1)

	assert.True(t, HistoryFilter{}.Match(types.RebalanceHistoryEntry{}))
	assert.False(t, HistoryFilter{PoolID: "p"}.Match(types.RebalanceHistoryEntry{PoolID: "q"}))
}
