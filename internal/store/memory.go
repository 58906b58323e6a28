package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"lpwatch/internal/types"
)

// MemorySnapshotLog 是分片的内存快照日志，进程退出即丢失；用于 storage.backend=memory 与测试。
type MemorySnapshotLog struct {
	shards []snapshotShard
}

type snapshotShard struct {
	mu   sync.RWMutex
	data map[string][]types.Snapshot
}

const defaultShardCount = 32

var _ SnapshotLog = (*MemorySnapshotLog)(nil)

func NewMemorySnapshotLog() *MemorySnapshotLog {
	return newMemorySnapshotLog(defaultShardCount)
}

func newMemorySnapshotLog(shards int) *MemorySnapshotLog {
	if shards <= 0 {
		shards = 1
	}
	out := &MemorySnapshotLog{
		shards: make([]snapshotShard, shards),
	}
	for i := range out.shards {
		out.shards[i] = snapshotShard{data: make(map[string][]types.Snapshot)}
	}
	return out
}

func (s *MemorySnapshotLog) shardFor(key string) *snapshotShard {
	idx := hashKey(key) % uint32(len(s.shards))
	return &s.shards[idx]
}

func shardKey(kind Kind, key string) string { return string(kind) + "@" + key }

func (s *MemorySnapshotLog) Append(ctx context.Context, kind Kind, snap types.Snapshot) error {
	if !kind.Valid() {
		return fmt.Errorf("memory store: unknown kind %q", kind)
	}
	if snap.Key == "" {
		return errors.New("memory store: key 不能为空")
	}
	k := shardKey(kind, snap.Key)
	sh := s.shardFor(k)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.data[k] = append(sh.data[k], snap)
	return nil
}

func (s *MemorySnapshotLog) Load(ctx context.Context, kind Kind, key string, since time.Time) ([]types.Snapshot, error) {
	k := shardKey(kind, key)
	sh := s.shardFor(k)
	sh.mu.RLock()
	cur := sh.data[k]
	out := make([]types.Snapshot, 0, len(cur))
	for _, snap := range cur {
		if snap.Timestamp.Before(since) {
			continue
		}
		out = append(out, snap)
	}
	sh.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *MemorySnapshotLog) Prune(ctx context.Context, kind Kind, key string, before time.Time) (int, error) {
	k := shardKey(kind, key)
	sh := s.shardFor(k)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	cur := sh.data[k]
	kept := make([]types.Snapshot, 0, len(cur))
	for _, snap := range cur {
		if snap.Timestamp.Before(before) {
			continue
		}
		kept = append(kept, snap)
	}
	removed := len(cur) - len(kept)
	if len(kept) == 0 {
		delete(sh.data, k)
	} else {
		sh.data[k] = kept
	}
	return removed, nil
}

func (s *MemorySnapshotLog) Keys(ctx context.Context, kind Kind) ([]string, error) {
	prefix := string(kind) + "@"
	var keys []string
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		for k := range sh.data {
			if len(k) > len(prefix) && k[:len(prefix)] == prefix {
				keys = append(keys, k[len(prefix):])
			}
		}
		sh.mu.RUnlock()
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *MemorySnapshotLog) Close() error { return nil }

// MemoryHistoryLog keeps the rebalance audit trail in memory.
type MemoryHistoryLog struct {
	mu      sync.RWMutex
	entries []types.RebalanceHistoryEntry
}

var _ HistoryLog = (*MemoryHistoryLog)(nil)

func NewMemoryHistoryLog() *MemoryHistoryLog {
	return &MemoryHistoryLog{}
}

func (h *MemoryHistoryLog) Append(ctx context.Context, entry types.RebalanceHistoryEntry) error {
	h.mu.Lock()
	h.entries = append(h.entries, entry)
	h.mu.Unlock()
	return nil
}

func (h *MemoryHistoryLog) List(ctx context.Context, filter HistoryFilter) ([]types.RebalanceHistoryEntry, error) {
	h.mu.RLock()
	out := make([]types.RebalanceHistoryEntry, 0, len(h.entries))
	for _, e := range h.entries {
		if filter.Match(e) {
			out = append(out, e)
		}
	}
	h.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (h *MemoryHistoryLog) Close() error { return nil }

func hashKey(s string) uint32 {
	const (
		offset32 = 2166136261
		prime32  = 16777619
	)
	var h uint32 = offset32
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime32
	}
	return h
}
