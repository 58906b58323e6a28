package jsonfile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"lpwatch/internal/store"
	"lpwatch/internal/types"
)

// HistoryLog keeps every rebalance in one JSON array file. Entries are never
// rewritten or pruned; Append re-writes the whole array plus the new entry.
type HistoryLog struct {
	path string
	mu   sync.Mutex
}

var _ store.HistoryLog = (*HistoryLog)(nil)

func NewHistoryLog(path string) (*HistoryLog, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("jsonfile: history path 不能为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("jsonfile: create history dir: %w", err)
	}
	return &HistoryLog{path: path}, nil
}

func (h *HistoryLog) Close() error { return nil }

func (h *HistoryLog) Append(ctx context.Context, entry types.RebalanceHistoryEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	var items []types.RebalanceHistoryEntry
	if err := readJSON(h.path, &items); err != nil {
		// 审计日志损坏时不覆盖，避免丢失历史。
		return fmt.Errorf("jsonfile: history unreadable, refusing to overwrite: %w", err)
	}
	items = append(items, entry)
	return writeJSON(h.path, items)
}

func (h *HistoryLog) List(ctx context.Context, filter store.HistoryFilter) ([]types.RebalanceHistoryEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h.mu.Lock()
	var items []types.RebalanceHistoryEntry
	err := readJSON(h.path, &items)
	h.mu.Unlock()
	if err != nil {
		log.Warnf("读取调仓历史失败 path=%s err=%v", h.path, err)
		return nil, nil
	}
	out := make([]types.RebalanceHistoryEntry, 0, len(items))
	for _, e := range items {
		if filter.Match(e) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}
