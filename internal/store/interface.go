package store

import (
	"context"
	"errors"
	"time"

	"lpwatch/internal/types"
)

// ErrNotFound is returned by lookups that match nothing.
var ErrNotFound = errors.New("store: not found")

// Kind 区分不同保留期的快照日志。
type Kind string

const (
	// KindIntraday 为小时级池子观测，默认保留 7 天。
	KindIntraday Kind = "intraday"
	// KindPortfolio 为仓位级分析快照，默认保留 90 天。
	KindPortfolio Kind = "portfolio"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindIntraday || k == KindPortfolio
}

// SnapshotLog is a key-value append log. Implementations must be safe for
// concurrent use; appends are order-insensitive.
type SnapshotLog interface {
	// Append adds one snapshot to the (kind, snap.Key) log.
	Append(ctx context.Context, kind Kind, snap types.Snapshot) error
	// Load returns entries with Timestamp >= since, oldest first.
	Load(ctx context.Context, kind Kind, key string, since time.Time) ([]types.Snapshot, error)
	// Prune deletes entries older than before and reports how many were removed.
	Prune(ctx context.Context, kind Kind, key string, before time.Time) (int, error)
	// Keys lists the keys that currently have a log of the given kind.
	Keys(ctx context.Context, kind Kind) ([]string, error)
	// Close releases underlying resources.
	Close() error
}

// HistoryFilter narrows HistoryLog.List. Zero values match everything.
type HistoryFilter struct {
	PoolID     string
	PositionID string
	Since      time.Time
	Limit      int
}

// Match reports whether the entry passes the filter (Limit is ignored).
func (f HistoryFilter) Match(e types.RebalanceHistoryEntry) bool {
	if f.PoolID != "" && e.PoolID != f.PoolID {
		return false
	}
	if f.PositionID != "" && e.OldPositionID != f.PositionID && e.NewPositionID != f.PositionID {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	return true
}

// HistoryLog is the append-only rebalance audit trail. It has no delete.
type HistoryLog interface {
	Append(ctx context.Context, entry types.RebalanceHistoryEntry) error
	// List returns matching entries newest first.
	List(ctx context.Context, filter HistoryFilter) ([]types.RebalanceHistoryEntry, error)
	Close() error
}
