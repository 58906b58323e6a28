// Package snapshot 在 store.SnapshotLog 之上实现保留期与窗口查询。
// 所有操作都是 best-effort：存储失败只记录告警，不会阻塞决策流程。
package snapshot

import (
	"context"
	"time"

	"lpwatch/internal/logger"
	"lpwatch/internal/store"
	"lpwatch/internal/types"
)

var log = logger.Named("snapshot")

// Retention 为不同类型日志的保留时长。
type Retention struct {
	Intraday  time.Duration
	Portfolio time.Duration
}

func DefaultRetention() Retention {
	return Retention{
		Intraday:  7 * 24 * time.Hour,
		Portfolio: 90 * 24 * time.Hour,
	}
}

func (r Retention) For(kind store.Kind) time.Duration {
	switch kind {
	case store.KindPortfolio:
		return r.Portfolio
	default:
		return r.Intraday
	}
}

type Store struct {
	log       store.SnapshotLog
	retention Retention
	nowFn     func() time.Time
}

type Option func(*Store)

// WithRetention overrides the per-kind windows; zero fields keep the default.
func WithRetention(r Retention) Option {
	return func(s *Store) {
		if r.Intraday > 0 {
			s.retention.Intraday = r.Intraday
		}
		if r.Portfolio > 0 {
			s.retention.Portfolio = r.Portfolio
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.nowFn = now
		}
	}
}

func New(l store.SnapshotLog, opts ...Option) *Store {
	s := &Store{
		log:       l,
		retention: DefaultRetention(),
		nowFn:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Retention() Retention { return s.retention }

// Record 追加一条快照，随后立即按保留期清理同一 key 的旧数据。
func (s *Store) Record(ctx context.Context, kind store.Kind, snap types.Snapshot) {
	if s == nil || s.log == nil {
		return
	}
	now := s.nowFn().UTC()
	if snap.Timestamp.IsZero() {
		snap.Timestamp = now
	}
	if snap.Key == "" {
		snap.Key = snap.PoolID
	}
	if err := s.log.Append(ctx, kind, snap); err != nil {
		log.Warnf("写入快照失败 kind=%s key=%s err=%v", kind, snap.Key, err)
		return
	}
	cutoff := now.Add(-s.retention.For(kind))
	removed, err := s.log.Prune(ctx, kind, snap.Key, cutoff)
	if err != nil {
		log.Warnf("清理过期快照失败 kind=%s key=%s err=%v", kind, snap.Key, err)
		return
	}
	if removed > 0 {
		log.Debugf("pruned %d snapshots kind=%s key=%s", removed, kind, snap.Key)
	}
}

// Load 返回 ts >= now-window 的快照，按时间升序。window<=0 时使用该类型的保留期。
// 读取失败返回空切片。
func (s *Store) Load(ctx context.Context, kind store.Kind, key string, window time.Duration) []types.Snapshot {
	if s == nil || s.log == nil || key == "" {
		return nil
	}
	if window <= 0 {
		window = s.retention.For(kind)
	}
	since := s.nowFn().UTC().Add(-window)
	items, err := s.log.Load(ctx, kind, key, since)
	if err != nil {
		log.Warnf("读取快照失败 kind=%s key=%s err=%v", kind, key, err)
		return nil
	}
	return items
}

// Window 为窗口内首末两条与完整序列；Items 为空时 First/Latest 为零值。
type Window struct {
	First  types.Snapshot   `json:"first"`
	Latest types.Snapshot   `json:"latest"`
	Items  []types.Snapshot `json:"items"`
}

func (w Window) Empty() bool { return len(w.Items) == 0 }

// PriceChangePct 返回首末价格变化百分比；数据不足时为 0。
func (w Window) PriceChangePct() float64 {
	if len(w.Items) < 2 || w.First.Price == 0 {
		return 0
	}
	return (w.Latest.Price - w.First.Price) / w.First.Price * 100
}

// ValueChange 返回仓位价值的首末差值（组合快照使用）。
func (w Window) ValueChange() float64 {
	if len(w.Items) < 2 {
		return 0
	}
	return w.Latest.ValueUSD - w.First.ValueUSD
}

func (s *Store) Range(ctx context.Context, kind store.Kind, key string, window time.Duration) Window {
	items := s.Load(ctx, kind, key, window)
	if len(items) == 0 {
		return Window{}
	}
	return Window{
		First:  items[0],
		Latest: items[len(items)-1],
		Items:  items,
	}
}

// Sweep 对所有 key 执行保留期清理，用于长时间没有写入的 key。
func (s *Store) Sweep(ctx context.Context) int {
	if s == nil || s.log == nil {
		return 0
	}
	now := s.nowFn().UTC()
	total := 0
	for _, kind := range []store.Kind{store.KindIntraday, store.KindPortfolio} {
		keys, err := s.log.Keys(ctx, kind)
		if err != nil {
			log.Warnf("列出快照 key 失败 kind=%s err=%v", kind, err)
			continue
		}
		cutoff := now.Add(-s.retention.For(kind))
		for _, key := range keys {
			n, err := s.log.Prune(ctx, kind, key, cutoff)
			if err != nil {
				log.Warnf("清理过期快照失败 kind=%s key=%s err=%v", kind, key, err)
				continue
			}
			total += n
		}
	}
	return total
}
