// Package monitor 实现四档定时任务：小时快照、30 分钟紧急检查、12 小时复盘与日终复盘。
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"lpwatch/internal/decision"
	"lpwatch/internal/gateway"
	"lpwatch/internal/logger"
	"lpwatch/internal/snapshot"
	"lpwatch/internal/store"
	"lpwatch/internal/types"
)

var log = logger.Named("monitor")

// ErrNotConfigured 表示本轮缺少 owner 或仓位数据源，任务跳过。
var ErrNotConfigured = errors.New("monitor: no owner or position source configured")

// ErrPositionNotFound is returned by Analyze when the owner has no such position.
var ErrPositionNotFound = errors.New("monitor: position not found")

// DecisionLog 是决策日志中 monitor 需要的部分。
type DecisionLog interface {
	MarkApplied(ctx context.Context, traceID string, execErr error) error
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// RebalanceDefaults 为自动执行时传给执行器的参数。
type RebalanceDefaults struct {
	BinsPerSide int
	SlippageBps int
	Strategy    string
}

// Settings 为各任务的触发阈值。
type Settings struct {
	UrgentEdgeBins       int
	WarnEdgeBins         int
	VolumeSpikeRatio     float64
	SessionEdgeBins      int
	SessionStaleAfter    time.Duration
	SessionAccelPct      float64
	TrendWindow          time.Duration
	VolatilityPeriod     int
	Concurrency          int
	CallTimeout          time.Duration
	DecisionLogRetention time.Duration
	Rebalance            RebalanceDefaults
}

func DefaultSettings() Settings {
	return Settings{
		UrgentEdgeBins:       3,
		WarnEdgeBins:         10,
		VolumeSpikeRatio:     1.5,
		SessionEdgeBins:      10,
		SessionStaleAfter:    12 * time.Hour,
		SessionAccelPct:      50,
		TrendWindow:          24 * time.Hour,
		VolatilityPeriod:     24,
		Concurrency:          1,
		CallTimeout:          5 * time.Second,
		DecisionLogRetention: 30 * 24 * time.Hour,
		Rebalance:            RebalanceDefaults{BinsPerSide: 10, SlippageBps: 100, Strategy: "spot"},
	}
}

// WithDefaults fills zero fields from DefaultSettings.
func (s Settings) WithDefaults() Settings {
	def := DefaultSettings()
	if s.UrgentEdgeBins <= 0 {
		s.UrgentEdgeBins = def.UrgentEdgeBins
	}
	if s.WarnEdgeBins <= 0 {
		s.WarnEdgeBins = def.WarnEdgeBins
	}
	if s.VolumeSpikeRatio <= 0 {
		s.VolumeSpikeRatio = def.VolumeSpikeRatio
	}
	if s.SessionEdgeBins <= 0 {
		s.SessionEdgeBins = def.SessionEdgeBins
	}
	if s.SessionStaleAfter <= 0 {
		s.SessionStaleAfter = def.SessionStaleAfter
	}
	if s.SessionAccelPct <= 0 {
		s.SessionAccelPct = def.SessionAccelPct
	}
	if s.TrendWindow <= 0 {
		s.TrendWindow = def.TrendWindow
	}
	if s.VolatilityPeriod <= 0 {
		s.VolatilityPeriod = def.VolatilityPeriod
	}
	if s.Concurrency <= 0 {
		s.Concurrency = def.Concurrency
	}
	if s.CallTimeout <= 0 {
		s.CallTimeout = def.CallTimeout
	}
	if s.DecisionLogRetention <= 0 {
		s.DecisionLogRetention = def.DecisionLogRetention
	}
	if s.Rebalance.BinsPerSide <= 0 {
		s.Rebalance.BinsPerSide = def.Rebalance.BinsPerSide
	}
	if s.Rebalance.SlippageBps <= 0 {
		s.Rebalance.SlippageBps = def.Rebalance.SlippageBps
	}
	if strings.TrimSpace(s.Rebalance.Strategy) == "" {
		s.Rebalance.Strategy = def.Rebalance.Strategy
	}
	return s
}

// Deps 为 Service 的协作方；Executor、History、Decisions 可为空。
type Deps struct {
	Positions gateway.PositionSource
	Pools     gateway.PoolSource
	Snapshots *snapshot.Store
	Engine    *decision.Engine
	Notifier  gateway.Notifier
	Executor  gateway.Executor
	History   store.HistoryLog
	Decisions DecisionLog
}

type Service struct {
	deps     Deps
	settings Settings
	nowFn    func() time.Time

	mu       sync.RWMutex
	cfg      types.MonitoringConfig
	lastRuns map[string]JobStatus
}

type Option func(*Service)

func WithSettings(s Settings) Option {
	return func(svc *Service) { svc.settings = s.WithDefaults() }
}

func WithClock(now func() time.Time) Option {
	return func(svc *Service) {
		if now != nil {
			svc.nowFn = now
		}
	}
}

func NewService(deps Deps, opts ...Option) (*Service, error) {
	if deps.Engine == nil {
		return nil, fmt.Errorf("monitor: decision engine is required")
	}
	svc := &Service{
		deps:     deps,
		settings: DefaultSettings(),
		nowFn:    time.Now,
		lastRuns: make(map[string]JobStatus),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// SetConfig 整体替换监控配置。
func (s *Service) SetConfig(cfg types.MonitoringConfig) {
	s.mu.Lock()
	s.cfg = cfg.Clone()
	s.mu.Unlock()
}

// Config returns a copy of the active monitoring config.
func (s *Service) Config() types.MonitoringConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Clone()
}

func (s *Service) Settings() Settings { return s.settings }

// watchedPositions 拉取 owner 仓位并按配置过滤。缺少 owner 或数据源时返回 ErrNotConfigured。
func (s *Service) watchedPositions(ctx context.Context, cfg types.MonitoringConfig) ([]types.Position, error) {
	owner := strings.TrimSpace(cfg.Owner)
	if owner == "" || s.deps.Positions == nil {
		return nil, ErrNotConfigured
	}
	callCtx, cancel := context.WithTimeout(ctx, s.settings.CallTimeout)
	defer cancel()
	all, err := s.deps.Positions.Positions(callCtx, owner)
	if err != nil {
		return nil, fmt.Errorf("fetch positions owner=%s: %w", owner, err)
	}
	out := make([]types.Position, 0, len(all))
	for _, p := range all {
		if !cfg.Watches(p.ID) {
			continue
		}
		if p.Owner == "" {
			p.Owner = owner
		}
		out = append(out, p)
	}
	return out, nil
}

// forEachPosition 以有界并发处理仓位；单个仓位失败只记日志，不影响其余仓位。
func (s *Service) forEachPosition(ctx context.Context, job string, positions []types.Position, fn func(context.Context, types.Position) error) int {
	var (
		eg     errgroup.Group
		mu     sync.Mutex
		failed int
	)
	eg.SetLimit(s.settings.Concurrency)
	for _, pos := range positions {
		pos := pos
		eg.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			if err := fn(ctx, pos); err != nil {
				log.Warnf("%s: position=%s pool=%s failed: %v", job, pos.ID, pos.PoolID, err)
				mu.Lock()
				failed++
				mu.Unlock()
			}
			return nil
		})
	}
	_ = eg.Wait()
	return failed
}

func (s *Service) volume(ctx context.Context, poolID string) (types.VolumeStats, error) {
	if s.deps.Pools == nil {
		return types.VolumeStats{}, fmt.Errorf("no pool source")
	}
	callCtx, cancel := context.WithTimeout(ctx, s.settings.CallTimeout)
	defer cancel()
	return s.deps.Pools.Volume(callCtx, poolID)
}

func (s *Service) poolInfo(ctx context.Context, poolID string) (types.PoolInfo, error) {
	if s.deps.Pools == nil {
		return types.PoolInfo{}, fmt.Errorf("no pool source")
	}
	callCtx, cancel := context.WithTimeout(ctx, s.settings.CallTimeout)
	defer cancel()
	return s.deps.Pools.PoolInfo(callCtx, poolID)
}

// poolSet 合并配置中的池子与仓位所在池子，去重排序。
func poolSet(cfg types.MonitoringConfig, positions []types.Position) []string {
	seen := make(map[string]struct{})
	for _, p := range cfg.Pools {
		if p = strings.TrimSpace(p); p != "" {
			seen[p] = struct{}{}
		}
	}
	for _, pos := range positions {
		if pos.PoolID != "" {
			seen[pos.PoolID] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (s *Service) notify(ctx context.Context, n types.Notification) {
	if s.deps.Notifier == nil {
		return
	}
	s.deps.Notifier.Notify(ctx, n)
}
