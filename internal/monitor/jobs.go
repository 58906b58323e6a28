package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"lpwatch/internal/analysis/trend"
	"lpwatch/internal/decision"
	"lpwatch/internal/scheduler"
	"lpwatch/internal/store"
	"lpwatch/internal/types"
)

const (
	JobHourlySnapshots = "hourly_snapshots"
	JobUrgencyCheck    = "urgency_check"
	JobSessionReview   = "session_review"
	JobDailyReview     = "daily_review"
)

// 升级分析的触发来源，写入决策的 Trigger 字段。
const (
	TriggerOutOfRange   = "out_of_range"
	TriggerEdgeCritical = "edge_critical"
	TriggerVolumeSpike  = "volume_spike"
	TriggerSession      = "session_review"
	TriggerDaily        = "daily_review"
	TriggerManual       = "manual"
)

// CadenceSet 为四档任务的节奏，可由配置覆盖。
type CadenceSet struct {
	Hourly     scheduler.Cadence
	ThirtyMin  scheduler.Cadence
	TwelveHour scheduler.Cadence
	Daily      scheduler.Cadence
}

func DefaultCadences() CadenceSet {
	return CadenceSet{
		Hourly:     scheduler.Hourly,
		ThirtyMin:  scheduler.ThirtyMinutes,
		TwelveHour: scheduler.TwelveHour,
		Daily:      scheduler.Daily,
	}
}

// JobStatus 为任务最近一次执行的摘要，供状态接口展示。
type JobStatus struct {
	Job        string    `json:"job"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Positions  int       `json:"positions"`
	Failed     int       `json:"failed"`
	Escalated  int       `json:"escalated"`
	Skipped    bool      `json:"skipped,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Jobs 按配置启用的档位构建任务列表。
func (s *Service) Jobs(cfg types.MonitoringConfig, cadences CadenceSet) []scheduler.Job {
	var jobs []scheduler.Job
	if cfg.Cadences.Hourly {
		jobs = append(jobs, scheduler.Job{Name: JobHourlySnapshots, Cadence: cadences.Hourly, Run: s.HourlySnapshots})
	}
	if cfg.Cadences.ThirtyMin {
		jobs = append(jobs, scheduler.Job{Name: JobUrgencyCheck, Cadence: cadences.ThirtyMin, Run: s.UrgencyCheck})
	}
	if cfg.Cadences.TwelveHour {
		jobs = append(jobs, scheduler.Job{Name: JobSessionReview, Cadence: cadences.TwelveHour, Run: s.SessionReview})
	}
	if cfg.Cadences.Daily {
		jobs = append(jobs, scheduler.Job{Name: JobDailyReview, Cadence: cadences.Daily, Run: s.DailyReview})
	}
	return jobs
}

// LastRuns returns job statuses sorted by job name.
func (s *Service) LastRuns() []JobStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]JobStatus, 0, len(s.lastRuns))
	for _, st := range s.lastRuns {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Job < out[j].Job })
	return out
}

func (s *Service) finish(st *JobStatus, err error) error {
	st.FinishedAt = s.nowFn().UTC()
	if err != nil {
		st.Error = err.Error()
	}
	s.mu.Lock()
	s.lastRuns[st.Job] = *st
	s.mu.Unlock()
	log.Infof("%s: done positions=%d failed=%d escalated=%d skipped=%v in %s",
		st.Job, st.Positions, st.Failed, st.Escalated, st.Skipped, st.FinishedAt.Sub(st.StartedAt).Truncate(time.Millisecond))
	return err
}

// begin 读取配置并拉取仓位；配置缺失时标记跳过并返回 ok=false。
func (s *Service) begin(ctx context.Context, job string) (*JobStatus, types.MonitoringConfig, []types.Position, bool, error) {
	st := &JobStatus{Job: job, StartedAt: s.nowFn().UTC()}
	cfg := s.Config()
	positions, err := s.watchedPositions(ctx, cfg)
	if errors.Is(err, ErrNotConfigured) {
		log.Warnf("%s: 未配置 owner/仓位数据源，本轮跳过", job)
		st.Skipped = true
		return st, cfg, nil, false, nil
	}
	if err != nil {
		return st, cfg, nil, false, err
	}
	st.Positions = len(positions)
	return st, cfg, positions, true, nil
}

// HourlySnapshots 记录每个池子的小时观测；仅监控池子（无 owner）时也会执行。
func (s *Service) HourlySnapshots(ctx context.Context) error {
	st := &JobStatus{Job: JobHourlySnapshots, StartedAt: s.nowFn().UTC()}
	cfg := s.Config()
	positions, err := s.watchedPositions(ctx, cfg)
	if err != nil && !errors.Is(err, ErrNotConfigured) {
		log.Warnf("%s: 仓位获取失败，仅记录配置中的池子: %v", JobHourlySnapshots, err)
	}
	pools := poolSet(cfg, positions)
	if len(pools) == 0 {
		log.Warnf("%s: 没有可观测的池子，本轮跳过", JobHourlySnapshots)
		st.Skipped = true
		return s.finish(st, nil)
	}
	st.Positions = len(positions)
	for _, poolID := range pools {
		if ctx.Err() != nil {
			return s.finish(st, ctx.Err())
		}
		if err := s.recordPoolSnapshot(ctx, poolID); err != nil {
			log.Warnf("%s: pool=%s: %v", JobHourlySnapshots, poolID, err)
			st.Failed++
		}
	}
	return s.finish(st, nil)
}

func (s *Service) recordPoolSnapshot(ctx context.Context, poolID string) error {
	info, err := s.poolInfo(ctx, poolID)
	if err != nil {
		return fmt.Errorf("pool info: %w", err)
	}
	snap := types.Snapshot{
		Key:         poolID,
		PoolID:      poolID,
		Timestamp:   s.nowFn().UTC(),
		Price:       info.Price,
		ActiveBin:   info.ActiveBin,
		VolumeRatio: 1,
	}
	if vol, err := s.volume(ctx, poolID); err != nil {
		log.Warnf("成交量获取失败，快照量比按 1.0 记录 pool=%s err=%v", poolID, err)
	} else {
		snap.Volume24h = vol.Volume24h
		snap.FeesUSD = vol.Fees24h
		if vol.VolumeRatio > 0 {
			snap.VolumeRatio = vol.VolumeRatio
		}
	}
	history := s.deps.Snapshots.Load(ctx, store.KindIntraday, poolID, s.settings.TrendWindow)
	prices := make([]float64, 0, len(history)+1)
	for _, h := range history {
		prices = append(prices, h.Price)
	}
	prices = append(prices, snap.Price)
	snap.Volatility = trend.RollingVolatility(prices, s.settings.VolatilityPeriod)
	s.deps.Snapshots.Record(ctx, store.KindIntraday, snap)
	return nil
}

// UrgencyCheck 每 30 分钟检查区间边界：出界或贴边立即升级分析，其余看实时量比。
func (s *Service) UrgencyCheck(ctx context.Context) error {
	st, _, positions, ok, err := s.begin(ctx, JobUrgencyCheck)
	if !ok {
		return s.finish(st, err)
	}
	var escalated tally
	st.Failed = s.forEachPosition(ctx, JobUrgencyCheck, positions, func(ctx context.Context, pos types.Position) error {
		geo := decision.ComputeGeometry(pos)
		switch {
		case !geo.InRange:
			escalated.inc()
			return s.escalate(ctx, pos, TriggerOutOfRange, 0)
		case geo.EdgeDistance < s.settings.UrgentEdgeBins:
			escalated.inc()
			return s.escalate(ctx, pos, TriggerEdgeCritical, 0)
		case geo.EdgeDistance < s.settings.WarnEdgeBins:
			log.Infof("%s: position=%s 距边界 %d bins，标记为紧急，留待 12 小时复盘处理", JobUrgencyCheck, pos.ID, geo.EdgeDistance)
			return nil
		}
		vol, err := s.volume(ctx, pos.PoolID)
		if err != nil {
			// 量比不可得时本轮不升级，等待下一轮
			log.Warnf("%s: volume unavailable pool=%s err=%v", JobUrgencyCheck, pos.PoolID, err)
			return nil
		}
		if vol.VolumeRatio > s.settings.VolumeSpikeRatio {
			escalated.inc()
			return s.escalate(ctx, pos, TriggerVolumeSpike, vol.VolumeRatio)
		}
		return nil
	})
	st.Escalated = escalated.get()
	return s.finish(st, nil)
}

// SessionReview 在 08:00/20:00 UTC 运行：贴边，或距上次调仓超过 12 小时且成交量加速时升级。
func (s *Service) SessionReview(ctx context.Context) error {
	st, _, positions, ok, err := s.begin(ctx, JobSessionReview)
	if !ok {
		return s.finish(st, err)
	}
	var escalated tally
	st.Failed = s.forEachPosition(ctx, JobSessionReview, positions, func(ctx context.Context, pos types.Position) error {
		geo := decision.ComputeGeometry(pos)
		if geo.EdgeDistance < s.settings.SessionEdgeBins {
			escalated.inc()
			return s.escalate(ctx, pos, TriggerSession, 0)
		}
		since := s.sinceLastRebalance(ctx, pos)
		if since <= s.settings.SessionStaleAfter {
			return nil
		}
		snaps := s.deps.Snapshots.Load(ctx, store.KindIntraday, pos.PoolID, s.settings.TrendWindow)
		mom := trend.ComputeMomentum(snaps)
		if mom.VolumeAcceleration > s.settings.SessionAccelPct {
			escalated.inc()
			return s.escalate(ctx, pos, TriggerSession, 0)
		}
		return nil
	})
	st.Escalated = escalated.get()
	return s.finish(st, nil)
}

// sinceLastRebalance 优先使用仓位自带时间，其次查历史；都没有时视为无限久。
func (s *Service) sinceLastRebalance(ctx context.Context, pos types.Position) time.Duration {
	last := pos.LastRebalancedAt
	if last.IsZero() && s.deps.History != nil {
		entries, err := s.deps.History.List(ctx, store.HistoryFilter{PositionID: pos.ID, Limit: 1})
		if err != nil {
			log.Warnf("读取调仓历史失败 position=%s err=%v", pos.ID, err)
		} else if len(entries) > 0 {
			last = entries[0].Timestamp
		}
	}
	if last.IsZero() {
		return time.Duration(1<<63 - 1)
	}
	return s.nowFn().Sub(last)
}

// DailyReview 日终对所有仓位做完整分析，记录组合快照，并执行保留期维护。
func (s *Service) DailyReview(ctx context.Context) error {
	st, _, positions, ok, err := s.begin(ctx, JobDailyReview)
	if !ok {
		s.maintenance(ctx)
		return s.finish(st, err)
	}
	var escalated tally
	st.Failed = s.forEachPosition(ctx, JobDailyReview, positions, func(ctx context.Context, pos types.Position) error {
		s.deps.Snapshots.Record(ctx, store.KindPortfolio, types.Snapshot{
			Key:       pos.ID,
			PoolID:    pos.PoolID,
			Timestamp: s.nowFn().UTC(),
			ActiveBin: pos.ActiveBin,
			ValueUSD:  pos.ValueUSD,
		})
		escalated.inc()
		return s.escalate(ctx, pos, TriggerDaily, 0)
	})
	st.Escalated = escalated.get()
	s.sendDailySummary(ctx, positions)
	s.maintenance(ctx)
	return s.finish(st, nil)
}

func (s *Service) maintenance(ctx context.Context) {
	if removed := s.deps.Snapshots.Sweep(ctx); removed > 0 {
		log.Infof("%s: swept %d expired snapshots", JobDailyReview, removed)
	}
	if s.deps.Decisions == nil {
		return
	}
	cutoff := s.nowFn().UTC().Add(-s.settings.DecisionLogRetention)
	if n, err := s.deps.Decisions.Prune(ctx, cutoff); err != nil {
		log.Warnf("%s: 决策日志清理失败: %v", JobDailyReview, err)
	} else if n > 0 {
		log.Infof("%s: pruned %d decision log rows", JobDailyReview, n)
	}
}
