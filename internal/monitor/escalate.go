package monitor

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"

	"lpwatch/internal/analysis/trend"
	"lpwatch/internal/decision"
	"lpwatch/internal/store"
	"lpwatch/internal/types"
)

type tally struct{ n atomic.Int32 }

func (t *tally) inc()     { t.n.Add(1) }
func (t *tally) get() int { return int(t.n.Load()) }

const (
	KindRebalanceAlert  = "rebalance_alert"
	KindRebalanceResult = "rebalance_executed"
	KindRebalanceFailed = "rebalance_failed"
	KindDailySummary    = "daily_summary"
)

func (s *Service) policyFor(cfg types.MonitoringConfig) decision.Policy {
	if strings.TrimSpace(cfg.Policy) == "" {
		return nil
	}
	p, err := decision.PolicyByName(cfg.Policy)
	if err != nil {
		log.Warnf("未知策略 %q，使用引擎默认策略", cfg.Policy)
		return nil
	}
	return p
}

// escalate 为完整分析：决策 → 通知（MEDIUM 及以上）→ 可选自动执行。
func (s *Service) escalate(ctx context.Context, pos types.Position, trigger string, volumeRatio float64) error {
	cfg := s.Config()
	d, err := s.deps.Engine.Evaluate(ctx, &pos, decision.EvalOptions{
		Policy:      s.policyFor(cfg),
		VolumeRatio: volumeRatio,
		Trigger:     trigger,
	})
	if err != nil {
		return err
	}
	log.Infof("escalate[%s]: %s", trigger, decision.Summary(d))
	if d.Urgency >= types.UrgencyMedium {
		s.notify(ctx, decisionNotification(d))
	}
	if cfg.AutoApply && d.ShouldRebalance {
		if _, err := s.apply(ctx, pos, d); err != nil {
			return err
		}
	}
	return nil
}

// Analyze 对单个仓位做一次手动分析（HTTP 接口使用），不触发通知与执行。
func (s *Service) Analyze(ctx context.Context, positionID, policyName string) (types.RebalanceDecision, error) {
	cfg := s.Config()
	if strings.TrimSpace(policyName) != "" {
		cfg.Policy = policyName
	}
	var policy decision.Policy
	if strings.TrimSpace(cfg.Policy) != "" {
		p, err := decision.PolicyByName(cfg.Policy)
		if err != nil {
			return types.RebalanceDecision{}, err
		}
		policy = p
	}
	cfg.Positions = nil
	positions, err := s.watchedPositions(ctx, cfg)
	if err != nil {
		return types.RebalanceDecision{}, err
	}
	for _, pos := range positions {
		if pos.ID != positionID {
			continue
		}
		return s.deps.Engine.Evaluate(ctx, &pos, decision.EvalOptions{Policy: policy, Trigger: TriggerManual})
	}
	return types.RebalanceDecision{}, fmt.Errorf("%w: %s", ErrPositionNotFound, positionID)
}

// apply 调用执行器，成功后追加调仓历史与新仓位的组合快照。
func (s *Service) apply(ctx context.Context, pos types.Position, d types.RebalanceDecision) (types.RebalanceHistoryEntry, error) {
	if s.deps.Executor == nil {
		log.Warnf("auto_apply 已开启但未配置执行器，跳过 position=%s", pos.ID)
		return types.RebalanceHistoryEntry{}, nil
	}
	reason := types.ReasonAutomatic
	if !d.Geometry.InRange {
		reason = types.ReasonOutOfRange
	}
	opts := types.RebalanceOptions{
		BinsPerSide: s.settings.Rebalance.BinsPerSide,
		SlippageBps: s.settings.Rebalance.SlippageBps,
		Strategy:    s.settings.Rebalance.Strategy,
		ReasonCode:  reason,
		Reason:      d.Reason,
	}
	res, execErr := s.deps.Executor.ExecuteRebalance(ctx, pos, opts)
	if s.deps.Decisions != nil {
		if err := s.deps.Decisions.MarkApplied(ctx, d.TraceID, execErr); err != nil {
			log.Warnf("决策日志执行状态更新失败 trace=%s err=%v", d.TraceID, err)
		}
	}
	if execErr != nil {
		s.notify(ctx, types.Notification{
			Kind:     KindRebalanceFailed,
			Title:    "Rebalance failed",
			Message:  fmt.Sprintf("position %s: %v", pos.ID, execErr),
			Severity: types.SeverityCritical,
			Metadata: map[string]string{"position": pos.ID, "pool": pos.PoolID, "trace_id": d.TraceID},
		})
		return types.RebalanceHistoryEntry{}, fmt.Errorf("execute rebalance: %w", execErr)
	}

	entry := types.RebalanceHistoryEntry{
		ID:                 uuid.NewString(),
		Timestamp:          s.nowFn().UTC(),
		OldPositionID:      pos.ID,
		NewPositionID:      res.NewPositionID,
		PoolID:             pos.PoolID,
		Reason:             reason,
		ReasonText:         d.Reason,
		FeesClaimedUSD:     res.FeesClaimedUSD,
		TransactionCostUSD: res.TransactionCostUSD,
		OldLower:           pos.LowerBin,
		OldUpper:           pos.UpperBin,
		NewLower:           res.NewLower,
		NewUpper:           res.NewUpper,
		Signatures:         res.Signatures,
	}
	if s.deps.History != nil {
		if err := s.deps.History.Append(ctx, entry); err != nil {
			// 链上已执行，历史写入失败只能告警
			log.Errorf("调仓历史写入失败 old=%s new=%s err=%v", pos.ID, res.NewPositionID, err)
		}
	}
	s.deps.Snapshots.Record(ctx, store.KindPortfolio, types.Snapshot{
		Key:       res.NewPositionID,
		PoolID:    pos.PoolID,
		Timestamp: entry.Timestamp,
		ActiveBin: pos.ActiveBin,
		ValueUSD:  pos.ValueUSD,
		FeesUSD:   res.FeesClaimedUSD,
	})
	s.notify(ctx, types.Notification{
		Kind:     KindRebalanceResult,
		Title:    "Rebalance executed",
		Message:  fmt.Sprintf("%s → %s [%d, %d]\nfees claimed $%.2f, cost $%.4f", pos.ID, res.NewPositionID, res.NewLower, res.NewUpper, res.FeesClaimedUSD, res.TransactionCostUSD),
		Severity: types.SeverityInfo,
		Metadata: map[string]string{"pool": pos.PoolID, "reason": string(reason), "trace_id": d.TraceID},
	})
	return entry, nil
}

func severityFor(u types.Urgency) types.Severity {
	switch {
	case u >= types.UrgencyCritical:
		return types.SeverityCritical
	case u >= types.UrgencyMedium:
		return types.SeverityWarning
	default:
		return types.SeverityInfo
	}
}

func decisionNotification(d types.RebalanceDecision) types.Notification {
	lines := []string{
		d.Recommendation,
		d.Reason,
		fmt.Sprintf("fees/day $%.2f → $%.2f (+$%.2f)", d.CurrentDailyFees, d.ProjectedDailyFees, d.DailyFeeIncrease),
		fmt.Sprintf("cost $%.4f, break-even %s", d.RebalanceCostUSD, d.BreakEvenHours),
	}
	return types.Notification{
		Kind:     KindRebalanceAlert,
		Title:    fmt.Sprintf("%s: position %s", d.Urgency, d.PositionID),
		Message:  strings.Join(lines, "\n"),
		Severity: severityFor(d.Urgency),
		Metadata: map[string]string{
			"pool":       d.PoolID,
			"policy":     d.Policy,
			"trigger":    d.Trigger,
			"confidence": fmt.Sprintf("%d", d.Confidence),
			"trace_id":   d.TraceID,
		},
	}
}

// sendDailySummary 汇总各池子 24h 趋势与组合价值变化。
func (s *Service) sendDailySummary(ctx context.Context, positions []types.Position) {
	cfg := s.Config()
	pools := poolSet(cfg, positions)
	if len(pools) == 0 {
		return
	}
	lines := make([]string, 0, len(pools)+len(positions))
	for _, poolID := range pools {
		rep := trend.Analyze(s.deps.Snapshots.Load(ctx, store.KindIntraday, poolID, s.settings.TrendWindow))
		lines = append(lines, fmt.Sprintf("%s: %s", poolID, rep.Summary))
	}
	var total float64
	for _, pos := range positions {
		total += pos.ValueUSD
		w := s.deps.Snapshots.Range(ctx, store.KindPortfolio, pos.ID, 0)
		if len(w.Items) >= 2 {
			lines = append(lines, fmt.Sprintf("%s value %+.2f since %s", pos.ID, w.ValueChange(), w.First.Timestamp.Format("2006-01-02")))
		}
	}
	s.notify(ctx, types.Notification{
		Kind:     KindDailySummary,
		Title:    fmt.Sprintf("Daily review: %d positions, $%.2f", len(positions), total),
		Message:  strings.Join(lines, "\n"),
		Severity: types.SeverityInfo,
	})
}
