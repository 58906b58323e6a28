package decisionlog

import (
	"context"

	"lpwatch/internal/logger"
	"lpwatch/internal/types"
)

// DecisionLogObserver 把引擎输出写入决策日志；写入失败只记日志。
type DecisionLogObserver struct {
	store *DecisionLogStore
}

// NewDecisionLogObserver 包装 store。
func NewDecisionLogObserver(store *DecisionLogStore) *DecisionLogObserver {
	if store == nil {
		return nil
	}
	return &DecisionLogObserver{store: store}
}

// AfterDecide 记录一次决策（未执行）。
func (o *DecisionLogObserver) AfterDecide(ctx context.Context, d types.RebalanceDecision) {
	if o == nil || o.store == nil {
		return
	}
	if _, err := o.store.Insert(ctx, DecisionLogRecord{Decision: d}); err != nil {
		logger.Warnf("决策日志写入失败 position=%s trace=%s err=%v", d.PositionID, d.TraceID, err)
	}
}

// MarkApplied 在执行器返回后更新同一 trace 的执行结果。
func (s *DecisionLogStore) MarkApplied(ctx context.Context, traceID string, execErr error) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	applied := 1
	errText := ""
	if execErr != nil {
		applied = 0
		errText = execErr.Error()
	}
	_, err = db.ExecContext(ctx, `UPDATE rebalance_decisions SET applied = ?, error = ? WHERE trace_id = ?`, applied, errText, traceID)
	return err
}
