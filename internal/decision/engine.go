package decision

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"lpwatch/internal/logger"
	"lpwatch/internal/types"
)

// ErrInvalidPosition 是 Evaluate 唯一会返回的错误：辅助数据缺失只会降级。
var ErrInvalidPosition = errors.New("decision: invalid position")

const defaultCallTimeout = 5 * time.Second

var log = logger.Named("decision")

// PoolSource 提供池子信息与成交量统计。
type PoolSource interface {
	PoolInfo(ctx context.Context, poolID string) (types.PoolInfo, error)
	Volume(ctx context.Context, poolID string) (types.VolumeStats, error)
}

// PriceSource 提供原生币的参考价格（用于换算交易成本）。
type PriceSource interface {
	ReferencePrice(ctx context.Context) (float64, error)
}

// Observer 在每次决策后回调，便于外部记录。
type Observer interface {
	AfterDecide(ctx context.Context, d types.RebalanceDecision)
}

// 降级项与对应的置信度扣分。
const (
	DegradedPoolInfo = "pool_info"
	DegradedVolume   = "volume"
	DegradedAPR      = "apr_fallback"
	DegradedNoFees   = "no_fee_data"
	DegradedPrice    = "reference_price"
)

var confidencePenalty = map[string]int{
	DegradedPoolInfo: 10,
	DegradedVolume:   10,
	DegradedAPR:      10,
	DegradedNoFees:   30,
	DegradedPrice:    10,
}

type Engine struct {
	pools       PoolSource
	prices      PriceSource
	policy      Policy
	thresholds  Thresholds
	callTimeout time.Duration
	observer    Observer
	nowFn       func() time.Time
}

type Option func(*Engine)

func WithPolicy(p Policy) Option {
	return func(e *Engine) {
		if p != nil {
			e.policy = p
		}
	}
}

func WithThresholds(th Thresholds) Option {
	return func(e *Engine) { e.thresholds = th.WithDefaults() }
}

func WithCallTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.callTimeout = d
		}
	}
}

func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.nowFn = now
		}
	}
}

// NewEngine 的 pools/prices 均可为 nil，此时对应数据走降级路径。
func NewEngine(pools PoolSource, prices PriceSource, opts ...Option) *Engine {
	e := &Engine{
		pools:       pools,
		prices:      prices,
		policy:      AnalyzerPolicy{},
		thresholds:  DefaultThresholds(),
		callTimeout: defaultCallTimeout,
		nowFn:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Thresholds() Thresholds { return e.thresholds }

func (e *Engine) Policy() Policy { return e.policy }

// EvalOptions 为单次评估的可选参数。
type EvalOptions struct {
	// Policy 覆盖引擎默认策略。
	Policy Policy
	// VolumeRatio >0 时直接使用，不再读取成交量数据中的量比。
	VolumeRatio float64
	Trigger     string
}

// Evaluate 计算单个仓位的调仓决策。
func (e *Engine) Evaluate(ctx context.Context, pos *types.Position, opts EvalOptions) (types.RebalanceDecision, error) {
	if err := pos.Validate(); err != nil {
		return types.RebalanceDecision{}, fmt.Errorf("%w: %v", ErrInvalidPosition, err)
	}
	policy := opts.Policy
	if policy == nil {
		policy = e.policy
	}
	th := e.thresholds
	var degraded []string

	geo := ComputeGeometry(*pos)

	pool, err := e.fetchPool(ctx, pos.PoolID)
	if err != nil {
		log.Warnf("pool info 获取失败，降级 pool=%s err=%v", pos.PoolID, err)
		degraded = append(degraded, DegradedPoolInfo)
	}
	vol, err := e.fetchVolume(ctx, pos.PoolID)
	if err != nil {
		log.Warnf("volume 获取失败，量比按 1.0 处理 pool=%s err=%v", pos.PoolID, err)
		degraded = append(degraded, DegradedVolume)
	}

	volumeRatio := 1.0
	switch {
	case opts.VolumeRatio > 0:
		volumeRatio = opts.VolumeRatio
	case vol != nil && vol.VolumeRatio > 0:
		volumeRatio = vol.VolumeRatio
	}

	fees := EstimateFees(*pos, geo, pool, vol, th.ProjectedImprovement)
	switch fees.Method {
	case FeeMethodAPR:
		degraded = append(degraded, DegradedAPR)
	case FeeMethodNone:
		degraded = append(degraded, DegradedNoFees)
	}

	refPrice, err := e.fetchReferencePrice(ctx)
	if err != nil {
		log.Warnf("参考价格获取失败，使用 fallback=%.2f err=%v", th.FallbackReferencePrice, err)
		degraded = append(degraded, DegradedPrice)
		refPrice = th.FallbackReferencePrice
	}
	cost := RebalanceCostUSD(th.TxCount, th.FeePerTxNative, refPrice)
	breakEven := BreakEvenHours(cost, fees.Increase)

	in := Input{
		Position:    *pos,
		Geometry:    geo,
		Fees:        fees,
		CostUSD:     cost,
		BreakEven:   breakEven,
		VolumeRatio: volumeRatio,
		Thresholds:  th,
	}
	verdict := policy.Decide(in)

	confidence := 100
	for _, d := range degraded {
		confidence -= confidencePenalty[d]
	}
	if policy.Name() == PolicyAuto {
		confidence = int(math.Round((float64(confidence) + verdict.Score) / 2))
	}
	confidence = int(clamp(float64(confidence), 0, 100))

	out := types.RebalanceDecision{
		TraceID:            uuid.NewString(),
		PositionID:         pos.ID,
		PoolID:             pos.PoolID,
		Policy:             policy.Name(),
		Trigger:            opts.Trigger,
		ShouldRebalance:    verdict.ShouldRebalance,
		Priority:           ClassifyPriority(geo, th),
		Urgency:            verdict.Urgency,
		Confidence:         confidence,
		CurrentDailyFees:   fees.Current,
		ProjectedDailyFees: fees.Projected,
		DailyFeeIncrease:   fees.Increase,
		RebalanceCostUSD:   cost,
		BreakEvenHours:     breakEven,
		Score:              verdict.Score,
		Factors:            verdict.Factors,
		Recommendation:     verdict.Recommendation,
		Reason:             verdict.Reason,
		Geometry:           geo,
		Degraded:           degraded,
		EvaluatedAt:        e.nowFn().UTC(),
	}
	if e.observer != nil {
		e.observer.AfterDecide(ctx, out)
	}
	return out, nil
}

func (e *Engine) fetchPool(ctx context.Context, poolID string) (*types.PoolInfo, error) {
	if e.pools == nil {
		return nil, errors.New("no pool source")
	}
	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()
	info, err := e.pools.PoolInfo(callCtx, poolID)
	if err != nil {
		return nil, err
	}
	return &info, nil
}

func (e *Engine) fetchVolume(ctx context.Context, poolID string) (*types.VolumeStats, error) {
	if e.pools == nil {
		return nil, errors.New("no pool source")
	}
	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()
	stats, err := e.pools.Volume(callCtx, poolID)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

func (e *Engine) fetchReferencePrice(ctx context.Context) (float64, error) {
	if e.prices == nil {
		return 0, errors.New("no price source")
	}
	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()
	price, err := e.prices.ReferencePrice(callCtx)
	if err != nil {
		return 0, err
	}
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return 0, fmt.Errorf("invalid reference price %v", price)
	}
	return price, nil
}

// Summary 渲染单行文字摘要，供日志与通知使用。
func Summary(d types.RebalanceDecision) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s/%s] %s", d.PositionID, d.Urgency, d.Priority, d.Recommendation)
	fmt.Fprintf(&b, " | fees $%.2f→$%.2f/day, cost $%.4f, break-even %s", d.CurrentDailyFees, d.ProjectedDailyFees, d.RebalanceCostUSD, d.BreakEvenHours)
	if d.Score > 0 {
		fmt.Fprintf(&b, ", score %.0f", d.Score)
	}
	fmt.Fprintf(&b, ", confidence %d%%", d.Confidence)
	return b.String()
}
