package decision

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lpwatch/internal/types"
)

type fakePools struct {
	info    types.PoolInfo
	infoErr error
	vol     types.VolumeStats
	volErr  error
}

func (f fakePools) PoolInfo(ctx context.Context, poolID string) (types.PoolInfo, error) {
	return f.info, f.infoErr
}

func (f fakePools) Volume(ctx context.Context, poolID string) (types.VolumeStats, error) {
	return f.vol, f.volErr
}

type fakePrice struct {
	price float64
	err   error
}

func (f fakePrice) ReferencePrice(ctx context.Context) (float64, error) { return f.price, f.err }

type recordingObserver struct{ got []types.RebalanceDecision }

func (r *recordingObserver) AfterDecide(ctx context.Context, d types.RebalanceDecision) {
	r.got = append(r.got, d)
}

func position(active int) *types.Position {
	return &types.Position{ID: "pos-1", PoolID: "pool-1", LowerBin: -20, UpperBin: 20, ActiveBin: active, ValueUSD: 10000}
}

// aprPools 仅提供 APR，成交量接口失败，走 APR 降级路径。
func aprPools(apr float64) fakePools {
	return fakePools{info: types.PoolInfo{PoolID: "pool-1", APR: apr}, volErr: errors.New("volume api down")}
}

func newTestEngine(pools PoolSource, opts ...Option) *Engine {
	opts = append([]Option{WithClock(func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) })}, opts...)
	return NewEngine(pools, fakePrice{price: 150}, opts...)
}

func TestPriorityScenarios(t *testing.T) {
	th := DefaultThresholds()
	cases := []struct {
		name   string
		active int
		want   types.Urgency
	}{
		{"out of range", 35, types.UrgencyCritical},
		{"edge distance 4", 16, types.UrgencyHigh},
		{"center drift 12", 12, types.UrgencyMedium},
		{"center drift 8", 8, types.UrgencyLow},
		{"centered", 0, types.UrgencyNone},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			geo := ComputeGeometry(*position(tc.active))
			assert.Equal(t, tc.want, ClassifyPriority(geo, th))
		})
	}
}

func TestCoarseLowEdgeVariant(t *testing.T) {
	th := DefaultThresholds()
	geo := types.Geometry{InRange: true, EdgeDistance: 14, CenterDrift: 3, ActiveBinShare: 1}
	assert.Equal(t, types.UrgencyNone, ClassifyPriority(geo, th))
	th.CoarseLowEdge = true
	assert.Equal(t, types.UrgencyLow, ClassifyPriority(geo, th))
}

func TestGeometry(t *testing.T) {
	out := ComputeGeometry(*position(35))
	assert.False(t, out.InRange)
	assert.Zero(t, out.EdgeDistance)
	assert.Equal(t, 35.0, out.CenterDrift)
	assert.Equal(t, 41, out.TotalBins)

	pos := types.Position{ID: "p", PoolID: "x", LowerBin: 0, UpperBin: 3, ActiveBin: 1, InRange: false}
	pos.Bins = []types.BinLiquidity{{BinID: 0, Liquidity: 0}, {BinID: 1, Liquidity: 10}, {BinID: 2, Liquidity: 10}, {BinID: 3, Liquidity: 0}, {BinID: 9, Liquidity: 99}}
	geo := ComputeGeometry(pos)
	// InRange 由边界重算
	assert.True(t, geo.InRange)
	assert.Equal(t, 1, geo.EdgeDistance)
	assert.InDelta(t, 0.5, geo.ActiveBinShare, 1e-9)
	assert.InDelta(t, 0.5, geo.Concentration, 1e-9)
}

func TestOutOfRangeIsCriticalWithZeroFees(t *testing.T) {
	e := newTestEngine(aprPools(0.365))
	d, err := e.Evaluate(context.Background(), position(35), EvalOptions{})
	require.NoError(t, err)
	assert.Equal(t, types.UrgencyCritical, d.Priority)
	assert.Equal(t, types.UrgencyCritical, d.Urgency)
	assert.True(t, d.ShouldRebalance)
	assert.Contains(t, d.Recommendation, "IMMEDIATELY")
	assert.Zero(t, d.CurrentDailyFees)
	assert.InDelta(t, 10.0, d.ProjectedDailyFees, 1e-9)
}

func TestFiftySixPercentShareProjectsImprovement(t *testing.T) {
	pos := position(0)
	for b := -20; b <= 20; b++ {
		liq := 0.0
		if b >= -11 && b <= 11 {
			liq = 100
		}
		pos.Bins = append(pos.Bins, types.BinLiquidity{BinID: b, Liquidity: liq})
	}
	geo := ComputeGeometry(*pos)
	assert.InDelta(t, 23.0/41.0, geo.ActiveBinShare, 1e-9)

	e := newTestEngine(aprPools(0.365))
	d, err := e.Evaluate(context.Background(), pos, EvalOptions{})
	require.NoError(t, err)
	assert.InDelta(t, 10.0, d.CurrentDailyFees, 1e-9)
	assert.Greater(t, d.ProjectedDailyFees, 10.0)
	assert.Greater(t, d.DailyFeeIncrease, 0.0)
}

func TestBreakEvenBeyondOneYearNeverRebalances(t *testing.T) {
	pos := position(16)
	pos.ValueUSD = 10
	e := newTestEngine(aprPools(0.01))
	d, err := e.Evaluate(context.Background(), pos, EvalOptions{})
	require.NoError(t, err)
	assert.Greater(t, float64(d.BreakEvenHours), 8760.0)
	assert.False(t, d.ShouldRebalance)
	assert.Equal(t, types.UrgencyHigh, d.Priority)
	assert.Equal(t, types.UrgencyLow, d.Urgency)
	assert.Equal(t, "HOLD", d.Recommendation)
}

func TestNoFeeDataMeansInfiniteBreakEven(t *testing.T) {
	e := newTestEngine(fakePools{infoErr: errors.New("down"), volErr: errors.New("down")})
	d, err := e.Evaluate(context.Background(), position(12), EvalOptions{})
	require.NoError(t, err)
	assert.True(t, d.BreakEvenHours.Infinite())
	assert.False(t, d.ShouldRebalance)
	assert.NotEqual(t, types.UrgencyCritical, d.Urgency)
	assert.ElementsMatch(t, []string{DegradedPoolInfo, DegradedVolume, DegradedNoFees}, d.Degraded)
	assert.Equal(t, 50, d.Confidence)
}

func TestAnalyzerRecommendationTable(t *testing.T) {
	// 成本固定为 2 * 0.00025 * 150 = 0.075；APR 0.365 时日收益 = value/1000
	cases := []struct {
		name       string
		active     int
		value      float64
		wantRec    string
		wantShould bool
	}{
		{"high fast payback", 16, 10000, "REBALANCE", true},
		{"high slow payback", 16, 60, "CONSIDER REBALANCING", false},
		{"medium fast payback", 12, 10000, "REBALANCE", true},
		{"medium optional", 12, 120, "OPTIONAL", false},
		{"hold beyond 30 days", 16, 12, "HOLD", false},
		{"low always holds", 8, 10000, "HOLD", false},
		{"none always holds", 0, 10000, "HOLD", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pos := position(tc.active)
			pos.ValueUSD = tc.value
			e := newTestEngine(aprPools(0.365))
			d, err := e.Evaluate(context.Background(), pos, EvalOptions{})
			require.NoError(t, err)
			assert.Equal(t, tc.wantRec, d.Recommendation)
			assert.Equal(t, tc.wantShould, d.ShouldRebalance)
			assert.Equal(t, d.Priority, d.Urgency)
		})
	}
}

func TestShareBasedFeesPreferredOverAPR(t *testing.T) {
	pools := fakePools{
		info: types.PoolInfo{APR: 5},
		vol:  types.VolumeStats{TotalLiquidity: 1_000_000, Fees24h: 2_000, VolumeRatio: 1.3},
	}
	e := newTestEngine(pools)
	d, err := e.Evaluate(context.Background(), position(3), EvalOptions{})
	require.NoError(t, err)
	assert.InDelta(t, 20.0, d.CurrentDailyFees, 1e-9)
	assert.Empty(t, d.Degraded)
	assert.Equal(t, 100, d.Confidence)
}

func TestInvalidPositionIsTheOnlyError(t *testing.T) {
	e := newTestEngine(nil)
	_, err := e.Evaluate(context.Background(), nil, EvalOptions{})
	assert.ErrorIs(t, err, ErrInvalidPosition)
	_, err = e.Evaluate(context.Background(), &types.Position{ID: "x", PoolID: "p", LowerBin: 3, UpperBin: 1}, EvalOptions{})
	assert.ErrorIs(t, err, ErrInvalidPosition)

	// 没有任何数据源也能给出决策
	d, err := NewEngine(nil, nil).Evaluate(context.Background(), position(0), EvalOptions{})
	require.NoError(t, err)
	assert.Contains(t, d.Degraded, DegradedPrice)
	assert.InDelta(t, 0.075, d.RebalanceCostUSD, 1e-12)
}

func TestEngineObserverAndPolicyOverride(t *testing.T) {
	obs := &recordingObserver{}
	e := newTestEngine(aprPools(0.365), WithObserver(obs))
	d, err := e.Evaluate(context.Background(), position(35), EvalOptions{Policy: AutoScorePolicy{}, VolumeRatio: 1.6, Trigger: "test"})
	require.NoError(t, err)
	require.Len(t, obs.got, 1)
	assert.Equal(t, d.TraceID, obs.got[0].TraceID)
	assert.Equal(t, PolicyAuto, d.Policy)
	assert.Equal(t, "test", d.Trigger)
	assert.Len(t, d.Factors, 3)
	assert.Equal(t, types.UrgencyCritical, d.Priority)
}

func TestPolicyByName(t *testing.T) {
	p, err := PolicyByName("")
	require.NoError(t, err)
	assert.Equal(t, PolicyAnalyzer, p.Name())
	p, err = PolicyByName("AUTO")
	require.NoError(t, err)
	assert.Equal(t, PolicyAuto, p.Name())
	_, err = PolicyByName("yolo")
	assert.Error(t, err)
}

func autoInput(geo types.Geometry, volumeRatio, opportunity float64) Input {
	const cost = 0.075
	increase := opportunity * cost / 7
	return Input{
		Geometry:    geo,
		Fees:        FeeEstimate{Increase: increase},
		CostUSD:     cost,
		BreakEven:   BreakEvenHours(cost, increase),
		VolumeRatio: volumeRatio,
		Thresholds:  DefaultThresholds(),
	}
}

func TestAutoScorePolicy(t *testing.T) {
	outOfRange := types.Geometry{InRange: false, ActiveBinShare: 1}
	nearEdge := types.Geometry{InRange: true, EdgeDistance: 2, ActiveBinShare: 1}
	centered := types.Geometry{InRange: true, EdgeDistance: 20, ActiveBinShare: 1}

	v := AutoScorePolicy{}.Decide(autoInput(outOfRange, 1.6, 140))
	assert.Equal(t, 75.0, v.Score)
	assert.Equal(t, types.UrgencyHigh, v.Urgency)
	assert.True(t, v.ShouldRebalance)

	v = AutoScorePolicy{}.Decide(autoInput(outOfRange, 1.0, 0.4))
	assert.Equal(t, 25.0, v.Score)
	assert.Equal(t, types.UrgencyCritical, v.Urgency)
	assert.False(t, v.ShouldRebalance)
	assert.Equal(t, "WAIT", v.Recommendation)

	v = AutoScorePolicy{}.Decide(autoInput(nearEdge, 0.8, 4))
	assert.Equal(t, 45.0, v.Score)
	assert.Equal(t, types.UrgencyMedium, v.Urgency)
	assert.True(t, v.ShouldRebalance)

	// 同样得分但回本超过 48 小时
	v = AutoScorePolicy{}.Decide(autoInput(nearEdge, 1.0, 2.5))
	assert.Equal(t, 45.0, v.Score)
	assert.Equal(t, types.UrgencyNone, v.Urgency)
	assert.False(t, v.ShouldRebalance)

	v = AutoScorePolicy{}.Decide(autoInput(centered, 0.5, 0))
	assert.Zero(t, v.Score)
	assert.Equal(t, types.UrgencyNone, v.Urgency)
}

func TestCostAndBreakEven(t *testing.T) {
	assert.InDelta(t, 0.075, RebalanceCostUSD(2, 0.00025, 150), 1e-12)
	assert.Zero(t, RebalanceCostUSD(2, 0.00025, 0))
	assert.InDelta(t, 1.2, float64(BreakEvenHours(0.075, 1.5)), 1e-9)
	assert.True(t, BreakEvenHours(0.075, 0).Infinite())
	assert.True(t, BreakEvenHours(0.075, -1).Infinite())
	assert.Zero(t, float64(BreakEvenHours(0, 1)))
	assert.InDelta(t, 140.0, OpportunityRatio(1.5, 0.075), 1e-9)
}

func TestThresholdsWithDefaults(t *testing.T) {
	th := Thresholds{HighEdge: 7}.WithDefaults()
	assert.Equal(t, 7, th.HighEdge)
	assert.Equal(t, 10, th.MediumEdge)
	assert.Equal(t, 2, th.TxCount)
}
