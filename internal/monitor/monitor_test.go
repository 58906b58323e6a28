package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"lpwatch/internal/decision"
	"lpwatch/internal/scheduler"
	"lpwatch/internal/snapshot"
	"lpwatch/internal/store"
	"lpwatch/internal/types"
)

var t0 = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

const wallet = "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"

func fixedNow() time.Time { return t0 }

type MockPositions struct {
	mock.Mock
}

func (m *MockPositions) Positions(ctx context.Context, owner string) ([]types.Position, error) {
	args := m.Called(ctx, owner)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.Position), args.Error(1)
}

type MockPools struct {
	mock.Mock
}

func (m *MockPools) PoolInfo(ctx context.Context, poolID string) (types.PoolInfo, error) {
	args := m.Called(ctx, poolID)
	return args.Get(0).(types.PoolInfo), args.Error(1)
}

func (m *MockPools) Volume(ctx context.Context, poolID string) (types.VolumeStats, error) {
	args := m.Called(ctx, poolID)
	return args.Get(0).(types.VolumeStats), args.Error(1)
}

type MockExecutor struct {
	mock.Mock
}

func (m *MockExecutor) ExecuteRebalance(ctx context.Context, pos types.Position, opts types.RebalanceOptions) (types.RebalanceResult, error) {
	args := m.Called(ctx, pos, opts)
	return args.Get(0).(types.RebalanceResult), args.Error(1)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, n types.Notification) {
	m.Called(ctx, n)
}

type recordingDecisions struct {
	mu      sync.Mutex
	applied map[string]error
	cutoffs []time.Time
}

func (r *recordingDecisions) MarkApplied(_ context.Context, traceID string, execErr error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.applied == nil {
		r.applied = make(map[string]error)
	}
	r.applied[traceID] = execErr
	return nil
}

func (r *recordingDecisions) Prune(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cutoffs = append(r.cutoffs, before)
	return 0, nil
}

type triggerObserver struct {
	mu       sync.Mutex
	triggers []string
}

func (o *triggerObserver) AfterDecide(_ context.Context, d types.RebalanceDecision) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.triggers = append(o.triggers, d.Trigger)
}

func (o *triggerObserver) get() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.triggers...)
}

type fixture struct {
	positions *MockPositions
	pools     *MockPools
	executor  *MockExecutor
	notifier  *MockNotifier
	history   *store.MemoryHistoryLog
	decisions *recordingDecisions
	observer  *triggerObserver
	snapshots *snapshot.Store
	svc       *Service
}

func newFixture(t *testing.T, withExecutor bool, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		positions: new(MockPositions),
		pools:     new(MockPools),
		executor:  new(MockExecutor),
		notifier:  new(MockNotifier),
		history:   store.NewMemoryHistoryLog(),
		decisions: &recordingDecisions{},
		observer:  &triggerObserver{},
	}
	f.pools.On("PoolInfo", mock.Anything, "pool-1").Return(types.PoolInfo{PoolID: "pool-1", Price: 150, ActiveBin: 0, APR: 0.5}, nil).Maybe()
	f.snapshots = snapshot.New(store.NewMemorySnapshotLog(), snapshot.WithClock(fixedNow))
	engine := decision.NewEngine(f.pools, nil, decision.WithClock(fixedNow), decision.WithObserver(f.observer))
	deps := Deps{
		Positions: f.positions,
		Pools:     f.pools,
		Snapshots: f.snapshots,
		Engine:    engine,
		Notifier:  f.notifier,
		History:   f.history,
		Decisions: f.decisions,
	}
	if withExecutor {
		deps.Executor = f.executor
	}
	svc, err := NewService(deps, append([]Option{WithClock(fixedNow)}, opts...)...)
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *fixture) volume(ratio float64) {
	f.pools.On("Volume", mock.Anything, "pool-1").Return(types.VolumeStats{PoolID: "pool-1", Volume24h: 1000, VolumeRatio: ratio, Fees24h: 30}, nil).Maybe()
}

func pos(id string, active int) types.Position {
	return types.Position{ID: id, PoolID: "pool-1", LowerBin: -20, UpperBin: 20, ActiveBin: active, ValueUSD: 5000}
}

func lastRun(t *testing.T, svc *Service, job string) JobStatus {
	t.Helper()
	for _, st := range svc.LastRuns() {
		if st.Job == job {
			return st
		}
	}
	t.Fatalf("no status for job %s", job)
	return JobStatus{}
}

func alertWith(trigger string, sev types.Severity) interface{} {
	return mock.MatchedBy(func(n types.Notification) bool {
		return n.Kind == KindRebalanceAlert && n.Severity == sev && n.Metadata["trigger"] == trigger
	})
}

func TestNewServiceRequiresEngine(t *testing.T) {
	_, err := NewService(Deps{})
	assert.Error(t, err)
}

func TestUrgencyCheckEscalatesOutOfRangeAndEdge(t *testing.T) {
	f := newFixture(t, false)
	f.volume(1.0)
	f.svc.SetConfig(types.MonitoringConfig{Owner: wallet, Cadences: types.AllCadences()})
	f.positions.On("Positions", mock.Anything, wallet).Return([]types.Position{
		pos("out", 35),
		pos("edge", 18),
		pos("warn", 13),
		pos("center", 0),
	}, nil)
	f.notifier.On("Notify", mock.Anything, alertWith(TriggerOutOfRange, types.SeverityCritical)).Once()
	f.notifier.On("Notify", mock.Anything, alertWith(TriggerEdgeCritical, types.SeverityWarning)).Once()

	require.NoError(t, f.svc.UrgencyCheck(context.Background()))

	st := lastRun(t, f.svc, JobUrgencyCheck)
	assert.Equal(t, 4, st.Positions)
	assert.Equal(t, 2, st.Escalated)
	assert.Zero(t, st.Failed)
	assert.ElementsMatch(t, []string{TriggerOutOfRange, TriggerEdgeCritical}, f.observer.get())
	f.notifier.AssertExpectations(t)
	f.executor.AssertNotCalled(t, "ExecuteRebalance", mock.Anything, mock.Anything, mock.Anything)
}

func TestUrgencyCheckVolumeSpike(t *testing.T) {
	f := newFixture(t, false)
	f.volume(2.4)
	f.svc.SetConfig(types.MonitoringConfig{Owner: wallet})
	f.positions.On("Positions", mock.Anything, wallet).Return([]types.Position{pos("center", 0)}, nil)

	require.NoError(t, f.svc.UrgencyCheck(context.Background()))

	assert.Equal(t, []string{TriggerVolumeSpike}, f.observer.get())
	// 居中仓位分析结果为 HOLD，不发通知
	f.notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything)
}

func TestUrgencyCheckSkipsWithoutOwner(t *testing.T) {
	f := newFixture(t, false)
	f.svc.SetConfig(types.MonitoringConfig{Cadences: types.AllCadences()})

	require.NoError(t, f.svc.UrgencyCheck(context.Background()))

	assert.True(t, lastRun(t, f.svc, JobUrgencyCheck).Skipped)
	f.positions.AssertNotCalled(t, "Positions", mock.Anything, mock.Anything)
}

func TestPositionFilterAndFetchError(t *testing.T) {
	f := newFixture(t, false)
	f.svc.SetConfig(types.MonitoringConfig{Owner: wallet, Positions: []string{"center"}})
	f.positions.On("Positions", mock.Anything, wallet).Return(nil, errors.New("rpc down")).Once()
	err := f.svc.UrgencyCheck(context.Background())
	require.Error(t, err)
	assert.Contains(t, lastRun(t, f.svc, JobUrgencyCheck).Error, "rpc down")

	f.volume(1.0)
	f.positions.On("Positions", mock.Anything, wallet).Return([]types.Position{pos("out", 40), pos("center", 0)}, nil)
	require.NoError(t, f.svc.UrgencyCheck(context.Background()))
	st := lastRun(t, f.svc, JobUrgencyCheck)
	assert.Equal(t, 1, st.Positions)
	assert.Zero(t, st.Escalated)
}

func TestOnePositionFailureDoesNotStopOthers(t *testing.T) {
	f := newFixture(t, false)
	f.volume(1.0)
	f.svc.SetConfig(types.MonitoringConfig{Owner: wallet})
	broken := pos("broken", 50)
	broken.PoolID = ""
	f.positions.On("Positions", mock.Anything, wallet).Return([]types.Position{broken, pos("out", 35)}, nil)
	f.notifier.On("Notify", mock.Anything, alertWith(TriggerOutOfRange, types.SeverityCritical)).Once()

	require.NoError(t, f.svc.UrgencyCheck(context.Background()))

	st := lastRun(t, f.svc, JobUrgencyCheck)
	assert.Equal(t, 1, st.Failed)
	assert.Equal(t, 2, st.Escalated)
	f.notifier.AssertExpectations(t)
}

func TestAutoApplyRecordsHistoryAndSnapshot(t *testing.T) {
	f := newFixture(t, true)
	f.volume(1.0)
	f.svc.SetConfig(types.MonitoringConfig{Owner: wallet, AutoApply: true})
	f.positions.On("Positions", mock.Anything, wallet).Return([]types.Position{pos("out", 35)}, nil)
	f.executor.On("ExecuteRebalance", mock.Anything, mock.MatchedBy(func(p types.Position) bool { return p.ID == "out" }),
		mock.MatchedBy(func(o types.RebalanceOptions) bool {
			return o.ReasonCode == types.ReasonOutOfRange && o.BinsPerSide == 10 && o.SlippageBps == 100 && o.Strategy == "spot"
		})).Return(types.RebalanceResult{
		Success:            true,
		NewPositionID:      "new",
		NewLower:           25,
		NewUpper:           45,
		FeesClaimedUSD:     3.5,
		TransactionCostUSD: 0.075,
		Signatures:         []string{"sig1", "sig2"},
	}, nil).Once()
	f.notifier.On("Notify", mock.Anything, alertWith(TriggerOutOfRange, types.SeverityCritical)).Once()
	f.notifier.On("Notify", mock.Anything, mock.MatchedBy(func(n types.Notification) bool {
		return n.Kind == KindRebalanceResult
	})).Once()

	require.NoError(t, f.svc.UrgencyCheck(context.Background()))

	entries, err := f.history.List(context.Background(), store.HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, "out", e.OldPositionID)
	assert.Equal(t, "new", e.NewPositionID)
	assert.Equal(t, types.ReasonOutOfRange, e.Reason)
	assert.Equal(t, -20, e.OldLower)
	assert.Equal(t, 45, e.NewUpper)
	assert.Equal(t, t0, e.Timestamp)
	assert.NotEmpty(t, e.ID)

	snaps := f.snapshots.Load(context.Background(), store.KindPortfolio, "new", 0)
	require.Len(t, snaps, 1)
	assert.InDelta(t, 3.5, snaps[0].FeesUSD, 1e-9)

	require.Len(t, f.decisions.applied, 1)
	for _, execErr := range f.decisions.applied {
		assert.NoError(t, execErr)
	}
	f.executor.AssertExpectations(t)
	f.notifier.AssertExpectations(t)
}

func TestAutoApplyFailureNotifiesAndSkipsHistory(t *testing.T) {
	f := newFixture(t, true)
	f.volume(1.0)
	f.svc.SetConfig(types.MonitoringConfig{Owner: wallet, AutoApply: true})
	f.positions.On("Positions", mock.Anything, wallet).Return([]types.Position{pos("out", 35)}, nil)
	f.executor.On("ExecuteRebalance", mock.Anything, mock.Anything, mock.Anything).
		Return(types.RebalanceResult{}, errors.New("slippage exceeded")).Once()
	f.notifier.On("Notify", mock.Anything, alertWith(TriggerOutOfRange, types.SeverityCritical)).Once()
	f.notifier.On("Notify", mock.Anything, mock.MatchedBy(func(n types.Notification) bool {
		return n.Kind == KindRebalanceFailed && n.Severity == types.SeverityCritical
	})).Once()

	require.NoError(t, f.svc.UrgencyCheck(context.Background()))

	assert.Equal(t, 1, lastRun(t, f.svc, JobUrgencyCheck).Failed)
	entries, err := f.history.List(context.Background(), store.HistoryFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)
	for _, execErr := range f.decisions.applied {
		assert.EqualError(t, execErr, "slippage exceeded")
	}
	f.notifier.AssertExpectations(t)
}

func TestSessionReview(t *testing.T) {
	f := newFixture(t, false)
	f.volume(1.0)
	f.svc.SetConfig(types.MonitoringConfig{Owner: wallet})
	fresh := pos("fresh", 0)
	fresh.LastRebalancedAt = t0.Add(-2 * time.Hour)
	stale := pos("stale", 0)
	stale.LastRebalancedAt = t0.Add(-20 * time.Hour)
	f.positions.On("Positions", mock.Anything, wallet).Return([]types.Position{pos("near", 12), fresh, stale}, nil)
	f.notifier.On("Notify", mock.Anything, mock.Anything).Maybe()

	// 成交量加速：前半段 100，后半段 400
	for i := 0; i < 8; i++ {
		vol := 100.0
		if i >= 4 {
			vol = 400
		}
		f.snapshots.Record(context.Background(), store.KindIntraday, types.Snapshot{
			PoolID:    "pool-1",
			Timestamp: t0.Add(-time.Duration(8-i) * time.Hour),
			Price:     150,
			Volume24h: vol,
		})
	}

	require.NoError(t, f.svc.SessionReview(context.Background()))

	st := lastRun(t, f.svc, JobSessionReview)
	assert.Equal(t, 2, st.Escalated)
	assert.Equal(t, []string{TriggerSession, TriggerSession}, f.observer.get())
}

func TestSinceLastRebalanceFallsBackToHistory(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	p := pos("p", 0)
	assert.Equal(t, time.Duration(1<<63-1), f.svc.sinceLastRebalance(ctx, p))

	require.NoError(t, f.history.Append(ctx, types.RebalanceHistoryEntry{ID: "h1", Timestamp: t0.Add(-3 * time.Hour), OldPositionID: "old", NewPositionID: "p"}))
	assert.Equal(t, 3*time.Hour, f.svc.sinceLastRebalance(ctx, p))
}

func TestHourlySnapshotsRecordsConfiguredPools(t *testing.T) {
	f := newFixture(t, false)
	f.volume(1.3)
	f.svc.SetConfig(types.MonitoringConfig{Pools: []string{"pool-1"}})

	require.NoError(t, f.svc.HourlySnapshots(context.Background()))

	snaps := f.snapshots.Load(context.Background(), store.KindIntraday, "pool-1", 0)
	require.Len(t, snaps, 1)
	assert.Equal(t, 150.0, snaps[0].Price)
	assert.Equal(t, 1.3, snaps[0].VolumeRatio)
	assert.Equal(t, 1000.0, snaps[0].Volume24h)
	assert.False(t, lastRun(t, f.svc, JobHourlySnapshots).Skipped)

	f.svc.SetConfig(types.MonitoringConfig{})
	require.NoError(t, f.svc.HourlySnapshots(context.Background()))
	assert.True(t, lastRun(t, f.svc, JobHourlySnapshots).Skipped)
}

func TestHourlySnapshotsContinuesPastFailingPool(t *testing.T) {
	f := newFixture(t, false)
	f.volume(1.0)
	f.pools.On("PoolInfo", mock.Anything, "pool-2").Return(types.PoolInfo{}, errors.New("pool gone"))
	f.svc.SetConfig(types.MonitoringConfig{Pools: []string{"pool-2", "pool-1"}})

	require.NoError(t, f.svc.HourlySnapshots(context.Background()))

	st := lastRun(t, f.svc, JobHourlySnapshots)
	assert.Equal(t, 1, st.Failed)
	assert.False(t, st.Skipped)
	assert.Len(t, f.snapshots.Load(context.Background(), store.KindIntraday, "pool-1", 0), 1)
	assert.Empty(t, f.snapshots.Load(context.Background(), store.KindIntraday, "pool-2", 0))
	f.pools.AssertNotCalled(t, "Volume", mock.Anything, "pool-2")
}

func TestConcurrentPositionsIsolateFailures(t *testing.T) {
	f := newFixture(t, false, WithSettings(Settings{Concurrency: 4}))
	require.Equal(t, 4, f.svc.Settings().Concurrency)
	f.volume(1.0)
	f.svc.SetConfig(types.MonitoringConfig{Owner: wallet})
	broken := pos("broken", 50)
	broken.PoolID = ""
	f.positions.On("Positions", mock.Anything, wallet).Return([]types.Position{
		pos("out-1", 35), broken, pos("out-2", 36), pos("out-3", 40),
	}, nil)
	f.notifier.On("Notify", mock.Anything, alertWith(TriggerOutOfRange, types.SeverityCritical)).Times(3)

	require.NoError(t, f.svc.UrgencyCheck(context.Background()))

	st := lastRun(t, f.svc, JobUrgencyCheck)
	assert.Equal(t, 4, st.Positions)
	assert.Equal(t, 4, st.Escalated)
	assert.Equal(t, 1, st.Failed)
	assert.Len(t, f.observer.get(), 3)
	f.notifier.AssertExpectations(t)
}

func TestDailyReviewSnapshotsSummaryAndMaintenance(t *testing.T) {
	f := newFixture(t, false)
	f.volume(1.0)
	f.svc.SetConfig(types.MonitoringConfig{Owner: wallet})
	f.positions.On("Positions", mock.Anything, wallet).Return([]types.Position{pos("a", 0), pos("b", 1)}, nil)
	f.notifier.On("Notify", mock.Anything, mock.MatchedBy(func(n types.Notification) bool {
		return n.Kind == KindDailySummary
	})).Once()

	require.NoError(t, f.svc.DailyReview(context.Background()))

	st := lastRun(t, f.svc, JobDailyReview)
	assert.Equal(t, 2, st.Escalated)
	assert.Len(t, f.snapshots.Load(context.Background(), store.KindPortfolio, "a", 0), 1)
	assert.Len(t, f.snapshots.Load(context.Background(), store.KindPortfolio, "b", 0), 1)
	require.Len(t, f.decisions.cutoffs, 1)
	assert.Equal(t, t0.Add(-30*24*time.Hour), f.decisions.cutoffs[0])
	f.notifier.AssertExpectations(t)
}

func TestAnalyze(t *testing.T) {
	f := newFixture(t, false)
	f.volume(1.0)
	f.svc.SetConfig(types.MonitoringConfig{Owner: wallet, Positions: []string{"other"}})
	f.positions.On("Positions", mock.Anything, wallet).Return([]types.Position{pos("out", 35)}, nil)

	d, err := f.svc.Analyze(context.Background(), "out", "auto")
	require.NoError(t, err)
	assert.Equal(t, TriggerManual, d.Trigger)
	assert.Equal(t, decision.PolicyAuto, d.Policy)
	assert.True(t, d.ShouldRebalance)

	_, err = f.svc.Analyze(context.Background(), "missing", "")
	assert.ErrorIs(t, err, ErrPositionNotFound)

	_, err = f.svc.Analyze(context.Background(), "out", "martingale")
	assert.Error(t, err)
	f.notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything)
}

func TestManagerReplaceSupersedes(t *testing.T) {
	f := newFixture(t, false)
	f.volume(1.0)
	f.positions.On("Positions", mock.Anything, wallet).Return([]types.Position{pos("center", 0)}, nil)
	clock := scheduler.NewFakeClock(t0)
	m := NewManager(f.svc, scheduler.New(scheduler.WithClock(clock)), DefaultCadences())

	require.NoError(t, m.Start(context.Background(), types.MonitoringConfig{Owner: wallet, Cadences: types.Cadences{ThirtyMin: true}}))
	assert.Equal(t, []string{JobUrgencyCheck}, m.Running())
	assert.Equal(t, int64(1), m.Current().Version)

	clock.Advance(0)
	assert.Equal(t, 1, lastRun(t, f.svc, JobUrgencyCheck).Positions)

	require.NoError(t, m.Replace(types.MonitoringConfig{Owner: wallet, Cadences: types.Cadences{Hourly: true, Daily: true}}))
	assert.ElementsMatch(t, []string{JobHourlySnapshots, JobDailyReview}, m.Running())
	assert.Equal(t, int64(2), m.Current().Version)

	require.NoError(t, m.Replace(types.MonitoringConfig{Owner: wallet}))
	assert.Empty(t, m.Running())
	assert.Zero(t, clock.Pending())

	assert.Error(t, m.Replace(types.MonitoringConfig{Policy: "unknown"}))
	assert.Equal(t, int64(3), m.Current().Version)

	require.NoError(t, m.Stop(context.Background()))
}

func TestManagerReplaceRejectsBadOwnerAndKeepsJobs(t *testing.T) {
	f := newFixture(t, false)
	clock := scheduler.NewFakeClock(t0)
	m := NewManager(f.svc, scheduler.New(scheduler.WithClock(clock)), DefaultCadences())
	require.NoError(t, m.Start(context.Background(), types.MonitoringConfig{Owner: wallet, Cadences: types.AllCadences()}))
	require.Len(t, m.Running(), 4)

	err := m.Replace(types.MonitoringConfig{Owner: "not-a-pubkey!!"})
	require.Error(t, err)
	assert.Len(t, m.Running(), 4)
	assert.Equal(t, wallet, m.Current().Owner)
	assert.Equal(t, int64(1), m.Current().Version)

	require.NoError(t, m.Stop(context.Background()))
}

func TestManagerReplaceInvalidCadenceKeepsPrevious(t *testing.T) {
	f := newFixture(t, false)
	clock := scheduler.NewFakeClock(t0)
	cadences := DefaultCadences()
	cadences.Daily = scheduler.Cadence{Name: "daily"}
	m := NewManager(f.svc, scheduler.New(scheduler.WithClock(clock)), cadences)
	require.NoError(t, m.Start(context.Background(), types.MonitoringConfig{Owner: wallet, Cadences: types.Cadences{ThirtyMin: true}}))

	err := m.Replace(types.MonitoringConfig{Owner: wallet, Policy: "auto", Cadences: types.Cadences{Daily: true}})
	require.Error(t, err)
	assert.Equal(t, []string{JobUrgencyCheck}, m.Running())
	assert.Equal(t, int64(1), m.Current().Version)
	assert.Empty(t, m.Current().Policy)

	require.NoError(t, m.Stop(context.Background()))
}
