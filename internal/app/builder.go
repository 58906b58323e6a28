package app

import (
	"context"
	"fmt"
	"strings"

	brcfg "lpwatch/internal/config"
	cfgloader "lpwatch/internal/config/loader"
	"lpwatch/internal/decision"
	"lpwatch/internal/logger"
	"lpwatch/internal/monitor"
	"lpwatch/internal/scheduler"
	"lpwatch/internal/snapshot"
	"lpwatch/internal/store/decisionlog"
	livehttp "lpwatch/internal/transport/http/live"
)

type AppBuilder struct {
	cfg *brcfg.Config

	storageFn    func(brcfg.StorageConfig) (*StorageStack, error)
	gatewayFn    func(context.Context, *brcfg.Config) (*GatewayStack, error)
	monitoringFn func(string) (*cfgloader.MonitoringLoader, error)
	liveHTTPFn   func(brcfg.AppConfig, livehttp.ServerConfig) (*livehttp.Server, error)
	schedOpts    []scheduler.Option
}

type AppBuilderOption func(*AppBuilder)

func NewAppBuilder(cfg *brcfg.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:          cfg,
		storageFn:    buildStorageStack,
		gatewayFn:    buildGatewayStack,
		monitoringFn: loadMonitoring,
		liveHTTPFn:   buildLiveHTTPServer,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func loadMonitoring(path string) (*cfgloader.MonitoringLoader, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	l, err := cfgloader.NewMonitoringLoader(path)
	if err != nil {
		return nil, fmt.Errorf("加载 monitoring 配置失败: %w", err)
	}
	return l, nil
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	monLoader, err := b.monitoringFn(cfg.Monitor.File)
	if err != nil {
		return nil, err
	}

	stores, err := b.storageFn(cfg.Storage)
	if err != nil {
		return nil, err
	}
	success := false
	defer func() {
		if !success {
			_ = stores.Close()
		}
	}()

	gateways, err := b.gatewayFn(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer func() {
		if !success {
			_ = gateways.Close()
		}
	}()

	dispatcher := buildNotifier(cfg.Notify)

	snapshots := snapshot.New(stores.Snapshots, snapshot.WithRetention(snapshot.Retention{
		Intraday:  cfg.Storage.IntradayRetention(),
		Portfolio: cfg.Storage.PortfolioRetention(),
	}))

	policy, err := decision.PolicyByName(cfg.Decision.Policy)
	if err != nil {
		return nil, err
	}
	engineOpts := []decision.Option{
		decision.WithPolicy(policy),
		decision.WithThresholds(cfg.Decision.Thresholds),
		decision.WithCallTimeout(cfg.Decision.CallTimeout()),
	}
	if stores.Decisions != nil {
		engineOpts = append(engineOpts, decision.WithObserver(decisionlog.NewDecisionLogObserver(stores.Decisions)))
	}
	engine := decision.NewEngine(gateways.DLMM, gateways.PriceSource(), engineOpts...)

	deps := monitor.Deps{
		Positions: gateways.DLMM,
		Pools:     gateways.DLMM,
		Snapshots: snapshots,
		Engine:    engine,
		Notifier:  dispatcher,
		History:   stores.History,
	}
	if gateways.Executor != nil {
		deps.Executor = gateways.Executor
	}
	if stores.Decisions != nil {
		deps.Decisions = stores.Decisions
	}
	svc, err := monitor.NewService(deps, monitor.WithSettings(monitorSettings(cfg.Monitor)))
	if err != nil {
		return nil, err
	}

	cadences, err := cfg.Monitor.Cadences.Build()
	if err != nil {
		return nil, err
	}
	schedOpts := append(gateways.SchedulerOptions(), b.schedOpts...)
	manager := monitor.NewManager(svc, scheduler.New(schedOpts...), cadenceSet(cadences))

	httpDeps := livehttp.ServerConfig{
		Monitor:   manager,
		Snapshots: snapshots,
		History:   stores.History,
		Senders:   dispatcher.Senders(),
	}
	if stores.Decisions != nil {
		httpDeps.Decisions = stores.Decisions
	}
	if monLoader != nil {
		httpDeps.Reloader = monLoader
	}
	liveHTTPServe, err := b.liveHTTPFn(cfg.App, httpDeps)
	if err != nil {
		return nil, err
	}

	success = true
	return &App{
		cfg:        cfg,
		manager:    manager,
		monitoring: monLoader,
		liveHTTP:   liveHTTPServe,
		notifier:   dispatcher,
		stores:     stores,
		gateways:   gateways,
		Summary:    newStartupSummary(cfg, stores, gateways, dispatcher, cadences, monLoader),
	}, nil
}

// monitorSettings 把配置里的秒/小时换算为 monitor 使用的时长。
func monitorSettings(m brcfg.MonitorConfig) monitor.Settings {
	return monitor.Settings{
		UrgentEdgeBins:       m.UrgentEdgeBins,
		WarnEdgeBins:         m.WarnEdgeBins,
		VolumeSpikeRatio:     m.VolumeSpikeRatio,
		SessionEdgeBins:      m.SessionEdgeBins,
		SessionStaleAfter:    m.SessionStaleAfter(),
		SessionAccelPct:      m.SessionAccelPct,
		TrendWindow:          m.TrendWindow(),
		VolatilityPeriod:     m.VolatilityPeriod,
		Concurrency:          m.Concurrency,
		CallTimeout:          m.CallTimeout(),
		DecisionLogRetention: m.DecisionLogRetention(),
		Rebalance: monitor.RebalanceDefaults{
			BinsPerSide: m.Rebalance.BinsPerSide,
			SlippageBps: m.Rebalance.SlippageBps,
			Strategy:    m.Rebalance.Strategy,
		},
	}.WithDefaults()
}

func cadenceSet(c brcfg.Cadences) monitor.CadenceSet {
	return monitor.CadenceSet{
		Hourly:     c.Hourly,
		ThirtyMin:  c.ThirtyMin,
		TwelveHour: c.TwelveHour,
		Daily:      c.Daily,
	}
}

func WithStorage(fn func(brcfg.StorageConfig) (*StorageStack, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.storageFn = fn
		}
	}
}

func WithGateways(fn func(context.Context, *brcfg.Config) (*GatewayStack, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.gatewayFn = fn
		}
	}
}

func WithMonitoringLoader(fn func(string) (*cfgloader.MonitoringLoader, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.monitoringFn = fn
		}
	}
}

func WithLiveHTTP(fn func(brcfg.AppConfig, livehttp.ServerConfig) (*livehttp.Server, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.liveHTTPFn = fn
		}
	}
}

// WithSchedulerOptions 追加调度器选项（测试中注入 FakeClock）。
func WithSchedulerOptions(opts ...scheduler.Option) AppBuilderOption {
	return func(b *AppBuilder) {
		b.schedOpts = append(b.schedOpts, opts...)
	}
}
