package app

import (
	"fmt"
	"strings"

	brcfg "lpwatch/internal/config"
	cfgloader "lpwatch/internal/config/loader"
	"lpwatch/internal/gateway/notifier"
)

type StartupSummary struct {
	Storage    StorageSummary
	Upstream   UpstreamSummary
	Decision   DecisionSummary
	Monitoring MonitoringSummary
	Notifiers  []string
	HTTPAddr   string
}

type StorageSummary struct {
	Backend        string
	Location       string
	DecisionLog    bool
	IntradayDays   int
	PortfolioDays  int
	DecisionLogTTL int
}

type UpstreamSummary struct {
	DLMM     string
	Price    string
	Executor string
	Lease    string
}

type DecisionSummary struct {
	Policy    string
	HighEdge  int
	HighShare float64
}

type MonitoringSummary struct {
	File      string
	Owner     string
	Policy    string
	AutoApply bool
	Positions []string
	Pools     []string
	Cadences  map[string]string
}

func newStartupSummary(cfg *brcfg.Config, stores *StorageStack, gw *GatewayStack, d *notifier.Dispatcher, cadences brcfg.Cadences, l *cfgloader.MonitoringLoader) *StartupSummary {
	s := &StartupSummary{
		Storage: StorageSummary{
			Backend:        cfg.Storage.Backend,
			Location:       storageLocation(cfg.Storage),
			DecisionLog:    stores != nil && stores.Decisions != nil,
			IntradayDays:   cfg.Storage.IntradayRetentionDays,
			PortfolioDays:  cfg.Storage.PortfolioRetentionDays,
			DecisionLogTTL: cfg.Monitor.DecisionLogRetentionDays,
		},
		Upstream: UpstreamSummary{DLMM: cfg.DLMM.BaseURL, Price: "-", Executor: "-", Lease: "-"},
		Decision: DecisionSummary{
			Policy:    cfg.Decision.Policy,
			HighEdge:  cfg.Decision.Thresholds.HighEdge,
			HighShare: cfg.Decision.Thresholds.HighShare,
		},
		Monitoring: MonitoringSummary{
			File: cfg.Monitor.File,
			Cadences: map[string]string{
				"hourly":      cadences.Hourly.String(),
				"thirty_min":  cadences.ThirtyMin.String(),
				"twelve_hour": cadences.TwelveHour.String(),
				"daily":       cadences.Daily.String(),
			},
		},
		HTTPAddr: cfg.App.HTTPAddr,
	}
	if gw != nil {
		if gw.Prices != nil {
			s.Upstream.Price = gw.Prices.Symbol()
		}
		if gw.Executor != nil {
			s.Upstream.Executor = cfg.Executor.URL
		}
		if gw.Lease != nil {
			s.Upstream.Lease = gw.Lease.Key()
		}
	}
	if d != nil {
		s.Notifiers = d.Senders()
	}
	if l != nil {
		snap := l.Snapshot()
		s.Monitoring.Owner = snap.Config.Owner
		s.Monitoring.Policy = snap.Config.Policy
		s.Monitoring.AutoApply = snap.Config.AutoApply
		s.Monitoring.Positions = snap.Config.Positions
		s.Monitoring.Pools = snap.Config.Pools
	}
	return s
}

func storageLocation(cfg brcfg.StorageConfig) string {
	switch cfg.Backend {
	case brcfg.BackendSQLite:
		return cfg.SQLitePath
	case brcfg.BackendJSONFile:
		return cfg.Dir
	default:
		return "(in-memory)"
	}
}

func (s *StartupSummary) Print() {
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("%*s\n", 40+len("启动配置摘要 (STARTUP SUMMARY)")/2, "启动配置摘要 (STARTUP SUMMARY)")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Println("[存储 (STORAGE)]")
	fmt.Printf("  后端: %s @ %s\n", s.Storage.Backend, s.Storage.Location)
	fmt.Printf("  保留期: intraday %dd / portfolio %dd / decisions %dd\n", s.Storage.IntradayDays, s.Storage.PortfolioDays, s.Storage.DecisionLogTTL)
	fmt.Printf("  决策日志: %v\n", s.Storage.DecisionLog)
	fmt.Println()

	fmt.Println("[上游 (UPSTREAM)]")
	fmt.Printf("  DLMM: %s\n", s.Upstream.DLMM)
	fmt.Printf("  参考价格: %s\n", s.Upstream.Price)
	fmt.Printf("  执行器: %s\n", s.Upstream.Executor)
	fmt.Printf("  调度租约: %s\n", s.Upstream.Lease)
	fmt.Println()

	fmt.Println("[决策 (DECISION)]")
	fmt.Printf("  默认策略: %s\n", s.Decision.Policy)
	fmt.Printf("  HIGH 阈值: edge<=%d bins 或 share>=%.0f%%\n", s.Decision.HighEdge, s.Decision.HighShare*100)
	fmt.Println()

	fmt.Println("[监控 (MONITORING)]")
	if s.Monitoring.File == "" {
		fmt.Println("  文件: (未配置，使用 LPWATCH_OWNER)")
	} else {
		fmt.Printf("  文件: %s\n", s.Monitoring.File)
	}
	fmt.Printf("  Owner: %s\n", dash(s.Monitoring.Owner))
	fmt.Printf("  策略: %s  自动执行: %v\n", dash(s.Monitoring.Policy), s.Monitoring.AutoApply)
	fmt.Printf("  仓位: %s\n", formatList(s.Monitoring.Positions))
	fmt.Printf("  池子: %s\n", formatList(s.Monitoring.Pools))
	for _, name := range []string{"hourly", "thirty_min", "twelve_hour", "daily"} {
		fmt.Printf("  - %-12s %s\n", name, s.Monitoring.Cadences[name])
	}
	fmt.Println()

	fmt.Println("[通知与接口 (NOTIFY & HTTP)]")
	fmt.Printf("  通知渠道: %s\n", formatList(s.Notifiers))
	fmt.Printf("  HTTP: %s\n", dash(s.HTTPAddr))
	fmt.Println(strings.Repeat("=", 80))
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}

func dash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
