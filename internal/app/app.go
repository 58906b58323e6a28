package app

import (
	"context"
	"fmt"
	"time"

	brcfg "lpwatch/internal/config"
	cfgloader "lpwatch/internal/config/loader"
	"lpwatch/internal/gateway/notifier"
	"lpwatch/internal/logger"
	"lpwatch/internal/monitor"
	livehttp "lpwatch/internal/transport/http/live"
	"lpwatch/internal/types"

	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

// App 负责应用级编排：加载配置→初始化依赖→启动调度器与 HTTP 接口。
type App struct {
	cfg        *brcfg.Config
	manager    *monitor.Manager
	monitoring *cfgloader.MonitoringLoader
	liveHTTP   *livehttp.Server
	notifier   *notifier.Dispatcher
	stores     *StorageStack
	gateways   *GatewayStack
	Summary    *StartupSummary
}

// NewApp 根据配置构建应用对象（不启动）
func NewApp(cfg *brcfg.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run 启动调度器与 HTTP 服务，直到 ctx 取消。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil || a.manager == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.close()

	if a.Summary != nil {
		a.Summary.Print()
	}

	if a.monitoring != nil {
		a.monitoring.Subscribe(func(snap cfgloader.Snapshot) error {
			return a.manager.Replace(snap.Config)
		})
	}
	if err := a.manager.Start(ctx, a.initialMonitoring()); err != nil {
		return fmt.Errorf("start monitoring: %w", err)
	}
	if a.monitoring != nil && a.cfg.Monitor.Watch {
		if err := a.monitoring.Watch(); err != nil {
			logger.Warnf("monitoring 文件监听启动失败，仅支持手动重载: %v", err)
		}
	}

	group, gctx := errgroup.WithContext(ctx)
	if a.liveHTTP != nil {
		group.Go(func() error {
			if err := a.liveHTTP.Start(gctx); err != nil {
				return fmt.Errorf("http server error: %w", err)
			}
			return nil
		})
	}
	group.Go(func() error {
		<-gctx.Done()
		shCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.manager.Stop(shCtx)
	})
	return group.Wait()
}

func (a *App) initialMonitoring() types.MonitoringConfig {
	if a.monitoring != nil {
		return a.monitoring.Snapshot().Config
	}
	// 没有 monitoring 文件时仅依赖 LPWATCH_OWNER，四档全部启用
	cfg, err := cfgloader.ParseMonitoring(nil)
	if err != nil {
		logger.Warnf("默认 monitoring 配置无效: %v", err)
	}
	return cfg
}

func (a *App) close() {
	if a.notifier != nil {
		flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := a.notifier.Flush(flushCtx); err != nil {
			logger.Warnf("通知发送未完成: %v", err)
		}
		cancel()
	}
	if err := a.stores.Close(); err != nil {
		logger.Warnf("关闭存储失败: %v", err)
	}
	if err := a.gateways.Close(); err != nil {
		logger.Warnf("关闭 redis 失败: %v", err)
	}
}

// Manager exposes the monitoring manager (for tests and replay harnesses).
func (a *App) Manager() *monitor.Manager {
	if a == nil {
		return nil
	}
	return a.manager
}

// HTTPServer returns the API server, nil when app.http_addr is "-".
func (a *App) HTTPServer() *livehttp.Server {
	if a == nil {
		return nil
	}
	return a.liveHTTP
}
