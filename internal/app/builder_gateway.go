package app

import (
	"context"
	"fmt"

	rediscache "lpwatch/internal/cache/redis"
	brcfg "lpwatch/internal/config"
	"lpwatch/internal/decision"
	"lpwatch/internal/gateway"
	"lpwatch/internal/gateway/binance"
	"lpwatch/internal/gateway/dlmm"
	"lpwatch/internal/gateway/executor"
	"lpwatch/internal/logger"
	"lpwatch/internal/scheduler"
)

// GatewayStack 汇总外部协作方。Prices、Executor、Lease 按配置可为空。
type GatewayStack struct {
	DLMM     *dlmm.Client
	Prices   *binance.PriceSource
	Executor *executor.Client
	Redis    *rediscache.Client
	Lease    *rediscache.Lease
}

// Close 关闭 redis 连接；lease 由调度器在 Shutdown 时释放。
func (g *GatewayStack) Close() error {
	if g == nil || g.Redis == nil {
		return nil
	}
	return g.Redis.Close()
}

// PriceSource 返回引擎可用的价格源；未启用时为 nil 接口，引擎按降级处理。
func (g *GatewayStack) PriceSource() decision.PriceSource {
	if g == nil || g.Prices == nil {
		return nil
	}
	return g.Prices
}

// SchedulerOptions 在启用 redis 时为调度器挂上跨进程租约。
func (g *GatewayStack) SchedulerOptions() []scheduler.Option {
	if g == nil || g.Lease == nil {
		return nil
	}
	return []scheduler.Option{scheduler.WithLease(g.Lease)}
}

func buildGatewayStack(ctx context.Context, cfg *brcfg.Config) (*GatewayStack, error) {
	out := &GatewayStack{}
	pools, err := dlmm.New(dlmm.Config{
		BaseURL:          cfg.DLMM.BaseURL,
		PositionsURL:     cfg.DLMM.PositionsURL,
		Timeout:          cfg.DLMM.Timeout(),
		VolumeCacheTTL:   cfg.DLMM.VolumeCacheTTL(),
		VolumeDays:       cfg.DLMM.VolumeDays,
		BreakerThreshold: cfg.DLMM.BreakerThreshold,
		BreakerCooldown:  cfg.DLMM.BreakerCooldown(),
		TransientErrors:  cfg.DLMM.TransientErrors,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 DLMM 客户端失败: %w", err)
	}
	out.DLMM = pools
	logger.Infof("✓ DLMM API: %s", cfg.DLMM.BaseURL)

	prices, err := gateway.NewPriceSourceFromConfig(cfg.Price)
	if err != nil {
		return nil, fmt.Errorf("初始化参考价格源失败: %w", err)
	}
	if prices != nil {
		out.Prices = prices
		logger.Infof("✓ 参考价格: %s @ %s", prices.Symbol(), cfg.Price.RESTBaseURL)
	} else {
		logger.Warnf("price.enabled=false：交易成本按降级处理")
	}

	if cfg.Executor.Enabled {
		exec, err := executor.New(executor.Config{
			URL:     cfg.Executor.URL,
			Token:   cfg.Executor.Token,
			Timeout: cfg.Executor.Timeout(),
		})
		if err != nil {
			return nil, fmt.Errorf("初始化执行器失败: %w", err)
		}
		out.Executor = exec
		logger.Infof("✓ 执行器: %s", cfg.Executor.URL)
	}

	if cfg.Redis.Enabled {
		client, err := rediscache.New(ctx, rediscache.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			TLSEnabled: cfg.Redis.TLS,
		})
		if err != nil {
			return nil, fmt.Errorf("连接 redis 失败: %w", err)
		}
		out.Redis = client
		out.Lease = rediscache.NewLease(client.Underlying(), cfg.Redis.LeaseName, cfg.Redis.LeaseTTL())
		logger.Infof("✓ 调度租约: %s (ttl=%s)", out.Lease.Key(), cfg.Redis.LeaseTTL())
	}
	return out, nil
}
