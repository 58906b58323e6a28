package gateway

import (
	"fmt"

	brcfg "lpwatch/internal/config"
	"lpwatch/internal/gateway/binance"
)

// NewPriceSourceFromConfig 按配置构建参考价格源；price.enabled=false 时返回 nil。
func NewPriceSourceFromConfig(cfg brcfg.PriceConfig) (*binance.PriceSource, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	src, err := binance.New(binance.Config{
		RESTBaseURL:  cfg.RESTBaseURL,
		HTTPTimeout:  cfg.Timeout(),
		Symbol:       cfg.Symbol,
		CacheTTL:     cfg.CacheTTL(),
		ProxyEnabled: cfg.Proxy.Enabled,
		RESTProxyURL: cfg.Proxy.RESTURL,
	})
	if err != nil {
		return nil, fmt.Errorf("init price source %s: %w", cfg.Symbol, err)
	}
	return src, nil
}
