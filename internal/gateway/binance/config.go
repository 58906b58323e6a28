package binance

import (
	"strings"
	"time"
)

type Config struct {
	RESTBaseURL string
	HTTPTimeout time.Duration
	// Symbol 为参考价格交易对，如 SOLUSDT 或 SOL/USDT。
	Symbol   string
	CacheTTL time.Duration

	ProxyEnabled bool
	RESTProxyURL string
}

func (c *Config) withDefaults() Config {
	out := *c
	out.RESTBaseURL = strings.TrimSpace(out.RESTBaseURL)
	if out.RESTBaseURL == "" {
		out.RESTBaseURL = "https://api.binance.com"
	}
	if out.HTTPTimeout <= 0 {
		out.HTTPTimeout = 5 * time.Second
	}
	out.Symbol = normalizeSymbol(out.Symbol)
	if out.Symbol == "" {
		out.Symbol = "SOLUSDT"
	}
	if out.CacheTTL <= 0 {
		out.CacheTTL = time.Minute
	}
	out.RESTProxyURL = strings.TrimSpace(out.RESTProxyURL)
	return out
}

// normalizeSymbol: "sol/usdt" -> "SOLUSDT"
func normalizeSymbol(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "/", "")
	return strings.ReplaceAll(s, "-", "")
}
