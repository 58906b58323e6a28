package binance

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	gobinance "github.com/adshao/go-binance/v2"

	"lpwatch/internal/logger"
)

var log = logger.Named("gateway.binance")

// PriceSource 基于 go-binance 现货行情实现 gateway.PriceSource，结果短时缓存。
type PriceSource struct {
	cfg    Config
	client *gobinance.Client
	nowFn  func() time.Time

	mu        sync.Mutex
	lastPrice float64
	lastAt    time.Time
}

func New(cfg Config) (*PriceSource, error) {
	final := cfg.withDefaults()
	client := gobinance.NewClient("", "")
	client.BaseURL = final.RESTBaseURL
	httpClient := &http.Client{Timeout: final.HTTPTimeout}
	if final.ProxyEnabled && final.RESTProxyURL != "" {
		proxyURL, err := url.Parse(final.RESTProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REST proxy url: %w", err)
		}
		baseTransport, ok := http.DefaultTransport.(*http.Transport)
		if !ok || baseTransport == nil {
			return nil, fmt.Errorf("http DefaultTransport is not *http.Transport")
		}
		transport := baseTransport.Clone()
		transport.Proxy = http.ProxyURL(proxyURL)
		httpClient.Transport = transport
	}
	client.HTTPClient = httpClient
	return &PriceSource{cfg: final, client: client, nowFn: time.Now}, nil
}

func (s *PriceSource) Symbol() string { return s.cfg.Symbol }

// ReferencePrice returns the last traded price of the configured symbol.
func (s *PriceSource) ReferencePrice(ctx context.Context) (float64, error) {
	if s == nil || s.client == nil {
		return 0, fmt.Errorf("binance price source not initialized")
	}
	s.mu.Lock()
	if s.lastPrice > 0 && s.nowFn().Sub(s.lastAt) < s.cfg.CacheTTL {
		p := s.lastPrice
		s.mu.Unlock()
		return p, nil
	}
	s.mu.Unlock()

	res, err := s.client.NewListPricesService().Symbol(s.cfg.Symbol).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("binance ticker %s: %w", s.cfg.Symbol, err)
	}
	for _, entry := range res {
		if entry == nil || !strings.EqualFold(entry.Symbol, s.cfg.Symbol) {
			continue
		}
		price := parseFloat(entry.Price)
		if price <= 0 {
			return 0, fmt.Errorf("binance ticker %s: invalid price %q", s.cfg.Symbol, entry.Price)
		}
		s.mu.Lock()
		s.lastPrice = price
		s.lastAt = s.nowFn()
		s.mu.Unlock()
		log.Debugf("reference price %s=%.4f", s.cfg.Symbol, price)
		return price, nil
	}
	return 0, fmt.Errorf("binance ticker %s: symbol not in response", s.cfg.Symbol)
}

func parseFloat(raw string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0
	}
	return v
}
