// Package dlmm 是 DLMM 风格 REST 接口的只读客户端：池子信息、成交量与钱包仓位。
//
// 约定的接口：
//
//	GET {base}/pair/{pool}                                   池子概况
//	GET {base}/pair/{pool}/analytic/pair_trade_volume?num_of_days=N  日成交量序列
//	GET {positions}/position/{owner}                         钱包仓位
package dlmm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"lpwatch/internal/logger"
	"lpwatch/internal/pkg/circuit"
	"lpwatch/internal/types"
)

var log = logger.Named("gateway.dlmm")

// ErrNotFound marks a 404 from upstream; it does not trip the breaker.
var ErrNotFound = errors.New("dlmm: not found")

// 上游 SDK 已知的瞬时错误文本，命中时仓位查询按“无仓位”处理。
var DefaultTransientErrors = []string{
	"Cannot read properties of undefined",
	"failed to get program accounts",
	"429 Too Many Requests",
	"blockhash not found",
}

type Config struct {
	BaseURL          string
	PositionsURL     string
	Timeout          time.Duration
	VolumeCacheTTL   time.Duration
	VolumeDays       int
	BreakerThreshold int
	BreakerCooldown  time.Duration
	TransientErrors  []string
}

func (c Config) withDefaults() Config {
	out := c
	out.BaseURL = strings.TrimRight(strings.TrimSpace(out.BaseURL), "/")
	out.PositionsURL = strings.TrimRight(strings.TrimSpace(out.PositionsURL), "/")
	if out.PositionsURL == "" {
		out.PositionsURL = out.BaseURL
	}
	if out.Timeout <= 0 {
		out.Timeout = 5 * time.Second
	}
	if out.VolumeCacheTTL <= 0 {
		out.VolumeCacheTTL = 5 * time.Minute
	}
	if out.VolumeDays <= 1 {
		out.VolumeDays = 8
	}
	if out.BreakerThreshold <= 0 {
		out.BreakerThreshold = 5
	}
	if out.BreakerCooldown <= 0 {
		out.BreakerCooldown = time.Minute
	}
	if len(out.TransientErrors) == 0 {
		out.TransientErrors = DefaultTransientErrors
	}
	return out
}

type volumeEntry struct {
	stats     types.VolumeStats
	expiresAt time.Time
}

// Client implements gateway.PoolSource and gateway.PositionSource.
type Client struct {
	cfg        Config
	httpClient *http.Client
	breaker    *circuit.CircuitBreaker
	nowFn      func() time.Time

	group   singleflight.Group
	cacheMu sync.Mutex
	volumes map[string]volumeEntry
}

func New(cfg Config) (*Client, error) {
	final := cfg.withDefaults()
	if final.BaseURL == "" {
		return nil, fmt.Errorf("dlmm.base_url 不能为空")
	}
	if _, err := url.Parse(final.BaseURL); err != nil {
		return nil, fmt.Errorf("解析 dlmm.base_url 失败: %w", err)
	}
	return &Client{
		cfg:        final,
		httpClient: &http.Client{Timeout: final.Timeout},
		breaker:    circuit.NewCircuitBreaker("dlmm", final.BreakerThreshold, final.BreakerCooldown),
		nowFn:      time.Now,
		volumes:    make(map[string]volumeEntry),
	}, nil
}

// SetHTTPClient sets the HTTP client for testing.
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("dlmm 返回错误(%d): %s", e.code, e.body)
}

func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	var out []byte
	err := c.breaker.Do(func() error {
		reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint, nil)
		if err != nil {
			return fmt.Errorf("构造请求失败: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("调用 dlmm 失败: %w", err)
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
		if err != nil {
			return fmt.Errorf("读取 dlmm 响应失败: %w", err)
		}
		if resp.StatusCode == http.StatusNotFound {
			return ErrNotFound
		}
		if resp.StatusCode >= 300 {
			body := strings.TrimSpace(string(data))
			if len(body) > 512 {
				body = body[:512]
			}
			return &statusError{code: resp.StatusCode, body: body}
		}
		out = data
		return nil
	}, func(err error) bool { return errors.Is(err, ErrNotFound) })
	return out, err
}

func (c *Client) isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, marker := range c.cfg.TransientErrors {
		if marker != "" && strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
