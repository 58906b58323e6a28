// Package loader 读取 monitoring.yaml（被监控的 owner、仓位与档位开关），并在文件变更时热更新。
package loader

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/mr-tron/base58"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"lpwatch/internal/logger"
	"lpwatch/internal/types"
)

// EnvOwner 在文件未填写 owner 时提供钱包地址。
const EnvOwner = "LPWATCH_OWNER"

//go:embed monitoring.schema.json
var monitoringSchema string

var (
	schemaOnce     sync.Once
	schemaCompiled *jsonschema.Schema
	schemaErr      error
)

// fileConfig 为文件结构；cadences 缺省时四档全部启用。
type fileConfig struct {
	Owner     string          `yaml:"owner"`
	Policy    string          `yaml:"policy"`
	AutoApply bool            `yaml:"auto_apply"`
	Cadences  *types.Cadences `yaml:"cadences"`
	Positions []string        `yaml:"positions"`
	Pools     []string        `yaml:"pools"`

	// GET /api/monitoring 回传的只读字段，解析时忽略
	Version int64 `yaml:"version"`
}

// Snapshot 为一次成功加载的结果。
type Snapshot struct {
	Version  int64
	LoadedAt time.Time
	Config   types.MonitoringConfig
}

// ChangeListener 在重载成功后被调用；返回错误只记录日志。
type ChangeListener func(Snapshot) error

// MonitoringLoader 负责加载 monitoring.yaml 并监听热更新。
type MonitoringLoader struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  Snapshot
	listeners []ChangeListener
}

// NewMonitoringLoader 读取并校验文件；文件无效时返回错误。
func NewMonitoringLoader(path string) (*MonitoringLoader, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("monitoring loader requires path")
	}
	l := &MonitoringLoader{path: path}
	if _, err := l.reload(); err != nil {
		return nil, err
	}
	return l, nil
}

// Watch 开始监听文件变更。
func (l *MonitoringLoader) Watch() error {
	v := viper.New()
	v.SetConfigFile(l.path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read monitoring config failed: %w", err)
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if evt.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			return
		}
		if _, err := l.Reload(); err != nil {
			logger.Errorf("monitoring reload failed (%s): %v", evt.Name, err)
		}
	})
	v.WatchConfig()
	l.mu.Lock()
	l.v = v
	l.mu.Unlock()
	return nil
}

// Snapshot 返回当前配置（深拷贝）。
func (l *MonitoringLoader) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	snap := l.snapshot
	snap.Config = snap.Config.Clone()
	return snap
}

// Subscribe 注册监听器。不会立即回调，启动时由调用方自行应用 Snapshot。
func (l *MonitoringLoader) Subscribe(fn ChangeListener) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.listeners = append(l.listeners, fn)
	l.mu.Unlock()
}

// Reload 重新读取文件并通知监听器；失败时保留旧配置。
func (l *MonitoringLoader) Reload() (Snapshot, error) {
	snap, err := l.reload()
	if err != nil {
		return Snapshot{}, err
	}
	l.notify(snap)
	return snap, nil
}

func (l *MonitoringLoader) reload() (Snapshot, error) {
	cfg, err := ReadMonitoringFile(l.path)
	if err != nil {
		return Snapshot{}, err
	}
	l.mu.Lock()
	l.snapshot = Snapshot{
		Version:  l.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Config:   cfg,
	}
	snap := l.snapshot
	l.mu.Unlock()
	logger.Infof("Monitoring loader v%d: owner=%s positions=%d pools=%d from %s",
		snap.Version, shortOwner(cfg.Owner), len(cfg.Positions), len(cfg.Pools), filepath.Base(l.path))
	return snap, nil
}

func (l *MonitoringLoader) notify(snap Snapshot) {
	l.mu.RLock()
	listeners := append([]ChangeListener(nil), l.listeners...)
	l.mu.RUnlock()
	for _, fn := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Errorf("monitoring listener panic: %v", r)
				}
			}()
			cp := snap
			cp.Config = snap.Config.Clone()
			if err := fn(cp); err != nil {
				logger.Errorf("monitoring listener failed: %v", err)
			}
		}()
	}
}

// ReadMonitoringFile 先按 JSON Schema 校验，再以 KnownFields 严格解码。
func ReadMonitoringFile(path string) (types.MonitoringConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return types.MonitoringConfig{}, fmt.Errorf("read monitoring config failed: %w", err)
	}
	return ParseMonitoring(raw)
}

// ParseMonitoring parses a monitoring document from memory.
func ParseMonitoring(raw []byte) (types.MonitoringConfig, error) {
	if err := validateSchema(raw); err != nil {
		return types.MonitoringConfig{}, err
	}
	var fc fileConfig
	if len(bytes.TrimSpace(raw)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(&fc); err != nil {
			return types.MonitoringConfig{}, fmt.Errorf("parse monitoring config failed: %w", err)
		}
	}
	cfg := normalize(fc)
	if err := ValidateOwner(cfg.Owner); err != nil {
		return types.MonitoringConfig{}, err
	}
	return cfg, nil
}

// ValidateOwner 要求 owner 为 32 字节的 base58 公钥；空值表示尚未配置。
func ValidateOwner(owner string) error {
	if owner == "" {
		return nil
	}
	key, err := base58.Decode(owner)
	if err != nil {
		return fmt.Errorf("owner %s is not base58: %w", shortOwner(owner), err)
	}
	if len(key) != 32 {
		return fmt.Errorf("owner %s decodes to %d bytes, want 32", shortOwner(owner), len(key))
	}
	return nil
}

func normalize(fc fileConfig) types.MonitoringConfig {
	cfg := types.MonitoringConfig{
		Owner:     strings.TrimSpace(fc.Owner),
		Policy:    strings.ToLower(strings.TrimSpace(fc.Policy)),
		AutoApply: fc.AutoApply,
		Cadences:  types.AllCadences(),
		Positions: trimAll(fc.Positions),
		Pools:     trimAll(fc.Pools),
	}
	if fc.Cadences != nil {
		cfg.Cadences = *fc.Cadences
	}
	if cfg.Owner == "" {
		cfg.Owner = strings.TrimSpace(os.Getenv(EnvOwner))
	}
	return cfg
}

func validateSchema(raw []byte) error {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("monitoring.schema.json", strings.NewReader(monitoringSchema)); err != nil {
			schemaErr = err
			return
		}
		schemaCompiled, schemaErr = compiler.Compile("monitoring.schema.json")
	})
	if schemaErr != nil {
		return fmt.Errorf("monitoring schema compile failed: %w", schemaErr)
	}
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse monitoring config failed: %w", err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	// yaml 的整数/映射类型与 JSON 不同，转一次 JSON 再校验
	buf, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("monitoring config is not json-compatible: %w", err)
	}
	var generic any
	if err := json.Unmarshal(buf, &generic); err != nil {
		return err
	}
	if err := schemaCompiled.Validate(generic); err != nil {
		return fmt.Errorf("monitoring config invalid: %w", err)
	}
	return nil
}

func trimAll(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func shortOwner(owner string) string {
	if len(owner) <= 10 {
		return owner
	}
	return owner[:4] + "…" + owner[len(owner)-4:]
}
