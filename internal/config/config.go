package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvConfigPath 指定主配置文件路径的环境变量。
const EnvConfigPath = "LPWATCH_CONFIG"

const defaultConfigPath = "configs/config.yaml"

// PathFromEnv returns $LPWATCH_CONFIG or the default path.
func PathFromEnv() string {
	if p := strings.TrimSpace(os.Getenv(EnvConfigPath)); p != "" {
		return p
	}
	return defaultConfigPath
}

func Load(path string) (*Config, error) {
	// .env 不存在时静默忽略
	_ = godotenv.Load()

	files, err := resolveConfigIncludes(path)
	if err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetConfigType("yaml")
	for _, file := range files {
		if err := mergeConfigFile(v, file); err != nil {
			return nil, fmt.Errorf("reading config file failed (%s): %w", file, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	setKeys := make(keySet)
	collectSettingsKeys(v.AllSettings(), setKeys)
	applyEnvOverrides(&cfg, setKeys)
	cfg.applyDefaults(setKeys)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides 读取 LPWATCH_* 环境变量覆盖密钥类字段，便于部署时注入。
func applyEnvOverrides(cfg *Config, keys keySet) {
	setStr(&cfg.App.LogLevel, "LPWATCH_LOG_LEVEL", "app.log_level", keys)
	setStr(&cfg.App.HTTPAddr, "LPWATCH_HTTP_ADDR", "app.http_addr", keys)
	setStr(&cfg.Storage.Backend, "LPWATCH_STORAGE_BACKEND", "storage.backend", keys)
	setStr(&cfg.DLMM.BaseURL, "LPWATCH_DLMM_BASE_URL", "dlmm.base_url", keys)
	setStr(&cfg.DLMM.PositionsURL, "LPWATCH_DLMM_POSITIONS_URL", "dlmm.positions_url", keys)
	setStr(&cfg.Executor.URL, "LPWATCH_EXECUTOR_URL", "executor.url", keys)
	setStr(&cfg.Executor.Token, "LPWATCH_EXECUTOR_TOKEN", "executor.token", keys)
	setStr(&cfg.Notify.Telegram.BotToken, "LPWATCH_TELEGRAM_BOT_TOKEN", "notify.telegram.bot_token", keys)
	setStr(&cfg.Notify.Telegram.ChatID, "LPWATCH_TELEGRAM_CHAT_ID", "notify.telegram.chat_id", keys)
	setStr(&cfg.Notify.Discord.WebhookURL, "LPWATCH_DISCORD_WEBHOOK_URL", "notify.discord.webhook_url", keys)
	setStr(&cfg.Redis.Addr, "LPWATCH_REDIS_ADDR", "redis.addr", keys)
	setStr(&cfg.Redis.Password, "LPWATCH_REDIS_PASSWORD", "redis.password", keys)
	setInt(&cfg.Redis.DB, "LPWATCH_REDIS_DB", "redis.db", keys)
	setBool(&cfg.Redis.Enabled, "LPWATCH_REDIS_ENABLED", "redis.enabled", keys)
}

func setStr(dst *string, env, key string, keys keySet) {
	if v := strings.TrimSpace(os.Getenv(env)); v != "" {
		*dst = v
		keys.mark(key)
	}
}

func setInt(dst *int, env, key string, keys keySet) {
	if v := strings.TrimSpace(os.Getenv(env)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
			keys.mark(key)
		}
	}
}

func setBool(dst *bool, env, key string, keys keySet) {
	if v := strings.TrimSpace(os.Getenv(env)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
			keys.mark(key)
		}
	}
}

func mergeConfigFile(v *viper.Viper, path string) error {
	tmp := viper.New()
	tmp.SetConfigFile(path)
	if err := tmp.ReadInConfig(); err != nil {
		return err
	}
	return v.MergeConfigMap(tmp.AllSettings())
}

func resolveConfigIncludes(path string) ([]string, error) {
	if path == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	stack := make(map[string]bool)
	files, err := collectConfigFiles(abs, seen, stack)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return []string{abs}, nil
	}
	return files, nil
}

// collectConfigFiles 深度优先展开 include，被包含文件先于包含者合并。
func collectConfigFiles(path string, seen, stack map[string]bool) ([]string, error) {
	path = filepath.Clean(path)
	if stack[path] {
		return nil, fmt.Errorf("include cycle detected: %s", path)
	}
	if seen[path] {
		return nil, nil
	}
	stack[path] = true
	includes, err := parseIncludeList(path)
	if err != nil {
		return nil, fmt.Errorf("parsing include failed (%s): %w", path, err)
	}
	dir := filepath.Dir(path)
	var ordered []string
	for _, inc := range includes {
		incPath := inc
		if !filepath.IsAbs(inc) {
			incPath = filepath.Join(dir, inc)
		}
		sub, err := collectConfigFiles(incPath, seen, stack)
		if err != nil {
			return nil, err
		}
		ordered = append(ordered, sub...)
	}
	delete(stack, path)
	seen[path] = true
	ordered = append(ordered, path)
	return ordered, nil
}

func parseIncludeList(path string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	raw := v.Get("include")
	if raw == nil {
		return nil, nil
	}
	switch val := raw.(type) {
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("include only supports strings")
			}
			if str = strings.TrimSpace(str); str != "" {
				out = append(out, str)
			}
		}
		return out, nil
	case []string:
		return normalizeList(val), nil
	case string:
		if s := strings.TrimSpace(val); s != "" {
			return []string{s}, nil
		}
		return nil, nil
	default:
		return nil, fmt.Errorf("include must be a string array")
	}
}

func collectSettingsKeys(settings map[string]any, dest keySet) {
	if dest == nil || len(settings) == 0 {
		return
	}
	flattenConfigKeys("", settings, dest)
}

func flattenConfigKeys(prefix string, node any, dest keySet) {
	switch val := node.(type) {
	case map[string]any:
		for k, v := range val {
			next := strings.ToLower(strings.TrimSpace(k))
			if next == "" {
				continue
			}
			if prefix != "" {
				next = prefix + "." + next
			}
			flattenConfigKeys(next, v, dest)
		}
	case []any:
		if prefix != "" {
			dest.mark(prefix)
		}
	default:
		if prefix != "" {
			dest.mark(prefix)
		}
	}
}
