package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// DefaultIdentifier идентификатор приложения; определяет каталог данных.
const DefaultIdentifier = "com.devstash.app"

// Config описывает параметры backend-а.
type Config struct {
	App struct {
		Identifier string `yaml:"identifier" toml:"identifier" env:"DEVSTASH_APP_IDENTIFIER"`
		DataDir    string `yaml:"data_dir" toml:"data_dir" env:"DEVSTASH_DATA_DIR"`
	} `yaml:"app" toml:"app"`
	Bridge struct {
		Workers int `yaml:"workers" toml:"workers" env:"DEVSTASH_BRIDGE_WORKERS"`
	} `yaml:"bridge" toml:"bridge"`
	FS struct {
		Root         string `yaml:"root" toml:"root" env:"DEVSTASH_FS_ROOT"`
		MaxReadBytes int64  `yaml:"max_read_bytes" toml:"max_read_bytes" env:"DEVSTASH_FS_MAX_READ_BYTES"`
		Scope        struct {
			Allow []string `yaml:"allow" toml:"allow"`
			Deny  []string `yaml:"deny" toml:"deny"`
		} `yaml:"scope" toml:"scope"`
	} `yaml:"fs" toml:"fs"`
	Log struct {
		Level         string   `yaml:"level" toml:"level" env:"DEVSTASH_LOG_LEVEL"`
		Dir           string   `yaml:"dir" toml:"dir" env:"DEVSTASH_LOG_DIR"`
		Targets       []string `yaml:"targets" toml:"targets" env:"DEVSTASH_LOG_TARGETS" envSeparator:","`
		RetentionDays int      `yaml:"retention_days" toml:"retention_days" env:"DEVSTASH_LOG_RETENTION_DAYS"`
	} `yaml:"log" toml:"log"`
	Permissions map[string][]string `yaml:"permissions" toml:"permissions"`
	Scheduler   struct {
		IntervalSeconds int `yaml:"interval_seconds" toml:"interval_seconds" env:"DEVSTASH_SCHEDULER_INTERVAL_SECONDS"`
	} `yaml:"scheduler" toml:"scheduler"`
	IPC struct {
		Enabled bool `yaml:"enabled" toml:"enabled" env:"DEVSTASH_IPC_ENABLED"`
	} `yaml:"ipc" toml:"ipc"`
	Web struct {
		Enabled          bool     `yaml:"enabled" toml:"enabled" env:"DEVSTASH_WEB_ENABLED"`
		ListenAddr       string   `yaml:"listen_addr" toml:"listen_addr" env:"DEVSTASH_WEB_LISTEN_ADDR"`
		ReadTimeoutMS    int      `yaml:"read_timeout_ms" toml:"read_timeout_ms"`
		WriteTimeoutMS   int      `yaml:"write_timeout_ms" toml:"write_timeout_ms"`
		RequestTimeoutMS int      `yaml:"request_timeout_ms" toml:"request_timeout_ms"`
		ShutdownTimeoutS int      `yaml:"shutdown_timeout_s" toml:"shutdown_timeout_s"`
		MaxBodyBytes     int64    `yaml:"max_body_bytes" toml:"max_body_bytes"`
		TokenSHA256      []string `yaml:"token_sha256" toml:"token_sha256"`
		RateLimit        RateLimit `yaml:"rate_limit" toml:"rate_limit"`
		CORS struct {
			AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins" env:"DEVSTASH_WEB_CORS_ORIGINS" envSeparator:","`
		} `yaml:"cors" toml:"cors"`
	} `yaml:"web" toml:"web"`
	Telemetry struct {
		Endpoint string `yaml:"endpoint" toml:"endpoint" env:"DEVSTASH_OTEL_ENDPOINT"`
	} `yaml:"telemetry" toml:"telemetry"`
}

// RateLimit ограничение вызовов одного клиента; limit <= 0 отключает его.
type RateLimit struct {
	Limit    int `yaml:"limit" toml:"limit" env:"DEVSTASH_WEB_RATE_LIMIT"`
	WindowMS int `yaml:"window_ms" toml:"window_ms" env:"DEVSTASH_WEB_RATE_WINDOW_MS"`
}

// Window окно лимита.
func (r RateLimit) Window() time.Duration {
	return time.Duration(r.WindowMS) * time.Millisecond
}

// Default возвращает конфигурацию по умолчанию.
func Default() Config {
	var cfg Config
	cfg.App.Identifier = DefaultIdentifier
	cfg.Bridge.Workers = 8
	cfg.FS.MaxReadBytes = 16 << 20
	cfg.FS.Scope.Allow = []string{"**"}
	cfg.Log.Level = "info"
	cfg.Log.Targets = []string{"stdout", "file", "journal"}
	cfg.Log.RetentionDays = 30
	cfg.Permissions = map[string][]string{
		"ipc": {"**"},
		"cli": {"**"},
		"web": {"greet", "plugin:os|*"},
	}
	cfg.Scheduler.IntervalSeconds = 3600
	cfg.IPC.Enabled = true
	cfg.Web.Enabled = false
	cfg.Web.ListenAddr = "127.0.0.1:1430"
	cfg.Web.ReadTimeoutMS = 2000
	cfg.Web.WriteTimeoutMS = 30000
	cfg.Web.RequestTimeoutMS = 15000
	cfg.Web.ShutdownTimeoutS = 5
	cfg.Web.MaxBodyBytes = 8 << 20
	cfg.Web.RateLimit.Limit = 50
	cfg.Web.RateLimit.WindowMS = 1000
	cfg.Web.CORS.AllowedOrigins = []string{"http://localhost:1420", "tauri://localhost"}
	return cfg
}

// Load читает конфиг из YAML или TOML (по расширению) поверх значений по
// умолчанию, затем применяет переменные окружения DEVSTASH_*.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304 -- путь к конфигу задает пользователь.
		if err != nil {
			return cfg, err
		}
		if len(data) == 0 {
			return cfg, errors.New("config file is empty")
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".toml":
			if err := toml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse toml: %w", err)
			}
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse yaml: %w", err)
			}
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// ResolveDirs заполняет пустые каталоги платформенными значениями:
// данные в UserConfigDir/<identifier>, корень fs = каталог данных,
// логи в <data>/logs.
func (c *Config) ResolveDirs() error {
	if c.App.Identifier == "" {
		c.App.Identifier = DefaultIdentifier
	}
	if c.App.DataDir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return fmt.Errorf("resolve data dir: %w", err)
		}
		c.App.DataDir = filepath.Join(base, c.App.Identifier)
	}
	if c.FS.Root == "" {
		c.FS.Root = c.App.DataDir
	}
	if c.Log.Dir == "" {
		c.Log.Dir = filepath.Join(c.App.DataDir, "logs")
	}
	return nil
}
