// Package config loads settings from an optional YAML file overlaid by
// environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Store  StoreConfig  `yaml:"store"`
	Search SearchConfig `yaml:"search"`
	Labels LabelsConfig `yaml:"labels"`
	Log    LogConfig    `yaml:"log"`
	Watch  WatchConfig  `yaml:"watch"`
	Server ServerConfig `yaml:"server"`
}

type StoreConfig struct {
	BaseURL        string        `yaml:"base_url"`
	Token          string        `yaml:"token"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	PageSize       int           `yaml:"page_size"`
}

type SearchConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Delay       time.Duration `yaml:"delay"`
	Limit       int           `yaml:"limit"`
}

type LabelsConfig struct {
	Prefix string `yaml:"prefix"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type WatchConfig struct {
	Interval time.Duration `yaml:"interval"`
	Jitter   float64       `yaml:"jitter"`
	Realtime bool          `yaml:"realtime"`
	Debounce time.Duration `yaml:"debounce"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	BackendProfile  string        `yaml:"backend_profile"`
	BackendDSN      string        `yaml:"backend_dsn"`
	DataDir         string        `yaml:"data_dir"`
	JWTSecret       string        `yaml:"jwt_secret"`
	RateLimitMax    int           `yaml:"rate_limit_max"`
	RateLimitWindow time.Duration `yaml:"rate_limit_window"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
}

func Default() Config {
	return Config{
		Store: StoreConfig{
			BaseURL:        "http://127.0.0.1:8090",
			RequestTimeout: 30 * time.Second,
			PageSize:       100,
		},
		Search: SearchConfig{
			MaxAttempts: 3,
			Delay:       2 * time.Second,
			Limit:       50,
		},
		Labels: LabelsConfig{Prefix: "sw-"},
		Log:    LogConfig{Level: "info", Format: "json"},
		Watch: WatchConfig{
			Interval: 30 * time.Second,
			Jitter:   0.2,
			Realtime: true,
			Debounce: 250 * time.Millisecond,
		},
		Server: ServerConfig{
			Addr:            ":8090",
			DataDir:         ".snipstore",
			RateLimitWindow: time.Minute,
			MaxBodyBytes:    1 << 20,
		},
	}
}

// Load reads path (if non-empty) over the defaults, then applies the
// environment. Unknown YAML keys are rejected. Malformed environment values
// keep the previous value and are reported in the returned warnings.
func Load(path string) (Config, []string, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return Config{}, nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := decodeYAML(bytes.NewReader(data), &cfg); err != nil {
			return Config{}, nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	env := newEnvReader(os.LookupEnv)
	env.apply(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, env.warnings, err
	}
	return cfg, env.warnings, nil
}

func decodeYAML(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c Config) Validate() error {
	var problems []string
	if c.Store.RequestTimeout <= 0 {
		problems = append(problems, "store.request_timeout must be positive")
	}
	if c.Store.PageSize <= 0 || c.Store.PageSize > 500 {
		problems = append(problems, "store.page_size must be between 1 and 500")
	}
	if c.Search.MaxAttempts < 1 {
		problems = append(problems, "search.max_attempts must be at least 1")
	}
	if c.Search.Delay < 0 {
		problems = append(problems, "search.delay must not be negative")
	}
	if c.Watch.Jitter < 0 || c.Watch.Jitter > 0.9 {
		problems = append(problems, "watch.jitter must be between 0 and 0.9")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// StoreDSN resolves the server's state backend from the explicit DSN or
// the named profile.
func (s ServerConfig) StoreDSN() (string, error) {
	if dsn := strings.TrimSpace(s.BackendDSN); dsn != "" {
		return dsn, nil
	}
	dataDir := strings.TrimSpace(s.DataDir)
	if dataDir == "" {
		dataDir = ".snipstore"
	}
	switch profile := strings.ToLower(strings.TrimSpace(s.BackendProfile)); profile {
	case "", "memory", "inmemory":
		return "memory://", nil
	case "durable-local", "local-durable", "file":
		return "file://" + filepath.Join(dataDir, "state.json"), nil
	case "sqlite":
		return "sqlite://" + filepath.Join(dataDir, "state.db"), nil
	case "production", "prod":
		return "", fmt.Errorf("server.backend_dsn is required when backend profile is %s", profile)
	default:
		return "", fmt.Errorf("unsupported backend profile: %s", profile)
	}
}
