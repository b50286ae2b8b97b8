// Package config loads taskbridge settings from a YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the YAML file when --config is not given.
const EnvConfigPath = "TASKBRIDGE_CONFIG"

type Config struct {
	Backend Backend `yaml:"backend"`
	Bridge  Bridge  `yaml:"bridge"`
	Store   Store   `yaml:"store"`
	Log     Log     `yaml:"log"`
}

// Backend is how the bridge reaches the task store.
type Backend struct {
	URL         string        `yaml:"url"`
	PoolSize    int           `yaml:"pool_size"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxAttempts int           `yaml:"max_attempts"`
	Backoff     time.Duration `yaml:"backoff"`
}

type Bridge struct {
	Port int `yaml:"port"`
	// GRPCPort enables the gRPC transport when non-zero.
	GRPCPort     int    `yaml:"grpc_port"`
	APIKey       string `yaml:"api_key"`
	Instructions string `yaml:"instructions"`
}

type Store struct {
	Port   int    `yaml:"port"`
	DBPath string `yaml:"db_path"`
	Seed   bool   `yaml:"seed"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Default() Config {
	return Config{
		Backend: Backend{
			URL:         "http://localhost:8001",
			PoolSize:    16,
			Timeout:     30 * time.Second,
			MaxAttempts: 3,
			Backoff:     200 * time.Millisecond,
		},
		Bridge: Bridge{
			Port:   8002,
			APIKey: "task-management-secret",
		},
		Store: Store{
			Port:   8001,
			DBPath: "tasks.db",
		},
		Log: Log{Level: "info", Format: "text"},
	}
}

// Load starts from Default, overlays the YAML file at path (or the one named
// by TASKBRIDGE_CONFIG when path is empty) and then the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return cfg, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadFile overlays the YAML document at path. Unknown keys are rejected.
func (c *Config) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays the environment variables the services have always
// honoured.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %q is not a number", key, v))
				return
			}
			*dst = n
		}
	}

	str("BACKEND_API_URL", &c.Backend.URL)
	str("BRIDGE_API_KEY", &c.Bridge.APIKey)
	num("BRIDGE_PORT", &c.Bridge.Port)
	num("GRPC_PORT", &c.Bridge.GRPCPort)
	num("STORE_PORT", &c.Store.Port)
	str("STORE_DB_PATH", &c.Store.DBPath)
	str("LOG_LEVEL", &c.Log.Level)
	return errors.Join(errs...)
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if u, err := url.Parse(c.Backend.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("backend.url: %q is not an http(s) URL", c.Backend.URL))
	}
	if c.Backend.PoolSize < 1 {
		errs = append(errs, errors.New("backend.pool_size must be at least 1"))
	}
	if c.Backend.Timeout <= 0 {
		errs = append(errs, errors.New("backend.timeout must be positive"))
	}
	if c.Backend.MaxAttempts < 1 {
		errs = append(errs, errors.New("backend.max_attempts must be at least 1"))
	}
	if c.Backend.Backoff < 0 {
		errs = append(errs, errors.New("backend.backoff must not be negative"))
	}
	for name, port := range map[string]int{"bridge.port": c.Bridge.Port, "bridge.grpc_port": c.Bridge.GRPCPort, "store.port": c.Store.Port} {
		if port < 0 || port > 65535 {
			errs = append(errs, fmt.Errorf("%s: %d is out of range", name, port))
		}
	}
	if c.Bridge.APIKey == "" {
		errs = append(errs, errors.New("bridge.api_key must not be empty"))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if f := strings.ToLower(c.Log.Format); f != "text" && f != "json" {
		errs = append(errs, fmt.Errorf("log.format: %q is neither text nor json", c.Log.Format))
	}
	return errors.Join(errs...)
}

// ParseLevel accepts debug, info, warn (or warning) and error in any case.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("log.level: unknown level %q", s)
}

// NewLogger builds the process logger. The returned LevelVar lets a client
// change the level at runtime.
func (l Log) NewLogger(w io.Writer) (*slog.Logger, *slog.LevelVar, error) {
	lvl, err := ParseLevel(l.Level)
	if err != nil {
		return nil, nil, err
	}
	level := new(slog.LevelVar)
	level.Set(lvl)
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if strings.EqualFold(l.Format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h), level, nil
}
