package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"algodesk/internal/domain"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the algodesk server.
type Config struct {
	Storage  Storage        `yaml:"storage"`
	Server   Server         `yaml:"server"`
	Alpaca   Alpaca         `yaml:"alpaca"`
	Logging  Logging        `yaml:"logging"`
	Trading  TradingConfig  `yaml:"trading"`
	Strategy StrategyConfig `yaml:"strategy"`
}

// Storage holds paths for data persistence. An empty SQLitePath disables the
// order journal.
type Storage struct {
	DataDir     string `yaml:"data_dir"`
	SQLitePath  string `yaml:"sqlite_path"`
	RecordTicks bool   `yaml:"record_ticks"`
}

// Server holds network listener configuration. A zero GRPCPort disables the
// gRPC event stream.
type Server struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	GRPCPort   int    `yaml:"grpc_port"`
	CORSOrigin string `yaml:"cors_origin"`
}

// Alpaca holds credentials and endpoints for the Alpaca broker API.
type Alpaca struct {
	APIKey    string   `yaml:"api_key"`
	APISecret string   `yaml:"api_secret"`
	BaseURL   string   `yaml:"base_url"`
	DataURL   string   `yaml:"data_url"`
	StreamURL string   `yaml:"stream_url"`
	Feed      string   `yaml:"feed"`
	Symbols   []string `yaml:"symbols"`
}

// Configured reports whether credentials are present.
func (a Alpaca) Configured() bool {
	return a.APIKey != "" && a.APISecret != ""
}

// Validate reports the first missing field needed to connect.
func (a Alpaca) Validate() error {
	if a.APIKey == "" {
		return &domain.ConfigurationError{Field: "api_key", Reason: "required"}
	}
	if a.APISecret == "" {
		return &domain.ConfigurationError{Field: "api_secret", Reason: "required"}
	}
	if len(a.Symbols) == 0 {
		return &domain.ConfigurationError{Field: "symbols", Reason: "at least one symbol is required"}
	}
	return nil
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TradingConfig defines routing and execution parameters.
type TradingConfig struct {
	DefaultMode     string          `yaml:"default_mode"`
	MaxQuantity     int64           `yaml:"max_quantity"`
	BrokerTimeout   time.Duration   `yaml:"broker_timeout"`
	DispatchWorkers int             `yaml:"dispatch_workers"`
	DispatchQueue   int             `yaml:"dispatch_queue"`
	PollInterval    time.Duration   `yaml:"poll_interval"`
	PollRatePerMin  int             `yaml:"poll_rate_per_min"`
	BatchWindow     time.Duration   `yaml:"batch_window"`
	Reconnect       ReconnectConfig `yaml:"reconnect"`
}

// ReconnectConfig is the feed reconnect policy. Zero MaxAttempts retries for
// as long as the session runs.
type ReconnectConfig struct {
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// StrategyConfig controls where uploaded scripts are kept and which built-in
// strategy is loaded at startup.
type StrategyConfig struct {
	Dir             string        `yaml:"dir"`
	Builtin         string        `yaml:"builtin"`
	Symbol          string        `yaml:"symbol"`
	CallbackTimeout time.Duration `yaml:"callback_timeout"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Storage: Storage{
			DataDir:    "data",
			SQLitePath: "data/algodesk.db",
		},
		Server: Server{
			Host:       "0.0.0.0",
			Port:       5000,
			GRPCPort:   9090,
			CORSOrigin: "*",
		},
		Alpaca: Alpaca{
			BaseURL: "https://paper-api.alpaca.markets",
			Feed:    "iex",
		},
		Logging: Logging{Level: "info", Format: "json"},
		Trading: TradingConfig{
			DefaultMode:     string(domain.ModePaper),
			BrokerTimeout:   10 * time.Second,
			DispatchWorkers: 2,
			DispatchQueue:   256,
			PollInterval:    2 * time.Second,
			PollRatePerMin:  120,
			BatchWindow:     250 * time.Millisecond,
			Reconnect: ReconnectConfig{
				BaseDelay: time.Second,
				MaxDelay:  time.Minute,
			},
		},
		Strategy: StrategyConfig{
			Dir:             "strategies",
			CallbackTimeout: 2 * time.Second,
		},
	}
}

// Load reads the YAML configuration file at the given path over the
// defaults, then applies environment variable overrides. An empty path skips
// the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail later at startup.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 {
		errs = append(errs, fmt.Errorf("server.port must be positive, got %d", c.Server.Port))
	}
	if _, err := domain.ParseMode(c.Trading.DefaultMode); err != nil {
		errs = append(errs, fmt.Errorf("trading.default_mode: %w", err))
	}
	if c.Trading.MaxQuantity < 0 {
		errs = append(errs, errors.New("trading.max_quantity must not be negative"))
	}
	if c.Trading.DispatchWorkers <= 0 {
		errs = append(errs, errors.New("trading.dispatch_workers must be positive"))
	}
	if c.Trading.DispatchQueue <= 0 {
		errs = append(errs, errors.New("trading.dispatch_queue must be positive"))
	}
	if c.Trading.BrokerTimeout <= 0 {
		errs = append(errs, errors.New("trading.broker_timeout must be positive"))
	}
	return errors.Join(errs...)
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ALGODESK_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("ALGODESK_SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("ALGODESK_STRATEGY_DIR"); v != "" {
		cfg.Strategy.Dir = v
	}

	// PORT is set by most PaaS runtimes.
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("ALGODESK_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}
	if v := os.Getenv("ALPACA_STREAM_URL"); v != "" {
		cfg.Alpaca.StreamURL = v
	}
	if v := os.Getenv("ALPACA_FEED"); v != "" {
		cfg.Alpaca.Feed = v
	}
	if v := os.Getenv("ALGODESK_SYMBOLS"); v != "" {
		cfg.Alpaca.Symbols = splitList(v)
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Standard Alpaca env vars (highest priority, canonical names used by SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, strings.ToUpper(p))
		}
	}
	return out
}
