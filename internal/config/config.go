// Package config defines all configuration for the quoting agent. Config
// is loaded from a YAML file with env var overrides, mirroring the
// teacher's internal/config.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"derivquoter/pkg/price"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Trading   TradingConfig   `mapstructure:"trading"`
	Strategy  StrategyConfig  `mapstructure:"strategy"`
	BookFeed  BookFeedConfig  `mapstructure:"book_feed"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	StatusAPI StatusAPIConfig `mapstructure:"status_api"`
}

// TradingConfig identifies the trading-gate endpoint and this agent's
// session identity.
type TradingConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	LoginID      uint32 `mapstructure:"login_id"`
	Account      int64  `mapstructure:"account"`
	FirstReqID   uint64 `mapstructure:"first_request_id"`
	FloodLimit   int    `mapstructure:"flood_limit"`
}

// StrategyConfig tunes the quoting engine. Interest, Shift and Increment
// are entered as human decimal strings in YAML (e.g. "0.5") and converted
// once at load time to the ×10⁹ fixed-point integers the engine operates
// on internally.
type StrategyConfig struct {
	Instrument      int32  `mapstructure:"instrument"`
	StandardVolume  int32  `mapstructure:"standard_volume"`
	InitialPosition int32  `mapstructure:"initial_position"`
	MaxPosition     int32  `mapstructure:"max_position"`
	Interest        string `mapstructure:"interest"`
	Shift           string `mapstructure:"shift"`
	Increment       string `mapstructure:"increment"`
}

// BookFeedConfig points at the market data WebSocket and sets the
// top-of-book depth handed to the quoting engine on every update.
type BookFeedConfig struct {
	WSURL string `mapstructure:"ws_url"`
	Depth int    `mapstructure:"depth"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StatusAPIConfig controls the ambient /healthz, /metrics and /status
// HTTP server — the operational surface that survives from the
// teacher's dashboard once the multi-market SSE hub is gone.
type StatusAPIConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// Scaled holds the fixed-point values derived from StrategyConfig's
// decimal fields. The quoting engine only ever sees these, never the raw
// YAML strings.
type Scaled struct {
	Interest  int64
	Shift     int64
	Increment price.Price
}

// floodPeriod is fixed by the protocol at one second (§4.2's "events per
// period" is always a one-second sliding window); it is not an operator
// tunable.
const floodPeriod = time.Second

// Load reads config from a YAML file with env var overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("DERIVQUOTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if loginID := os.Getenv("DERIVQUOTER_LOGIN_ID"); loginID != "" {
		var parsed uint32
		if _, err := fmt.Sscanf(loginID, "%d", &parsed); err == nil {
			cfg.Trading.LoginID = parsed
		}
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges before any
// connection is opened, fatal-before-connect per the agent's fault
// policy.
func (c *Config) Validate() error {
	if c.Trading.Host == "" {
		return fmt.Errorf("trading.host is required")
	}
	if c.Trading.Port == 0 {
		return fmt.Errorf("trading.port is required")
	}
	if c.Trading.LoginID == 0 {
		return fmt.Errorf("trading.login_id is required (set DERIVQUOTER_LOGIN_ID)")
	}
	if c.Trading.FloodLimit <= 0 {
		return fmt.Errorf("trading.flood_limit must be > 0")
	}
	if c.Strategy.StandardVolume <= 0 {
		return fmt.Errorf("strategy.standard_volume must be > 0")
	}
	if c.Strategy.MaxPosition <= 0 {
		return fmt.Errorf("strategy.max_position must be > 0")
	}
	if c.Strategy.InitialPosition < -c.Strategy.MaxPosition || c.Strategy.InitialPosition > c.Strategy.MaxPosition {
		return fmt.Errorf("strategy.initial_position must be within [-max_position, max_position]")
	}
	if _, err := decimal.NewFromString(c.Strategy.Interest); err != nil {
		return fmt.Errorf("strategy.interest: %w", err)
	}
	if _, err := decimal.NewFromString(c.Strategy.Shift); err != nil {
		return fmt.Errorf("strategy.shift: %w", err)
	}
	inc, err := decimal.NewFromString(c.Strategy.Increment)
	if err != nil {
		return fmt.Errorf("strategy.increment: %w", err)
	}
	if inc.Sign() <= 0 {
		return fmt.Errorf("strategy.increment must be > 0")
	}
	if c.BookFeed.WSURL == "" {
		return fmt.Errorf("book_feed.ws_url is required")
	}
	if c.BookFeed.Depth <= 0 {
		return fmt.Errorf("book_feed.depth must be > 0")
	}
	return nil
}

// Scale converts the decimal strategy fields to fixed-point. Call only
// after Validate has confirmed they parse.
func (c *Config) Scale() Scaled {
	scale := decimal.New(1, price.ScaleExponent*-1)

	interest, _ := decimal.NewFromString(c.Strategy.Interest)
	shift, _ := decimal.NewFromString(c.Strategy.Shift)
	increment, _ := decimal.NewFromString(c.Strategy.Increment)

	return Scaled{
		Interest:  interest.Mul(scale).IntPart(),
		Shift:     shift.Mul(scale).IntPart(),
		Increment: price.Price(increment.Mul(scale).IntPart()),
	}
}

// FloodPeriod returns the fixed one-second sliding window the flood
// tracker evicts against.
func (c *Config) FloodPeriod() time.Duration { return floodPeriod }
