// Package config loads the strategy configuration: defaults, then an
// optional YAML file, then environment variables for secrets and
// deployment addresses, then command-line flags for run options.
package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type BusKind string

const (
	BusMemory BusKind = "memory"
	BusRedis  BusKind = "redis"
)

type Config struct {
	Pair             string
	BaseCurrency     string
	SecurityCurrency string

	ShortWindow     time.Duration
	MidWindow       time.Duration
	LongWindow      time.Duration
	WindowIncrement time.Duration
	PollInterval    time.Duration

	CommissionRate        float64
	TradeAmountCeiling    float64
	TradeAmountPercentage float64
	UpperSellPercentage   float64
	LowerSellPercentage   float64
	LowerBuyPercentage    float64
	MinTradeSize          float64
	CriticalDrawdown      float64

	SettlementDelay    time.Duration
	SettlementInterval time.Duration
	SettlementAttempts int

	TradingEnabled bool
	RuleSet        string

	BusKind      BusKind
	RedisAddr    string
	CacheEnabled bool
	CachePeriod  time.Duration
	CacheRefresh time.Duration

	TradeHistoryPath string

	APIKey        string
	APISecret     string
	AlpacaBaseURL string
}

// Topic is the fact channel for this pair.
func (c Config) Topic() string {
	return "facts." + c.Pair
}

// duration wraps time.Duration so YAML can carry "15m"-style values.
type duration time.Duration

func (d *duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = duration(parsed)
	return nil
}

type fileConfig struct {
	Pair             string `yaml:"pair"`
	BaseCurrency     string `yaml:"base_currency"`
	SecurityCurrency string `yaml:"security_currency"`

	ShortWindow     duration `yaml:"short_window"`
	MidWindow       duration `yaml:"mid_window"`
	LongWindow      duration `yaml:"long_window"`
	WindowIncrement duration `yaml:"window_increment"`
	PollInterval    duration `yaml:"poll_interval"`

	CommissionRate        float64 `yaml:"commission_rate"`
	TradeAmountCeiling    float64 `yaml:"trade_amount_ceiling"`
	TradeAmountPercentage float64 `yaml:"trade_amount_percentage"`
	UpperSellPercentage   float64 `yaml:"upper_sell_percentage"`
	LowerSellPercentage   float64 `yaml:"lower_sell_percentage"`
	LowerBuyPercentage    float64 `yaml:"lower_buy_percentage"`
	MinTradeSize          float64 `yaml:"min_trade_size"`
	CriticalDrawdown      float64 `yaml:"critical_drawdown"`

	SettlementDelay    duration `yaml:"settlement_delay"`
	SettlementInterval duration `yaml:"settlement_interval"`
	SettlementAttempts int      `yaml:"settlement_attempts"`

	TradingEnabled bool   `yaml:"trading_enabled"`
	RuleSet        string `yaml:"rule_set"`

	Bus          string   `yaml:"bus"`
	RedisAddr    string   `yaml:"redis_addr"`
	CacheEnabled bool     `yaml:"cache_enabled"`
	CachePeriod  duration `yaml:"cache_period"`
	CacheRefresh duration `yaml:"cache_refresh"`

	TradeHistoryPath string `yaml:"trade_history_path"`

	AlpacaBaseURL string `yaml:"alpaca_base_url"`
}

func defaults() fileConfig {
	return fileConfig{
		Pair:                  "BTC/USD",
		BaseCurrency:          "USD",
		SecurityCurrency:      "BTC",
		ShortWindow:           duration(15 * time.Minute),
		MidWindow:             duration(time.Hour),
		LongWindow:            duration(6 * time.Hour),
		WindowIncrement:       duration(5 * time.Minute),
		PollInterval:          duration(30 * time.Second),
		CommissionRate:        0.0025,
		TradeAmountCeiling:    1000,
		TradeAmountPercentage: 0.8,
		UpperSellPercentage:   0.01,
		LowerSellPercentage:   0.1,
		LowerBuyPercentage:    0.05,
		MinTradeSize:          1,
		CriticalDrawdown:      0.2,
		SettlementDelay:       duration(60 * time.Second),
		SettlementInterval:    duration(10 * time.Second),
		SettlementAttempts:    5,
		TradingEnabled:        true,
		RuleSet:               "simple-moving-average",
		Bus:                   string(BusMemory),
		RedisAddr:             "localhost:6379",
		CachePeriod:           duration(24 * time.Hour),
		CacheRefresh:          duration(15 * time.Minute),
		TradeHistoryPath:      "tradeHistory.ndjson",
		AlpacaBaseURL:         "https://paper-api.alpaca.markets",
	}
}

func Load() (Config, error) {
	var (
		configPath     string
		pair           string
		ruleSet        string
		tradingEnabled bool
		killSwitch     bool
	)

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	flag.StringVar(&configPath, "config", "", "path to YAML configuration")
	flag.StringVar(&pair, "pair", "", "trading pair, e.g. BTC/USD")
	flag.StringVar(&ruleSet, "rule-set", "", "named rule set to load")
	flag.BoolVar(&tradingEnabled, "trading-enabled", true, "if false, never place orders")
	flag.BoolVar(&killSwitch, "kill-switch", false, "alias for -trading-enabled=false")
	flag.Parse()

	raw := defaults()
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	if pair != "" {
		raw.Pair = pair
	}
	if ruleSet != "" {
		raw.RuleSet = ruleSet
	}
	if !tradingEnabled || killSwitch {
		raw.TradingEnabled = false
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		raw.RedisAddr = addr
	}

	cfg := fromFile(raw)
	cfg.APIKey = os.Getenv("APCA_API_KEY_ID")
	cfg.APISecret = os.Getenv("APCA_API_SECRET_KEY")

	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func fromFile(raw fileConfig) Config {
	return Config{
		Pair:                  raw.Pair,
		BaseCurrency:          raw.BaseCurrency,
		SecurityCurrency:      raw.SecurityCurrency,
		ShortWindow:           time.Duration(raw.ShortWindow),
		MidWindow:             time.Duration(raw.MidWindow),
		LongWindow:            time.Duration(raw.LongWindow),
		WindowIncrement:       time.Duration(raw.WindowIncrement),
		PollInterval:          time.Duration(raw.PollInterval),
		CommissionRate:        raw.CommissionRate,
		TradeAmountCeiling:    raw.TradeAmountCeiling,
		TradeAmountPercentage: raw.TradeAmountPercentage,
		UpperSellPercentage:   raw.UpperSellPercentage,
		LowerSellPercentage:   raw.LowerSellPercentage,
		LowerBuyPercentage:    raw.LowerBuyPercentage,
		MinTradeSize:          raw.MinTradeSize,
		CriticalDrawdown:      raw.CriticalDrawdown,
		SettlementDelay:       time.Duration(raw.SettlementDelay),
		SettlementInterval:    time.Duration(raw.SettlementInterval),
		SettlementAttempts:    raw.SettlementAttempts,
		TradingEnabled:        raw.TradingEnabled,
		RuleSet:               raw.RuleSet,
		BusKind:               BusKind(raw.Bus),
		RedisAddr:             raw.RedisAddr,
		CacheEnabled:          raw.CacheEnabled,
		CachePeriod:           time.Duration(raw.CachePeriod),
		CacheRefresh:          time.Duration(raw.CacheRefresh),
		TradeHistoryPath:      raw.TradeHistoryPath,
		AlpacaBaseURL:         raw.AlpacaBaseURL,
	}
}

func validate(cfg Config) error {
	if cfg.Pair == "" {
		return fmt.Errorf("pair is required")
	}
	if cfg.BaseCurrency == "" || cfg.SecurityCurrency == "" {
		return fmt.Errorf("base and security currencies are required")
	}
	if cfg.ShortWindow <= 0 || cfg.MidWindow <= 0 || cfg.LongWindow <= 0 {
		return fmt.Errorf("moving-average windows must be positive")
	}
	if cfg.ShortWindow >= cfg.MidWindow || cfg.MidWindow >= cfg.LongWindow {
		return fmt.Errorf("windows must satisfy short < mid < long")
	}
	if cfg.WindowIncrement <= 0 {
		return fmt.Errorf("window-increment must be positive")
	}
	if cfg.PollInterval <= 0 {
		return fmt.Errorf("poll-interval must be positive")
	}
	if cfg.CommissionRate < 0 || cfg.CommissionRate >= 1 {
		return fmt.Errorf("commission-rate must be in [0, 1)")
	}
	if cfg.TradeAmountCeiling <= 0 {
		return fmt.Errorf("trade-amount-ceiling must be positive")
	}
	if cfg.TradeAmountPercentage <= 0 || cfg.TradeAmountPercentage > 1 {
		return fmt.Errorf("trade-amount-percentage must be in (0, 1]")
	}
	if cfg.CriticalDrawdown <= 0 || cfg.CriticalDrawdown >= 1 {
		return fmt.Errorf("critical-drawdown must be in (0, 1)")
	}
	if cfg.SettlementDelay <= 0 || cfg.SettlementInterval <= 0 {
		return fmt.Errorf("settlement delay and interval must be positive")
	}
	if cfg.SettlementAttempts <= 0 {
		return fmt.Errorf("settlement-attempts must be positive")
	}
	if cfg.BusKind != BusMemory && cfg.BusKind != BusRedis {
		return fmt.Errorf("invalid bus kind: %s", cfg.BusKind)
	}
	return nil
}
