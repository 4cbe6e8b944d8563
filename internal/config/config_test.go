package config

import (
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := fromFile(defaults())
	if err := validate(cfg); err != nil {
		t.Fatalf("default configuration must validate: %v", err)
	}
	if cfg.Topic() != "facts.BTC/USD" {
		t.Fatalf("topic = %s, want facts.BTC/USD", cfg.Topic())
	}
}

func TestYAMLOverridesDefaults(t *testing.T) {
	raw := defaults()
	doc := `
pair: ETH/USD
security_currency: ETH
short_window: 10m
mid_window: 45m
long_window: 4h
settlement_delay: 30s
rule_set: simple-moving-average-multiple-buys
cache_enabled: true
`
	if err := yaml.Unmarshal([]byte(doc), &raw); err != nil {
		t.Fatalf("parse yaml: %v", err)
	}
	cfg := fromFile(raw)

	if cfg.Pair != "ETH/USD" || cfg.SecurityCurrency != "ETH" {
		t.Fatalf("pair/security = %s/%s", cfg.Pair, cfg.SecurityCurrency)
	}
	if cfg.ShortWindow != 10*time.Minute || cfg.LongWindow != 4*time.Hour {
		t.Fatalf("windows = %s/%s", cfg.ShortWindow, cfg.LongWindow)
	}
	if cfg.SettlementDelay != 30*time.Second {
		t.Fatalf("settlement delay = %s", cfg.SettlementDelay)
	}
	if !cfg.CacheEnabled {
		t.Fatal("cache_enabled not applied")
	}
	// Fields the file omits keep their defaults.
	if cfg.BaseCurrency != "USD" || cfg.CommissionRate != 0.0025 {
		t.Fatalf("defaults lost: %s/%v", cfg.BaseCurrency, cfg.CommissionRate)
	}
	if err := validate(cfg); err != nil {
		t.Fatalf("merged configuration must validate: %v", err)
	}
}

func TestInvalidDurationRejected(t *testing.T) {
	raw := defaults()
	if err := yaml.Unmarshal([]byte("short_window: quickly"), &raw); err == nil {
		t.Fatal("expected parse error for invalid duration")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing pair", func(c *Config) { c.Pair = "" }},
		{"windows out of order", func(c *Config) { c.ShortWindow = c.LongWindow + time.Hour }},
		{"negative commission", func(c *Config) { c.CommissionRate = -0.01 }},
		{"percentage above one", func(c *Config) { c.TradeAmountPercentage = 1.5 }},
		{"drawdown at one", func(c *Config) { c.CriticalDrawdown = 1 }},
		{"zero settlement attempts", func(c *Config) { c.SettlementAttempts = 0 }},
		{"unknown bus", func(c *Config) { c.BusKind = "carrier-pigeon" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := fromFile(defaults())
			tc.mutate(&cfg)
			if err := validate(cfg); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
