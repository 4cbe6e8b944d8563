package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"siena/internal/bus"
	"siena/internal/config"
	"siena/internal/engine"
	"siena/internal/exchange"
	"siena/internal/executor"
	"siena/internal/ledger"
	"siena/internal/md"
	"siena/internal/regime"
	"siena/internal/rules"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config error")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signalChan
		log.Info().Msg("shutdown signal received")
		cancel()
	}()

	client := exchange.NewAlpacaClient(cfg.APIKey, cfg.APISecret, cfg.AlpacaBaseURL, cfg.BaseCurrency, cfg.SecurityCurrency)

	var factBus bus.Bus
	switch cfg.BusKind {
	case config.BusRedis:
		redisBus, err := bus.NewRedisBus(cfg.RedisAddr)
		if err != nil {
			log.Fatal().Err(err).Msg("fact bus error")
		}
		defer redisBus.Close()
		factBus = redisBus
	default:
		memoryBus := bus.NewMemoryBus()
		defer memoryBus.Close()
		factBus = memoryBus
	}

	var cache *md.Cache
	if cfg.CacheEnabled {
		cache, err = md.NewCache(cfg.RedisAddr, client, cfg.CachePeriod)
		if err != nil {
			log.Fatal().Err(err).Msg("market history cache error")
		}
		defer cache.Close()
		if err := cache.Warm(ctx, cfg.Pair); err != nil {
			log.Error().Err(err).Msg("initial cache warm failed")
		}
		go cache.Run(ctx, cfg.Pair, cfg.CacheRefresh)
	}

	account := ledger.NewAccount(cfg.BaseCurrency, cfg.SecurityCurrency, ledger.Limits{
		Ceiling:    decimal.NewFromFloat(cfg.TradeAmountCeiling),
		Percentage: decimal.NewFromFloat(cfg.TradeAmountPercentage),
	})

	history, err := executor.NewTradeHistory(cfg.TradeHistoryPath, uuid.NewString())
	if err != nil {
		log.Fatal().Err(err).Msg("trade history error")
	}
	defer func() {
		if err := history.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close trade history")
		}
	}()

	exec := executor.New(executor.Config{
		Pair:               cfg.Pair,
		Topic:              cfg.Topic(),
		BaseCurrency:       cfg.BaseCurrency,
		SecurityCurrency:   cfg.SecurityCurrency,
		CommissionRate:     decimal.NewFromFloat(cfg.CommissionRate),
		UpperSellFloor:     decimal.NewFromFloat(cfg.UpperSellPercentage),
		SettlementDelay:    cfg.SettlementDelay,
		SettlementInterval: cfg.SettlementInterval,
		SettlementAttempts: cfg.SettlementAttempts,
		Tolerance:          decimal.New(1, -8),
		TradingEnabled:     cfg.TradingEnabled,
	}, client, account, factBus, nil, history, nil)

	ruleList, err := rules.Set(cfg.RuleSet)
	if err != nil {
		log.Fatal().Err(err).Msg("rule set error")
	}

	classifier := regime.NewClassifier(cfg.Pair, cfg.Topic(), factBus, account, decimal.NewFromFloat(cfg.UpperSellPercentage))
	calc := md.NewCalculator(client, cache)
	controller := engine.New(cfg, client, calc, classifier, account, exec, rules.NewEngine(ruleList), factBus)

	log.Info().Str("pair", cfg.Pair).Str("rule_set", cfg.RuleSet).
		Bool("trading_enabled", cfg.TradingEnabled).Msg("starting siena")
	if err := controller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("controller stopped")
	}
	log.Info().Msg("shutdown complete")
}
