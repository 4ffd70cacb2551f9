package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/avolkov/papertrade/internal/advisor"
	"github.com/avolkov/papertrade/internal/analyze"
	"github.com/avolkov/papertrade/internal/calculate"
	"github.com/avolkov/papertrade/internal/config"
	"github.com/avolkov/papertrade/internal/database"
	"github.com/avolkov/papertrade/internal/decision"
	"github.com/avolkov/papertrade/internal/feed/kraken"
	"github.com/avolkov/papertrade/internal/market"
	"github.com/avolkov/papertrade/internal/notify"
	"github.com/avolkov/papertrade/internal/patterns"
	"github.com/avolkov/papertrade/internal/performance"
	apihttp "github.com/avolkov/papertrade/internal/platform/http"
	"github.com/avolkov/papertrade/internal/strategy"
	"github.com/avolkov/papertrade/internal/trading"
	"github.com/avolkov/papertrade/internal/weights"
	"github.com/avolkov/papertrade/models"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	setupLogging(cfg.LogLevel)
	log.Info().Msg("Starting paper trading bot")
	printConfig(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpClient := apihttp.NewClient(cfg.RequestsPerSec, cfg.RequestTimeout)

	// An explicit SYMBOLS list restricts trading to those pairs;
	// otherwise the feed discovers and ranks USD pairs itself.
	var pairMap map[string]string
	if len(cfg.Symbols) > 0 {
		pairMap = make(map[string]string, len(cfg.Symbols))
		defaults := kraken.DefaultPairs()
		for _, symbol := range cfg.Symbols {
			if code, ok := defaults[symbol]; ok {
				pairMap[symbol] = code
			} else {
				log.Warn().Str("symbol", symbol).Msg("Unknown symbol, skipped")
			}
		}
	}
	feed := kraken.NewFeed(httpClient, pairMap)
	defer feed.Close()

	var store models.Store
	if cfg.DBHost != "" {
		db, err := database.New(database.ConnectionParams{
			Host:     cfg.DBHost,
			Port:     cfg.DBPort,
			User:     cfg.DBUser,
			Password: cfg.DBPassword,
			DBName:   cfg.DBName,
			SSLMode:  cfg.DBSSLMode,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer db.Close()
		store = db
	} else {
		log.Info().Msg("Database disabled, indicator statistics stay in memory")
	}

	var llm models.Advisor
	if cfg.AdvisorURL != "" {
		// The advisor shares the feed's rate limiter but Ollama answers
		// take much longer than exchange calls, so it gets its own timeout.
		llm = advisor.NewClient(httpClient.WithTimeout(cfg.AdvisorTimeout), cfg.AdvisorURL, cfg.AdvisorModel, cfg.AdvisorRetries)
		log.Info().Str("url", cfg.AdvisorURL).Str("model", cfg.AdvisorModel).Msg("LLM advisor enabled")
	} else {
		log.Info().Msg("LLM advisor disabled, running rule-based only")
	}

	notifier, err := notify.New(cfg.TelegramToken, cfg.TelegramChatID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize Telegram notifier")
	}

	params := calculate.Params{
		RSIPeriod:    cfg.RSIPeriod,
		MACDFast:     cfg.MACDFastPeriod,
		MACDSlow:     cfg.MACDSlowPeriod,
		MACDSignal:   cfg.MACDSignalPeriod,
		BBPeriod:     cfg.BBPeriod,
		BBStdDev:     cfg.BBStdDev,
		EMAShort:     cfg.EMAShortPeriod,
		EMALong:      cfg.EMALongPeriod,
		IchimokuConv: calculate.DefaultParams().IchimokuConv,
		IchimokuBase: calculate.DefaultParams().IchimokuBase,
		ATRPeriod:    cfg.ATRPeriod,
		VolumeBins:   cfg.VolumeBins,
	}

	trader := trading.NewPaperTrader(cfg.StateFile, cfg.InitialBalance)
	tracker := weights.NewTracker(cfg.MinWeight, cfg.MaxWeight, cfg.WeightUpdateInterval)
	perf := performance.NewTracker("trade_history.json", store)

	manager := trading.NewManager(
		trading.ManagerConfig{
			BatchSize:      cfg.BatchSize,
			LoopInterval:   cfg.LoopInterval,
			TradeThreshold: cfg.TradeThreshold,
			Params:         params,
		},
		feed,
		llm,
		notifier,
		trader,
		perf,
		analyze.New(params),
		patterns.NewRecognizer(),
		market.NewContextAnalyzer(),
		decision.NewCombiner(tracker, cfg.ATRMultiplier),
		strategy.New(cfg.ScoreThreshold),
	)

	notifier.NotifyStatus("Paper trading bot started")

	if err := manager.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("Trading loop exited with error")
	}

	summary := perf.Summary()
	log.Info().
		Int("trades", summary.TotalTrades).
		Float64("win_rate", summary.WinRate).
		Float64("profit", summary.TotalProfit).
		Float64("balance", trader.Balance()).
		Msg("Shutdown complete")
	notifier.NotifyStatus("Paper trading bot stopped")
}

// setupLogging configures the logger
func setupLogging(logLevel string) {
	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log.Logger = log.Output(output)

	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log.Logger = log.Logger.Level(level)
}

// printConfig outputs the current configuration
func printConfig(cfg *config.Config) {
	log.Info().
		Int("BatchSize", cfg.BatchSize).
		Dur("LoopInterval", cfg.LoopInterval).
		Float64("TradeThreshold", cfg.TradeThreshold).
		Float64("ScoreThreshold", cfg.ScoreThreshold).
		Float64("InitialBalance", cfg.InitialBalance).
		Int("RSIPeriod", cfg.RSIPeriod).
		Int("MACDFastPeriod", cfg.MACDFastPeriod).
		Int("MACDSlowPeriod", cfg.MACDSlowPeriod).
		Int("MACDSignalPeriod", cfg.MACDSignalPeriod).
		Int("BBPeriod", cfg.BBPeriod).
		Float64("BBStdDev", cfg.BBStdDev).
		Int("ATRPeriod", cfg.ATRPeriod).
		Float64("ATRMultiplier", cfg.ATRMultiplier).
		Msg("Configuration loaded")
}
