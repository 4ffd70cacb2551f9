// One-shot analysis of a single pair: fetches live Kraken data, runs
// the full indicator pipeline and prints the verdict without trading.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/avolkov/papertrade/internal/analyze"
	"github.com/avolkov/papertrade/internal/calculate"
	"github.com/avolkov/papertrade/internal/config"
	"github.com/avolkov/papertrade/internal/decision"
	"github.com/avolkov/papertrade/internal/feed/kraken"
	"github.com/avolkov/papertrade/internal/market"
	"github.com/avolkov/papertrade/internal/patterns"
	apihttp "github.com/avolkov/papertrade/internal/platform/http"
	"github.com/avolkov/papertrade/internal/strategy"
	"github.com/avolkov/papertrade/internal/weights"
	"github.com/avolkov/papertrade/models"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log.Logger = log.Output(output).Level(zerolog.WarnLevel)

	pair := os.Getenv("PAIR")
	if pair == "" {
		pair = "BTC/USD"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	feed := kraken.NewFeed(apihttp.NewClient(cfg.RequestsPerSec, cfg.RequestTimeout), nil)
	defer feed.Close()

	ticker, err := feed.GetTicker(ctx, pair)
	if err != nil || ticker == nil {
		log.Fatal().Err(err).Str("pair", pair).Msg("Ticker unavailable")
	}
	timeframes, err := feed.GetAllTimeframeData(ctx, pair)
	if err != nil {
		log.Fatal().Err(err).Str("pair", pair).Msg("OHLC data unavailable")
	}
	candles := timeframes["1h"]
	if len(candles) == 0 {
		log.Fatal().Str("pair", pair).Msg("No hourly candles")
	}

	params := calculate.DefaultParams()
	readings := analyze.New(params).Readings(candles)
	report := patterns.NewRecognizer().Analyze(candles)
	marketContext := market.NewContextAnalyzer().Analyze(timeframes)

	snapshots := make(map[string]models.IndicatorSnapshot, len(timeframes))
	for timeframe, tfCandles := range timeframes {
		if len(tfCandles) > 0 {
			snapshots[timeframe] = calculate.Snapshot(tfCandles, params)
		}
	}
	strategyAction, strategyConfidence, score := strategy.New(cfg.ScoreThreshold).Evaluate(snapshots)

	tracker := weights.NewTracker(cfg.MinWeight, cfg.MaxWeight, cfg.WeightUpdateInterval)
	dec := decision.NewCombiner(tracker, cfg.ATRMultiplier).Decide(decision.Input{
		Readings:       readings,
		Patterns:       report,
		Context:        marketContext,
		Price:          ticker.Price,
		ATR:            calculate.ATR(candles, params.ATRPeriod),
		PortfolioValue: cfg.InitialBalance,
	})

	fmt.Printf("=== %s ===\n", pair)
	fmt.Printf("Price: $%.4f  24h change: %+.2f%%  24h volume: %.2f\n\n", ticker.Price, ticker.Change24h, ticker.Volume24h)

	fmt.Println("Indicators:")
	for _, r := range readings {
		fmt.Printf("  %-16s value %10.4f  signal %-12s reliability %.2f\n", r.Name, r.Value, r.Signal, r.Reliability)
		for _, w := range r.Warnings {
			fmt.Printf("    ! %s\n", w)
		}
	}

	if len(report.Candlesticks) > 0 {
		fmt.Println("\nPatterns:")
		for _, p := range report.Candlesticks {
			fmt.Printf("  %-20s strength %.2f at $%.4f\n", p.Type, p.Strength, p.PriceLevel)
		}
	}
	if len(report.Support) > 0 || len(report.Resistance) > 0 {
		fmt.Printf("\nSupport: %v\nResistance: %v\n", report.Support, report.Resistance)
	}

	fmt.Printf("\nMarket context: regime %s, volatility %s (expanding: %v), risk %s\n",
		marketContext.Regime, marketContext.Volatility, marketContext.IsVolatilityExpanding, marketContext.RiskLevel)
	fmt.Printf("Strategy: %s (confidence %.2f, score %+.3f)\n", strategyAction, strategyConfidence, score)

	fmt.Printf("\nDecision: %s (confidence %.2f, %d active indicators)\n", dec.Action, dec.Confidence, dec.ActiveIndicators)
	if dec.Action != models.ActionHold {
		fmt.Printf("Position size: $%.2f\n", dec.PositionSize)
		if dec.StopLoss != nil {
			fmt.Printf("Stop loss: $%.4f\n", *dec.StopLoss)
		}
		for i, tp := range dec.TakeProfit {
			fmt.Printf("Take profit %d: $%.4f\n", i+1, tp)
		}
	}
}
