package trading

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/avolkov/papertrade/internal/analyze"
	"github.com/avolkov/papertrade/internal/calculate"
	"github.com/avolkov/papertrade/internal/decision"
	"github.com/avolkov/papertrade/internal/market"
	"github.com/avolkov/papertrade/internal/notify"
	"github.com/avolkov/papertrade/internal/patterns"
	"github.com/avolkov/papertrade/internal/performance"
	"github.com/avolkov/papertrade/internal/strategy"
	"github.com/avolkov/papertrade/models"
)

// analysisTimeframe is the timeframe the per-pair indicator pipeline
// runs on; the other timeframes feed market context and strategy
// scoring.
const analysisTimeframe = "1h"

// ManagerConfig is the loop tuning the manager needs from the
// application config.
type ManagerConfig struct {
	BatchSize      int
	LoopInterval   time.Duration
	TradeThreshold float64
	Params         calculate.Params
}

// Manager runs the trading loop: fetch, analyze, decide, execute.
type Manager struct {
	cfg      ManagerConfig
	feed     models.MarketDataFeed
	advisor  models.Advisor
	notifier *notify.Notifier
	trader   *PaperTrader
	perf     *performance.Tracker

	analyzer   *analyze.Analyzer
	recognizer *patterns.Recognizer
	context    *market.ContextAnalyzer
	combiner   *decision.Combiner
	strategy   *strategy.Strategy

	logger zerolog.Logger
}

// NewManager wires the analysis pipeline. advisor may be nil when the
// LLM enrichment is disabled.
func NewManager(
	cfg ManagerConfig,
	feed models.MarketDataFeed,
	advisor models.Advisor,
	notifier *notify.Notifier,
	trader *PaperTrader,
	perf *performance.Tracker,
	analyzer *analyze.Analyzer,
	recognizer *patterns.Recognizer,
	contextAnalyzer *market.ContextAnalyzer,
	combiner *decision.Combiner,
	strat *strategy.Strategy,
) *Manager {
	return &Manager{
		cfg:        cfg,
		feed:       feed,
		advisor:    advisor,
		notifier:   notifier,
		trader:     trader,
		perf:       perf,
		analyzer:   analyzer,
		recognizer: recognizer,
		context:    contextAnalyzer,
		combiner:   combiner,
		strategy:   strat,
		logger:     log.With().Str("component", "manager").Logger(),
	}
}

// pairData is one pair's gathered market state for a cycle.
type pairData struct {
	pair       string
	ticker     *models.Ticker
	timeframes map[string][]models.Candle
}

// Run executes trading cycles until the context is cancelled. The
// current batch always finishes before Run returns; the portfolio is
// flushed on every exit path.
func (m *Manager) Run(ctx context.Context) error {
	defer m.trader.Flush()

	m.logger.Info().
		Dur("interval", m.cfg.LoopInterval).
		Int("batch_size", m.cfg.BatchSize).
		Msg("Trading loop started")

	ticker := time.NewTicker(m.cfg.LoopInterval)
	defer ticker.Stop()

	for {
		m.runCycle(ctx)

		select {
		case <-ctx.Done():
			m.logger.Info().Msg("Trading loop stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (m *Manager) runCycle(ctx context.Context) {
	pairs, err := m.feed.GetActivePairs(ctx)
	if err != nil {
		m.logger.Warn().Err(err).Msg("Active pairs unavailable, skipping cycle")
		return
	}
	if len(pairs) > m.cfg.BatchSize {
		pairs = pairs[:m.cfg.BatchSize]
	}

	batch := m.fetchBatch(ctx, pairs)

	prices := make(map[string]float64, len(batch))
	for _, data := range batch {
		if data.ticker != nil {
			prices[data.pair] = data.ticker.Price
		}
	}

	for _, data := range batch {
		if ctx.Err() != nil {
			return
		}
		m.analyzePair(ctx, data, prices)
	}
}

// fetchBatch gathers ticker and OHLC data for every pair in parallel.
// Pairs whose data is unavailable are dropped from the batch.
func (m *Manager) fetchBatch(ctx context.Context, pairs []string) []pairData {
	results := make(chan pairData, len(pairs))

	for _, pair := range pairs {
		go func(pair string) {
			ticker, err := m.feed.GetTicker(ctx, pair)
			if err != nil || ticker == nil {
				m.logger.Warn().Str("pair", pair).Msg("Ticker unavailable, skipping pair")
				results <- pairData{pair: pair}
				return
			}
			timeframes, err := m.feed.GetAllTimeframeData(ctx, pair)
			if err != nil {
				m.logger.Warn().Err(err).Str("pair", pair).Msg("OHLC data unavailable, skipping pair")
				results <- pairData{pair: pair}
				return
			}
			results <- pairData{pair: pair, ticker: ticker, timeframes: timeframes}
		}(pair)
	}

	batch := make([]pairData, 0, len(pairs))
	for range pairs {
		data := <-results
		if data.ticker != nil && data.timeframes != nil {
			batch = append(batch, data)
		}
	}
	return batch
}

func (m *Manager) analyzePair(ctx context.Context, data pairData, prices map[string]float64) {
	candles := data.timeframes[analysisTimeframe]
	if len(candles) == 0 {
		m.logger.Debug().Str("pair", data.pair).Msg("No candles for analysis timeframe")
		return
	}

	readings := m.analyzer.Readings(candles)
	report := m.recognizer.Analyze(candles)
	marketContext := m.context.Analyze(data.timeframes)

	snapshots := make(map[string]models.IndicatorSnapshot, len(data.timeframes))
	for timeframe, tfCandles := range data.timeframes {
		if len(tfCandles) == 0 {
			continue
		}
		snapshots[timeframe] = calculate.Snapshot(tfCandles, m.cfg.Params)
	}
	strategyAction, _, strategyScore := m.strategy.Evaluate(snapshots)

	dec := m.combiner.Decide(decision.Input{
		Readings:       readings,
		Patterns:       report,
		Context:        marketContext,
		Advisory:       m.requestAdvisory(ctx, data, readings),
		Price:          data.ticker.Price,
		ATR:            calculate.ATR(candles, m.cfg.Params.ATRPeriod),
		PortfolioValue: m.trader.PortfolioValue(prices),
	})

	m.logger.Debug().
		Str("pair", data.pair).
		Str("action", dec.Action).
		Float64("confidence", dec.Confidence).
		Str("regime", marketContext.Regime).
		Float64("strategy_score", strategyScore).
		Msg("Pair analyzed")

	if dec.Action == models.ActionHold || dec.Confidence < m.cfg.TradeThreshold {
		return
	}

	// Strategy scoring is a directional sanity check: an outright
	// opposite verdict vetoes the trade.
	if strategyAction != models.ActionHold && strategyAction != dec.Action {
		m.logger.Info().
			Str("pair", data.pair).
			Str("decision", dec.Action).
			Str("strategy", strategyAction).
			Msg("Strategy disagrees with decision, trade skipped")
		return
	}

	m.executeTrade(data, dec, readings)
}

func (m *Manager) requestAdvisory(ctx context.Context, data pairData, readings []models.IndicatorReading) *models.Advisory {
	if m.advisor == nil {
		return nil
	}

	byName := make(map[string]models.IndicatorReading, len(readings))
	for _, r := range readings {
		byName[r.Name] = r
	}
	advisory, err := m.advisor.Analyze(ctx, models.AdvisoryRequest{
		Pair:      data.pair,
		Price:     data.ticker.Price,
		Volume24h: data.ticker.Volume24h,
		Change24h: data.ticker.Change24h,
		Readings:  byName,
	})
	if err != nil {
		m.logger.Warn().Err(err).Str("pair", data.pair).Msg("Advisory unavailable, proceeding rule-based")
		return nil
	}
	return advisory
}

func (m *Manager) executeTrade(data pairData, dec models.Decision, readings []models.IndicatorReading) {
	price := data.ticker.Price
	quantity := dec.PositionSize / price
	if dec.Action == models.ActionSell {
		held := m.trader.Position(data.pair).Quantity
		if held <= 0 {
			m.logger.Debug().Str("pair", data.pair).Msg("Sell signal with no open position")
			return
		}
		if quantity > held {
			quantity = held
		}
	}
	if quantity <= 0 {
		return
	}

	profitLoss, err := m.trader.PlaceOrder(data.pair, dec.Action, quantity, price)
	if err != nil {
		m.logger.Warn().Err(err).
			Str("pair", data.pair).
			Str("action", dec.Action).
			Msg("Order rejected")
		return
	}

	var active []string
	for _, r := range readings {
		if r.Signal != models.SignalNeutral {
			active = append(active, r.Name)
		}
	}
	trade := models.Trade{
		Timestamp:  time.Now().UTC(),
		Pair:       data.pair,
		Timeframe:  analysisTimeframe,
		Action:     dec.Action,
		Price:      price,
		Quantity:   quantity,
		ProfitLoss: profitLoss,
		Indicators: active,
	}
	m.perf.AddTrade(trade)
	m.notifier.NotifyTrade(trade, dec.Confidence, m.trader.Balance())

	m.logger.Info().
		Str("pair", data.pair).
		Str("action", dec.Action).
		Float64("price", price).
		Float64("quantity", quantity).
		Float64("confidence", dec.Confidence).
		Float64("balance", m.trader.Balance()).
		Msg("Trade executed")
}
