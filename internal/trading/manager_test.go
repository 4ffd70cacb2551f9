package trading

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/avolkov/papertrade/internal/analyze"
	"github.com/avolkov/papertrade/internal/calculate"
	"github.com/avolkov/papertrade/internal/decision"
	"github.com/avolkov/papertrade/internal/market"
	"github.com/avolkov/papertrade/internal/notify"
	"github.com/avolkov/papertrade/internal/patterns"
	"github.com/avolkov/papertrade/internal/performance"
	"github.com/avolkov/papertrade/internal/strategy"
	"github.com/avolkov/papertrade/internal/weights"
	"github.com/avolkov/papertrade/models"
)

// fakeFeed serves canned data and records which pairs were requested.
type fakeFeed struct {
	pairs      []string
	tickers    map[string]*models.Ticker
	timeframes map[string]map[string][]models.Candle
	failPairs  map[string]bool
}

func (f *fakeFeed) GetActivePairs(ctx context.Context) ([]string, error) {
	return f.pairs, nil
}

func (f *fakeFeed) GetTicker(ctx context.Context, pair string) (*models.Ticker, error) {
	if f.failPairs[pair] {
		return nil, errors.New("ticker unavailable")
	}
	return f.tickers[pair], nil
}

func (f *fakeFeed) GetAllTimeframeData(ctx context.Context, pair string) (map[string][]models.Candle, error) {
	if f.failPairs[pair] {
		return nil, errors.New("ohlc unavailable")
	}
	return f.timeframes[pair], nil
}

func (f *fakeFeed) Close() error { return nil }

func newTestManager(t *testing.T, feed models.MarketDataFeed, initialBalance float64) (*Manager, *PaperTrader, *performance.Tracker) {
	t.Helper()
	dir := t.TempDir()
	trader := NewPaperTrader(filepath.Join(dir, "state.json"), initialBalance)
	perf := performance.NewTracker(filepath.Join(dir, "history.json"), nil)
	notifier, err := notify.New("", 0)
	if err != nil {
		t.Fatalf("building disabled notifier: %v", err)
	}

	params := calculate.DefaultParams()
	tracker := weights.NewTracker(0.05, 0.40, time.Hour)
	manager := NewManager(
		ManagerConfig{
			BatchSize:      14,
			LoopInterval:   10 * time.Millisecond,
			TradeThreshold: 0.45,
			Params:         params,
		},
		feed,
		nil,
		notifier,
		trader,
		perf,
		analyze.New(params),
		patterns.NewRecognizer(),
		market.NewContextAnalyzer(),
		decision.NewCombiner(tracker, 2.0),
		strategy.New(0.3),
	)
	return manager, trader, perf
}

func steadyCandles(n int, price float64) []models.Candle {
	candles := make([]models.Candle, n)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range candles {
		candles[i] = models.Candle{
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			Open:      price,
			High:      price * 1.001,
			Low:       price * 0.999,
			Close:     price,
			Volume:    100,
		}
	}
	return candles
}

func TestFetchBatchDropsFailedPairs(t *testing.T) {
	feed := &fakeFeed{
		pairs: []string{"BTC/USD", "ETH/USD"},
		tickers: map[string]*models.Ticker{
			"BTC/USD": {Price: 50000},
		},
		timeframes: map[string]map[string][]models.Candle{
			"BTC/USD": {"1h": steadyCandles(40, 50000)},
		},
		failPairs: map[string]bool{"ETH/USD": true},
	}
	manager, _, _ := newTestManager(t, feed, 1000)

	batch := manager.fetchBatch(context.Background(), feed.pairs)
	if len(batch) != 1 {
		t.Fatalf("got %d pairs in batch, want 1", len(batch))
	}
	if batch[0].pair != "BTC/USD" {
		t.Errorf("batch pair = %q, want BTC/USD", batch[0].pair)
	}
}

func TestRunCycleOnQuietMarketPlacesNoTrades(t *testing.T) {
	feed := &fakeFeed{
		pairs: []string{"BTC/USD"},
		tickers: map[string]*models.Ticker{
			"BTC/USD": {Price: 50000},
		},
		timeframes: map[string]map[string][]models.Candle{
			"BTC/USD": {
				"1m": steadyCandles(60, 50000),
				"1h": steadyCandles(60, 50000),
			},
		},
	}
	manager, trader, perf := newTestManager(t, feed, 1000)

	manager.runCycle(context.Background())

	if got := trader.Balance(); got != 1000 {
		t.Errorf("balance = %v, want untouched 1000", got)
	}
	if got := perf.Summary().TotalTrades; got != 0 {
		t.Errorf("recorded %d trades on flat market, want 0", got)
	}
}

func TestExecuteTradeBuyRecordsTrade(t *testing.T) {
	manager, trader, perf := newTestManager(t, &fakeFeed{}, 1000)

	stop := 95.0
	manager.executeTrade(
		pairData{pair: "BTC/USD", ticker: &models.Ticker{Price: 100}},
		models.Decision{Action: models.ActionBuy, Confidence: 0.8, PositionSize: 200, StopLoss: &stop},
		[]models.IndicatorReading{
			{Name: "RSI", Signal: models.SignalBuy},
			{Name: "MACD", Signal: models.SignalNeutral},
		},
	)

	if got := trader.Balance(); got != 800 {
		t.Errorf("balance = %v, want 800 after buying $200", got)
	}
	if got := trader.Position("BTC/USD").Quantity; got != 2.0 {
		t.Errorf("position quantity = %v, want 2", got)
	}
	summary := perf.Summary()
	if summary.TotalTrades != 1 {
		t.Fatalf("recorded %d trades, want 1", summary.TotalTrades)
	}
}

func TestExecuteTradeSellWithoutPositionSkipped(t *testing.T) {
	manager, trader, perf := newTestManager(t, &fakeFeed{}, 1000)

	manager.executeTrade(
		pairData{pair: "BTC/USD", ticker: &models.Ticker{Price: 100}},
		models.Decision{Action: models.ActionSell, Confidence: 0.9, PositionSize: 200},
		nil,
	)

	if got := trader.Balance(); got != 1000 {
		t.Errorf("balance = %v, want untouched 1000", got)
	}
	if got := perf.Summary().TotalTrades; got != 0 {
		t.Errorf("recorded %d trades, want 0", got)
	}
}

func TestExecuteTradeSellCappedAtHeldQuantity(t *testing.T) {
	manager, trader, _ := newTestManager(t, &fakeFeed{}, 1000)
	if _, err := trader.PlaceOrder("BTC/USD", models.ActionBuy, 1.0, 100); err != nil {
		t.Fatalf("seeding position: %v", err)
	}

	manager.executeTrade(
		pairData{pair: "BTC/USD", ticker: &models.Ticker{Price: 110}},
		models.Decision{Action: models.ActionSell, Confidence: 0.9, PositionSize: 500},
		nil,
	)

	if got := trader.Position("BTC/USD").Quantity; got != 0 {
		t.Errorf("position quantity = %v, want fully closed", got)
	}
	// 1000 - 100 (buy) + 110 (sell entire unit) = 1010
	if got := trader.Balance(); got != 1010 {
		t.Errorf("balance = %v, want 1010", got)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	feed := &fakeFeed{pairs: nil}
	manager, _, _ := newTestManager(t, feed, 1000)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- manager.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}
