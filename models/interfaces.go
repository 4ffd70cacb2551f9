package models

import "context"

// MarketDataFeed is the capability surface the trading core needs from an
// exchange backend. Implementations must treat upstream failures as
// empty/absent results rather than errors wherever the core can skip a
// pair for one cycle.
type MarketDataFeed interface {
	// GetActivePairs returns tradable pairs ranked by 24h volume.
	GetActivePairs(ctx context.Context) ([]string, error)
	// GetTicker returns the latest ticker, or nil when unavailable.
	GetTicker(ctx context.Context, pair string) (*Ticker, error)
	// GetAllTimeframeData returns candles per timeframe name. Timeframes
	// that failed to load are present with an empty series.
	GetAllTimeframeData(ctx context.Context, pair string) (map[string][]Candle, error)
	Close() error
}

// Store persists indicator performance statistics and the trade ledger.
// Callers treat every error as non-fatal: trading continues on in-memory
// state when persistence is down.
type Store interface {
	UpsertIndicatorPerformance(pair, timeframe, indicator string, successes, total int) error
	GetIndicatorPerformance(pair, timeframe, indicator string) (*IndicatorPerformanceRecord, error)
	GetBestIndicators(pair, timeframe string) ([]IndicatorPerformanceRecord, error)
	AddTrade(trade Trade) error
	Close() error
}

// AdvisoryRequest carries the market state embedded into the advisory
// prompt.
type AdvisoryRequest struct {
	Pair      string
	Price     float64
	Volume24h float64
	Change24h float64
	Readings  map[string]IndicatorReading
}

// Advisor is the optional LLM enrichment collaborator. A nil Advisory with
// a nil error means the advisor is disabled.
type Advisor interface {
	Analyze(ctx context.Context, req AdvisoryRequest) (*Advisory, error)
}
