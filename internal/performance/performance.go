// Package performance keeps the long-run trade log and per-day,
// per-indicator win statistics. It feeds historical reliability on a
// slower, persisted cadence than the live weight tracker.
package performance

import (
	"encoding/json"
	"os"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/avolkov/papertrade/models"
)

// IndicatorStat is a win counter for one indicator.
type IndicatorStat struct {
	Success int `json:"success"`
	Total   int `json:"total"`
}

// DayStats aggregates one calendar day of trading.
type DayStats struct {
	Trades     int                       `json:"trades"`
	Wins       int                       `json:"wins"`
	Profit     float64                   `json:"profit"`
	Indicators map[string]*IndicatorStat `json:"indicators"`
}

// IndicatorRate is a computed success rate used for ranking.
type IndicatorRate struct {
	Indicator string  `json:"indicator"`
	WinRate   float64 `json:"win_rate"`
}

// Summary is the aggregate performance view.
type Summary struct {
	TotalTrades    int             `json:"total_trades"`
	WinRate        float64         `json:"win_rate"`
	TotalProfit    float64         `json:"total_profit"`
	BestIndicators []IndicatorRate `json:"best_indicators"`
}

type history struct {
	Trades     []models.Trade       `json:"trades"`
	DailyStats map[string]*DayStats `json:"daily_stats"`
}

// Tracker records closed trades, persists them to a JSON history file
// and mirrors per-indicator outcomes into the store when one is
// configured. Store failures are logged and never stop trading.
type Tracker struct {
	mu     sync.Mutex
	trades []models.Trade
	daily  map[string]*DayStats
	file   string
	store  models.Store
	logger zerolog.Logger
}

func NewTracker(file string, store models.Store) *Tracker {
	t := &Tracker{
		daily:  make(map[string]*DayStats),
		file:   file,
		store:  store,
		logger: log.With().Str("component", "performance").Logger(),
	}
	t.loadHistory()
	return t
}

func (t *Tracker) loadHistory() {
	data, err := os.ReadFile(t.file)
	if err != nil {
		if !os.IsNotExist(err) {
			t.logger.Error().Err(err).Str("file", t.file).Msg("Error loading trade history")
		}
		return
	}

	var h history
	if err := json.Unmarshal(data, &h); err != nil {
		t.logger.Error().Err(err).Str("file", t.file).Msg("Malformed trade history, starting fresh")
		return
	}
	t.trades = h.Trades
	if h.DailyStats != nil {
		t.daily = h.DailyStats
	}
}

func (t *Tracker) saveHistoryLocked() {
	data, err := json.MarshalIndent(history{Trades: t.trades, DailyStats: t.daily}, "", "  ")
	if err != nil {
		t.logger.Error().Err(err).Msg("Error encoding trade history")
		return
	}
	if err := os.WriteFile(t.file, data, 0o644); err != nil {
		t.logger.Error().Err(err).Str("file", t.file).Msg("Error saving trade history")
	}
}

// AddTrade appends a closed trade, updates the day's counters and
// persists everything.
func (t *Tracker) AddTrade(trade models.Trade) {
	t.mu.Lock()
	t.trades = append(t.trades, trade)
	t.updateStatsLocked(trade)
	t.saveHistoryLocked()
	t.mu.Unlock()

	if t.store == nil {
		return
	}
	if err := t.store.AddTrade(trade); err != nil {
		t.logger.Warn().Err(err).Str("pair", trade.Pair).Msg("Trade not persisted to store")
	}
	win := 0
	if trade.ProfitLoss > 0 {
		win = 1
	}
	for _, indicator := range trade.Indicators {
		if err := t.store.UpsertIndicatorPerformance(trade.Pair, trade.Timeframe, indicator, win, 1); err != nil {
			t.logger.Warn().Err(err).Str("indicator", indicator).Msg("Indicator stat not persisted")
		}
	}
}

func (t *Tracker) updateStatsLocked(trade models.Trade) {
	date := trade.Timestamp.Format("2006-01-02")
	stats, ok := t.daily[date]
	if !ok {
		stats = &DayStats{Indicators: make(map[string]*IndicatorStat)}
		t.daily[date] = stats
	}

	stats.Trades++
	if trade.ProfitLoss > 0 {
		stats.Wins++
	}
	stats.Profit += trade.ProfitLoss

	for _, indicator := range trade.Indicators {
		stat, ok := stats.Indicators[indicator]
		if !ok {
			stat = &IndicatorStat{}
			stats.Indicators[indicator] = stat
		}
		stat.Total++
		if trade.ProfitLoss > 0 {
			stat.Success++
		}
	}
}

// Summary aggregates all recorded trades.
func (t *Tracker) Summary() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.trades) == 0 {
		return Summary{}
	}

	wins := 0
	var profit float64
	for _, trade := range t.trades {
		if trade.ProfitLoss > 0 {
			wins++
		}
		profit += trade.ProfitLoss
	}

	return Summary{
		TotalTrades:    len(t.trades),
		WinRate:        float64(wins) / float64(len(t.trades)),
		TotalProfit:    profit,
		BestIndicators: t.bestIndicatorsLocked(),
	}
}

// BestIndicators ranks indicators by historical win rate, top five.
func (t *Tracker) BestIndicators() []IndicatorRate {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bestIndicatorsLocked()
}

func (t *Tracker) bestIndicatorsLocked() []IndicatorRate {
	totals := make(map[string]*IndicatorStat)
	for _, day := range t.daily {
		for name, stat := range day.Indicators {
			agg, ok := totals[name]
			if !ok {
				agg = &IndicatorStat{}
				totals[name] = agg
			}
			agg.Success += stat.Success
			agg.Total += stat.Total
		}
	}

	var rates []IndicatorRate
	for name, stat := range totals {
		if stat.Total > 0 {
			rates = append(rates, IndicatorRate{
				Indicator: name,
				WinRate:   float64(stat.Success) / float64(stat.Total),
			})
		}
	}

	sort.Slice(rates, func(i, j int) bool {
		if rates[i].WinRate != rates[j].WinRate {
			return rates[i].WinRate > rates[j].WinRate
		}
		return rates[i].Indicator < rates[j].Indicator
	})
	if len(rates) > 5 {
		rates = rates[:5]
	}
	return rates
}
