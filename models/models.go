package models

import (
	"time"
)

// Candle represents a single OHLCV price candle. Series are ordered
// oldest-first with strictly increasing timestamps.
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Ticker holds the latest market snapshot for a pair.
type Ticker struct {
	Price     float64 `json:"price"`
	Volume24h float64 `json:"volume_24h"`
	Change24h float64 `json:"change_24h"`
}

// Trade signals ordered from strongest sell to strongest buy.
const (
	SignalStrongSell = "STRONG_SELL"
	SignalSell       = "SELL"
	SignalNeutral    = "NEUTRAL"
	SignalBuy        = "BUY"
	SignalStrongBuy  = "STRONG_BUY"
)

// Trade actions produced by the decision combiner.
const (
	ActionBuy  = "BUY"
	ActionSell = "SELL"
	ActionHold = "HOLD"
)

// Indicator trend directions.
const (
	TrendUpward   = "UPWARD"
	TrendDownward = "DOWNWARD"
)

// Market regimes, weighted-voted across timeframes.
const (
	RegimeStrongUptrend   = "STRONG_UPTREND"
	RegimeStrongDowntrend = "STRONG_DOWNTREND"
	RegimeWeakUptrend     = "WEAK_UPTREND"
	RegimeWeakDowntrend   = "WEAK_DOWNTREND"
	RegimeRanging         = "RANGING"
	RegimeChoppy          = "CHOPPY"
	RegimeUnknown         = "UNKNOWN"
)

// Volatility / risk buckets.
const (
	LevelLow    = "LOW"
	LevelMedium = "MEDIUM"
	LevelHigh   = "HIGH"
)

// Canonical indicator names used across weighting, analysis and persistence.
const (
	IndicatorRSI      = "RSI"
	IndicatorMACD     = "MACD"
	IndicatorBB       = "BB"
	IndicatorEMA      = "EMA"
	IndicatorVolume   = "Volume"
	IndicatorMomentum = "Momentum"
)

// IndicatorSnapshot holds the raw values of every computed indicator for
// one (pair, timeframe) at the latest bar.
type IndicatorSnapshot struct {
	RSI        float64 `json:"rsi"`
	MACD       float64 `json:"macd"`
	MACDSignal float64 `json:"macd_signal"`
	MACDHist   float64 `json:"macd_hist"`
	BBUpper    float64 `json:"bb_upper"`
	BBMiddle   float64 `json:"bb_mid"`
	BBLower    float64 `json:"bb_lower"`
	EMAShort   float64 `json:"ema_short"`
	EMALong    float64 `json:"ema_long"`
	TenkanSen  float64 `json:"tenkan_sen"`
	KijunSen   float64 `json:"kijun_sen"`
	ATR        float64 `json:"atr"`
	OBV        float64 `json:"obv"`
	POCPrice   float64 `json:"poc_price"`
	Close      float64 `json:"close"`
}

// IndicatorReading is one indicator's structured verdict: its latest value,
// trade signal, historically informed reliability and any warning states.
type IndicatorReading struct {
	Name        string   `json:"name"`
	Value       float64  `json:"value"`
	Signal      string   `json:"signal"`
	Reliability float64  `json:"reliability"`
	Trend       string   `json:"trend"`
	Divergence  *bool    `json:"divergence,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
}

// PatternMatch is one detected candlestick or technical pattern
// occurrence.
type PatternMatch struct {
	Type       string  `json:"type"`
	Location   int     `json:"location"`
	Strength   float64 `json:"strength"`
	PriceLevel float64 `json:"price_level"`
}

// TrendLine is a least-squares fit over swing points.
type TrendLine struct {
	Slope     float64 `json:"slope"`
	Intercept float64 `json:"intercept"`
	Points    int     `json:"points"`
}

// PatternReport aggregates everything the pattern recognizer found.
type PatternReport struct {
	Candlesticks   []PatternMatch `json:"candlestick_patterns"`
	Technicals     []PatternMatch `json:"technical_patterns"`
	Support        []float64      `json:"support"`
	Resistance     []float64      `json:"resistance"`
	UpperTrendLine *TrendLine     `json:"upper_trend_line,omitempty"`
	LowerTrendLine *TrendLine     `json:"lower_trend_line,omitempty"`
	ChannelQuality float64        `json:"channel_quality"`
}

// MarketContext is the cross-timeframe regime verdict.
type MarketContext struct {
	Regime                string  `json:"regime"`
	Volatility            string  `json:"volatility"`
	TrendStrength         float64 `json:"trend_strength"`
	RiskLevel             string  `json:"risk_level"`
	IsVolatilityExpanding bool    `json:"is_volatility_expanding"`
}

// Decision is the final per-pair output of one analysis cycle.
type Decision struct {
	Action           string    `json:"primary_action"`
	Confidence       float64   `json:"confidence"`
	RiskLevel        string    `json:"risk_level"`
	PositionSize     float64   `json:"position_size"`
	StopLoss         *float64  `json:"stop_loss,omitempty"`
	TakeProfit       []float64 `json:"take_profit,omitempty"`
	NormalizedSignal float64   `json:"normalized_signal"`
	ActiveIndicators int       `json:"active_indicators"`
}

// HoldDecision is the fully-defined fallback used whenever combination
// fails: never trade on a broken analysis.
func HoldDecision() Decision {
	return Decision{
		Action:     ActionHold,
		Confidence: 0,
		RiskLevel:  LevelHigh,
	}
}

// Trade is one executed (simulated) order, appended to the ledger.
type Trade struct {
	Timestamp  time.Time `json:"timestamp"`
	Pair       string    `json:"pair"`
	Timeframe  string    `json:"timeframe,omitempty"`
	Action     string    `json:"action"`
	Price      float64   `json:"price"`
	Quantity   float64   `json:"quantity"`
	ProfitLoss float64   `json:"profit_loss"`
	Indicators []string  `json:"indicators,omitempty"`
}

// Position is an open holding in the paper portfolio.
type Position struct {
	Quantity float64 `json:"quantity"`
	AvgPrice float64 `json:"avg_price"`
}

// IndicatorPerformanceRecord is the persisted long-run success statistic
// for one (pair, timeframe, indicator).
type IndicatorPerformanceRecord struct {
	Pair        string    `json:"pair"`
	Timeframe   string    `json:"timeframe"`
	Indicator   string    `json:"indicator"`
	SuccessRate float64   `json:"success_rate"`
	TotalTrades int       `json:"total_trades"`
	LastUpdated time.Time `json:"last_updated"`
}

// Advisory is the optional LLM enrichment attached to a decision. It is
// strictly advisory: the combiner only honors it when its confidence beats
// the rule-based one.
type Advisory struct {
	Action     string    `json:"primary_action"`
	Confidence float64   `json:"confidence"`
	StopLoss   float64   `json:"stop_loss,omitempty"`
	TakeProfit []float64 `json:"take_profit,omitempty"`
	RiskLevel  string    `json:"risk_level,omitempty"`
}

// SignalValue maps a signal label to its numeric contribution. The second
// return reports whether the label is recognized.
func SignalValue(signal string) (float64, bool) {
	switch signal {
	case SignalStrongBuy:
		return 1.0, true
	case SignalBuy:
		return 0.5, true
	case SignalNeutral:
		return 0.0, true
	case SignalSell:
		return -0.5, true
	case SignalStrongSell:
		return -1.0, true
	}
	return 0, false
}
