// Package market classifies the broader regime a pair is trading in by
// combining volatility and trend verdicts across timeframes.
package market

import (
	"math"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/avolkov/papertrade/internal/calculate"
	"github.com/avolkov/papertrade/models"
)

// contextTimeframes lists the timeframes that participate in the
// combined verdict, shortest first, with their vote weights.
var contextTimeframes = []struct {
	name   string
	weight float64
}{
	{"1m", 0.1},
	{"5m", 0.2},
	{"15m", 0.3},
	{"1h", 0.4},
}

const (
	emaShortSpan = 20
	emaLongSpan  = 50
)

type timeframeAnalysis struct {
	volatilityLevel string
	volatilityValue float64
	isExpanding     bool
	regime          string
	trendStrength   float64
}

type ContextAnalyzer struct {
	logger zerolog.Logger
}

func NewContextAnalyzer() *ContextAnalyzer {
	return &ContextAnalyzer{
		logger: log.With().Str("component", "market_context").Logger(),
	}
}

// Analyze combines per-timeframe analyses into one MarketContext.
// Missing or empty timeframes are skipped; with no usable data at all
// the context degrades to UNKNOWN regime at HIGH risk.
func (a *ContextAnalyzer) Analyze(timeframeData map[string][]models.Candle) models.MarketContext {
	type vote struct {
		regime string
		weight float64
	}
	var votes []vote

	var weightedVol, totalWeight, trendStrength float64
	expanding := false

	for _, tf := range contextTimeframes {
		candles, ok := timeframeData[tf.name]
		if !ok || len(candles) == 0 {
			continue
		}

		analysis := analyzeTimeframe(candles)

		weightedVol += float64(volatilityOrdinal(analysis.volatilityLevel)) * tf.weight
		totalWeight += tf.weight
		if analysis.isExpanding {
			expanding = true
		}

		trendStrength += analysis.trendStrength * tf.weight
		votes = append(votes, vote{analysis.regime, tf.weight})
	}

	if totalWeight == 0 {
		a.logger.Debug().Msg("No usable timeframe data, returning unknown context")
		return models.MarketContext{
			Regime:     models.RegimeUnknown,
			Volatility: models.LevelHigh,
			RiskLevel:  models.LevelHigh,
		}
	}

	avgVol := weightedVol / totalWeight
	volatility := models.LevelLow
	if avgVol > 1.5 {
		volatility = models.LevelHigh
	} else if avgVol > 0.5 {
		volatility = models.LevelMedium
	}

	// Weighted regime vote. Ties go to the regime backed by the
	// longest timeframe, which is the one voted on last.
	tally := make(map[string]float64)
	regime := models.RegimeUnknown
	best := -1.0
	for _, v := range votes {
		tally[v.regime] += v.weight
		if tally[v.regime] >= best {
			best = tally[v.regime]
			regime = v.regime
		}
	}

	return models.MarketContext{
		Regime:                regime,
		Volatility:            volatility,
		TrendStrength:         trendStrength,
		RiskLevel:             volatility,
		IsVolatilityExpanding: expanding,
	}
}

func analyzeTimeframe(candles []models.Candle) timeframeAnalysis {
	closes := calculate.Closes(candles)
	returns := returnSeries(closes)

	vol := stdDev(returns)
	level := models.LevelLow
	if vol > 0.02 {
		level = models.LevelHigh
	} else if vol > 0.01 {
		level = models.LevelMedium
	}

	regime, strength := trendRegime(closes)

	return timeframeAnalysis{
		volatilityLevel: level,
		volatilityValue: vol,
		isExpanding:     isVolatilityExpanding(returns),
		regime:          regime,
		trendStrength:   strength,
	}
}

// trendRegime classifies the trend from the separation between the
// short and long EMA, normalized by the long EMA.
func trendRegime(closes []float64) (string, float64) {
	if len(closes) == 0 {
		return models.RegimeRanging, 0
	}

	short := calculate.EMA(closes, emaShortSpan)
	long := calculate.EMA(closes, emaLongSpan)
	if long == 0 {
		return models.RegimeRanging, 0
	}

	strength := math.Abs((short - long) / long)
	up := short > long

	switch {
	case strength > 0.02 && up:
		return models.RegimeStrongUptrend, strength
	case strength > 0.02:
		return models.RegimeStrongDowntrend, strength
	case strength > 0.01 && up:
		return models.RegimeWeakUptrend, strength
	case strength > 0.01:
		return models.RegimeWeakDowntrend, strength
	default:
		return models.RegimeRanging, strength
	}
}

func volatilityOrdinal(level string) int {
	switch level {
	case models.LevelHigh:
		return 2
	case models.LevelMedium:
		return 1
	default:
		return 0
	}
}

// isVolatilityExpanding compares the return dispersion of the last 10
// bars against the 10 before them.
func isVolatilityExpanding(returns []float64) bool {
	if len(returns) < 20 {
		return false
	}
	recent := stdDev(returns[len(returns)-10:])
	older := stdDev(returns[len(returns)-20 : len(returns)-10])
	return recent > older
}

func returnSeries(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			continue
		}
		out = append(out, (closes[i]-closes[i-1])/closes[i-1])
	}
	return out
}

// stdDev is the sample standard deviation.
func stdDev(xs []float64) float64 {
	n := len(xs)
	if n < 2 {
		return 0
	}
	var mean float64
	for _, v := range xs {
		mean += v
	}
	mean /= float64(n)

	var variance float64
	for _, v := range xs {
		variance += (v - mean) * (v - mean)
	}
	return math.Sqrt(variance / float64(n-1))
}
