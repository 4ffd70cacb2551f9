// Package strategy scores indicator snapshots per timeframe and folds
// them into a single cross-timeframe action. It is the fast heuristic
// counterpart to the full decision combiner and is used for
// confirmation and position sizing.
package strategy

import (
	"math"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/avolkov/papertrade/models"
)

// timeframeWeights favors longer timeframes; unknown timeframes count
// at the smallest weight.
var timeframeWeights = map[string]float64{
	"1m":  0.1,
	"5m":  0.2,
	"15m": 0.3,
	"1h":  0.4,
	"4h":  0.5,
	"1d":  0.6,
}

const unknownTimeframeWeight = 0.1

type Strategy struct {
	scoreThreshold float64
	logger         zerolog.Logger
}

func New(scoreThreshold float64) *Strategy {
	return &Strategy{
		scoreThreshold: scoreThreshold,
		logger:         log.With().Str("component", "strategy").Logger(),
	}
}

// ScoreTimeframe rates one snapshot in [-1.2, 1.2]: positive favors
// buying, negative selling.
func (s *Strategy) ScoreTimeframe(snap models.IndicatorSnapshot) float64 {
	score := 0.0

	if snap.RSI < 45 {
		score += 0.4
	} else if snap.RSI > 55 {
		score -= 0.4
	}

	if snap.MACD > snap.MACDSignal*0.7 {
		score += 0.3
	} else {
		score -= 0.3
	}

	price := snap.Close
	if price == 0 {
		price = snap.BBMiddle
	}
	if price < snap.BBMiddle*0.99 {
		score += 0.3
	} else if price > snap.BBMiddle*1.01 {
		score -= 0.3
	}

	if snap.EMAShort > snap.EMALong*0.98 {
		score += 0.2
	} else {
		score -= 0.2
	}

	return score
}

// CombineScores weight-averages per-timeframe scores. No scores yield
// zero.
func (s *Strategy) CombineScores(scores map[string]float64) float64 {
	var weightedSum, weightSum float64
	for timeframe, score := range scores {
		weight, ok := timeframeWeights[timeframe]
		if !ok {
			weight = unknownTimeframeWeight
		}
		weightedSum += score * weight
		weightSum += weight
	}
	if weightSum == 0 {
		return 0
	}
	return weightedSum / weightSum
}

// DetermineAction converts a combined score into an action and a
// confidence: confidence rises with the margin over the threshold.
func (s *Strategy) DetermineAction(score float64) (string, float64) {
	switch {
	case score > s.scoreThreshold:
		return models.ActionBuy, math.Min((score-s.scoreThreshold)*2, 1.0)
	case score < -s.scoreThreshold:
		return models.ActionSell, math.Min((math.Abs(score)-s.scoreThreshold)*2, 1.0)
	default:
		return models.ActionHold, 0.0
	}
}

// Evaluate scores every timeframe snapshot and returns the combined
// action, confidence and raw score.
func (s *Strategy) Evaluate(snapshots map[string]models.IndicatorSnapshot) (action string, confidence, score float64) {
	scores := make(map[string]float64, len(snapshots))
	for timeframe, snap := range snapshots {
		scores[timeframe] = s.ScoreTimeframe(snap)
	}

	score = s.CombineScores(scores)
	action, confidence = s.DetermineAction(score)

	s.logger.Debug().
		Float64("score", score).
		Str("action", action).
		Float64("confidence", confidence).
		Msg("Evaluated timeframe scores")
	return action, confidence, score
}

// PositionSize sizes an order from portfolio value and confidence,
// capped at 10% of the portfolio.
func (s *Strategy) PositionSize(portfolioValue, confidence float64) float64 {
	size := portfolioValue * 0.02 * confidence
	return math.Min(size, portfolioValue*0.1)
}
