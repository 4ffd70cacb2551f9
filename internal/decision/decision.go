// Package decision combines structured indicator readings, pattern
// output, market context and the adaptive weight table into one
// (action, confidence, risk) decision per pair.
package decision

import (
	"math"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/avolkov/papertrade/internal/weights"
	"github.com/avolkov/papertrade/models"
)

const (
	buyThreshold  = 0.2
	sellThreshold = -0.2

	// Position sizing caps at this share of the portfolio.
	maxPositionShare = 0.1
)

// Input carries everything one decision is made from.
type Input struct {
	Readings       []models.IndicatorReading
	Patterns       models.PatternReport
	Context        models.MarketContext
	Advisory       *models.Advisory
	Price          float64
	ATR            float64
	PortfolioValue float64
}

type Combiner struct {
	tracker       *weights.Tracker
	atrMultiplier float64
	logger        zerolog.Logger
}

func NewCombiner(tracker *weights.Tracker, atrMultiplier float64) *Combiner {
	return &Combiner{
		tracker:       tracker,
		atrMultiplier: atrMultiplier,
		logger:        log.With().Str("component", "decision").Logger(),
	}
}

// Decide produces a decision for one analysis cycle. Whatever goes
// wrong inside, the result is a fully-defined HOLD: a broken analysis
// must never place a trade.
func (c *Combiner) Decide(in Input) (decision models.Decision) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Interface("panic", r).Msg("Decision combination failed, holding")
			decision = models.HoldDecision()
		}
	}()

	if in.Price > 0 {
		// Score and clear any signals pending from the previous cycle
		c.tracker.ObservePrice(in.Price)
	}

	var weightedSignal, totalWeight float64
	active := 0

	for _, r := range in.Readings {
		value, ok := models.SignalValue(r.Signal)
		if !ok {
			continue
		}
		if math.IsNaN(value) || math.IsNaN(r.Reliability) {
			continue
		}

		weight := c.tracker.Weight(r.Name)
		weightedSignal += value * weight * r.Reliability
		totalWeight += weight * r.Reliability
		active++

		if in.Price > 0 {
			c.tracker.RecordSignal(r.Name, value, in.Price)
		}
	}

	c.tracker.MaybeRebalance(time.Now())

	if active == 0 || totalWeight == 0 {
		return models.HoldDecision()
	}

	normalized := weightedSignal / totalWeight
	baseConfidence := math.Min(float64(active)/5, 1.0)
	strength := math.Abs(normalized)
	confidence := baseConfidence * strength

	action := models.ActionHold
	switch {
	case normalized > buyThreshold:
		action = models.ActionBuy
	case normalized < sellThreshold:
		action = models.ActionSell
	default:
		confidence *= 0.5
	}

	riskLevel := in.Context.RiskLevel
	if riskLevel == "" {
		riskLevel = models.LevelHigh
	}

	confidence = clamp01(confidence)
	decision = models.Decision{
		Action:           action,
		Confidence:       confidence,
		RiskLevel:        riskLevel,
		PositionSize:     positionSize(in.PortfolioValue, confidence, riskLevel),
		StopLoss:         c.stopLoss(action, in.Price, in.ATR),
		TakeProfit:       c.takeProfit(action, in.Price, in.ATR),
		NormalizedSignal: normalized,
		ActiveIndicators: active,
	}

	c.logger.Debug().
		Str("action", action).
		Float64("normalized", normalized).
		Int("active", active).
		Int("patterns", len(in.Patterns.Candlesticks)).
		Str("regime", in.Context.Regime).
		Msg("Signals combined")

	return c.applyAdvisory(decision, in.Advisory)
}

// applyAdvisory lets a higher-confidence advisory override the action
// and attach its risk parameters. The advisory never lowers confidence
// and never acts alone.
func (c *Combiner) applyAdvisory(d models.Decision, adv *models.Advisory) models.Decision {
	if adv == nil || adv.Confidence <= d.Confidence {
		return d
	}
	if adv.Action != models.ActionBuy && adv.Action != models.ActionSell && adv.Action != models.ActionHold {
		return d
	}

	c.logger.Debug().
		Str("action", adv.Action).
		Float64("confidence", adv.Confidence).
		Msg("Advisory overrides rule-based decision")

	d.Action = adv.Action
	d.Confidence = clamp01(adv.Confidence)
	if adv.StopLoss > 0 {
		sl := adv.StopLoss
		d.StopLoss = &sl
	}
	if len(adv.TakeProfit) > 0 {
		d.TakeProfit = append([]float64(nil), adv.TakeProfit...)
	}
	return d
}

// positionSize scales the portfolio share by risk level and
// confidence, capped at 10% of the portfolio.
func positionSize(portfolioValue, confidence float64, riskLevel string) float64 {
	baseRisk := 0.01
	switch riskLevel {
	case models.LevelLow:
		baseRisk = 0.02
	case models.LevelMedium:
		baseRisk = 0.015
	}

	size := portfolioValue * baseRisk * confidence
	return math.Min(size, portfolioValue*maxPositionShare)
}

// stopLoss places the stop an ATR multiple away from the entry, on the
// losing side of the trade.
func (c *Combiner) stopLoss(action string, price, atr float64) *float64 {
	if price <= 0 || atr <= 0 {
		return nil
	}
	var stop float64
	switch action {
	case models.ActionBuy:
		stop = price - atr*c.atrMultiplier
	case models.ActionSell:
		stop = price + atr*c.atrMultiplier
	default:
		return nil
	}
	return &stop
}

// takeProfit lays a two-step ladder at 1x and 2x the stop distance on
// the winning side of the trade.
func (c *Combiner) takeProfit(action string, price, atr float64) []float64 {
	if price <= 0 || atr <= 0 {
		return nil
	}
	distance := atr * c.atrMultiplier
	switch action {
	case models.ActionBuy:
		return []float64{price + distance, price + 2*distance}
	case models.ActionSell:
		return []float64{price - distance, price - 2*distance}
	}
	return nil
}

func clamp01(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
