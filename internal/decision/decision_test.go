package decision

import (
	"math"
	"testing"
	"time"

	"github.com/avolkov/papertrade/internal/weights"
	"github.com/avolkov/papertrade/models"
)

func newTestCombiner() *Combiner {
	return NewCombiner(weights.NewTracker(0.05, 0.40, time.Hour), 2.0)
}

func reading(name, signal string, reliability float64) models.IndicatorReading {
	return models.IndicatorReading{Name: name, Signal: signal, Reliability: reliability}
}

func TestDecideBullishConsensus(t *testing.T) {
	c := newTestCombiner()
	in := Input{
		Readings: []models.IndicatorReading{
			reading(models.IndicatorRSI, models.SignalBuy, 0.8),
			reading(models.IndicatorMACD, models.SignalBuy, 0.7),
			reading(models.IndicatorBB, models.SignalBuy, 0.6),
			reading(models.IndicatorEMA, models.SignalBuy, 0.9),
			reading(models.IndicatorVolume, models.SignalBuy, 0.5),
		},
		Context:        models.MarketContext{RiskLevel: models.LevelLow},
		Price:          100,
		ATR:            2,
		PortfolioValue: 1000,
	}

	d := c.Decide(in)
	if d.Action != models.ActionBuy {
		t.Errorf("action = %s, want BUY", d.Action)
	}
	// All signals BUY: normalized = 0.5, confidence = 1.0 * 0.5
	if math.Abs(d.Confidence-0.5) > 1e-9 {
		t.Errorf("confidence = %v, want 0.5", d.Confidence)
	}
	if d.StopLoss == nil || *d.StopLoss != 96 {
		t.Errorf("stop loss = %v, want 96", d.StopLoss)
	}
	// Ladder at 1x and 2x the stop distance above entry
	if len(d.TakeProfit) != 2 || d.TakeProfit[0] != 104 || d.TakeProfit[1] != 108 {
		t.Errorf("take profit = %v, want [104 108]", d.TakeProfit)
	}
	// 1000 * 0.02 * 0.5 = 10, under the 10% cap
	if math.Abs(d.PositionSize-10) > 1e-9 {
		t.Errorf("position size = %v, want 10", d.PositionSize)
	}
	if d.ActiveIndicators != 5 {
		t.Errorf("active indicators = %d, want 5", d.ActiveIndicators)
	}
}

func TestDecideAllNeutralHolds(t *testing.T) {
	c := newTestCombiner()
	in := Input{
		Readings: []models.IndicatorReading{
			reading(models.IndicatorRSI, models.SignalNeutral, 0.8),
			reading(models.IndicatorMACD, models.SignalNeutral, 0.7),
			reading(models.IndicatorBB, models.SignalNeutral, 0.6),
		},
		Price:          100,
		PortfolioValue: 1000,
	}

	d := c.Decide(in)
	if d.Action != models.ActionHold {
		t.Errorf("action = %s, want HOLD", d.Action)
	}
	if d.Confidence != 0 {
		t.Errorf("confidence = %v, want 0", d.Confidence)
	}
}

func TestDecideNoActiveIndicators(t *testing.T) {
	c := newTestCombiner()
	d := c.Decide(Input{Price: 100, PortfolioValue: 1000})

	want := models.HoldDecision()
	if d.Action != want.Action || d.Confidence != want.Confidence || d.RiskLevel != want.RiskLevel {
		t.Errorf("Decide() = %+v, want hold fallback %+v", d, want)
	}
}

func TestDecideZeroReliabilityHolds(t *testing.T) {
	c := newTestCombiner()
	in := Input{
		Readings: []models.IndicatorReading{
			reading(models.IndicatorRSI, models.SignalBuy, 0),
			reading(models.IndicatorMACD, models.SignalSell, 0),
		},
		Price:          100,
		PortfolioValue: 1000,
	}

	d := c.Decide(in)
	if d.Action != models.ActionHold || d.Confidence != 0 {
		t.Errorf("Decide() = %+v, want HOLD with zero confidence", d)
	}
}

func TestDecideBearishSellsWithAtrStop(t *testing.T) {
	c := newTestCombiner()
	in := Input{
		Readings: []models.IndicatorReading{
			reading(models.IndicatorRSI, models.SignalStrongSell, 0.9),
			reading(models.IndicatorMACD, models.SignalSell, 0.8),
			reading(models.IndicatorEMA, models.SignalSell, 0.7),
		},
		Context:        models.MarketContext{RiskLevel: models.LevelHigh},
		Price:          200,
		ATR:            5,
		PortfolioValue: 1000,
	}

	d := c.Decide(in)
	if d.Action != models.ActionSell {
		t.Errorf("action = %s, want SELL", d.Action)
	}
	if d.StopLoss == nil || *d.StopLoss != 210 {
		t.Errorf("stop loss = %v, want 210 (price + 2*ATR)", d.StopLoss)
	}
	if len(d.TakeProfit) != 2 || d.TakeProfit[0] != 190 || d.TakeProfit[1] != 180 {
		t.Errorf("take profit = %v, want [190 180]", d.TakeProfit)
	}
	if d.NormalizedSignal >= 0 {
		t.Errorf("normalized signal = %v, want negative", d.NormalizedSignal)
	}
}

func TestConfidenceBounds(t *testing.T) {
	c := newTestCombiner()
	signals := []string{
		models.SignalStrongBuy, models.SignalBuy, models.SignalNeutral,
		models.SignalSell, models.SignalStrongSell,
	}
	names := []string{
		models.IndicatorRSI, models.IndicatorMACD, models.IndicatorBB,
		models.IndicatorEMA, models.IndicatorVolume,
	}

	for _, s1 := range signals {
		for _, s2 := range signals {
			for _, rel := range []float64{0, 0.25, 0.5, 1} {
				var readings []models.IndicatorReading
				for i, name := range names {
					sig := s1
					if i%2 == 1 {
						sig = s2
					}
					readings = append(readings, reading(name, sig, rel))
				}
				d := c.Decide(Input{Readings: readings, Price: 100, PortfolioValue: 1000})
				if d.Confidence < 0 || d.Confidence > 1 {
					t.Fatalf("confidence = %v out of [0,1] for %s/%s rel=%v", d.Confidence, s1, s2, rel)
				}
			}
		}
	}
}

func TestAdvisoryOverridesOnlyWithHigherConfidence(t *testing.T) {
	c := newTestCombiner()
	base := Input{
		Readings: []models.IndicatorReading{
			reading(models.IndicatorRSI, models.SignalBuy, 0.8),
			reading(models.IndicatorMACD, models.SignalBuy, 0.8),
			reading(models.IndicatorBB, models.SignalBuy, 0.8),
			reading(models.IndicatorEMA, models.SignalBuy, 0.8),
			reading(models.IndicatorVolume, models.SignalBuy, 0.8),
		},
		Price:          100,
		ATR:            1,
		PortfolioValue: 1000,
	}

	t.Run("weaker advisory ignored", func(t *testing.T) {
		in := base
		in.Advisory = &models.Advisory{Action: models.ActionSell, Confidence: 0.1}
		d := c.Decide(in)
		if d.Action != models.ActionBuy {
			t.Errorf("action = %s, want BUY (advisory too weak)", d.Action)
		}
	})

	t.Run("stronger advisory wins", func(t *testing.T) {
		in := base
		in.Advisory = &models.Advisory{
			Action:     models.ActionSell,
			Confidence: 0.95,
			StopLoss:   108,
			TakeProfit: []float64{90, 85},
		}
		d := c.Decide(in)
		if d.Action != models.ActionSell {
			t.Errorf("action = %s, want SELL (advisory override)", d.Action)
		}
		if d.Confidence != 0.95 {
			t.Errorf("confidence = %v, want 0.95", d.Confidence)
		}
		if d.StopLoss == nil || *d.StopLoss != 108 {
			t.Errorf("stop loss = %v, want advisory's 108", d.StopLoss)
		}
		if len(d.TakeProfit) != 2 {
			t.Errorf("take profit = %v, want two targets", d.TakeProfit)
		}
	})

	t.Run("bogus advisory action ignored", func(t *testing.T) {
		in := base
		in.Advisory = &models.Advisory{Action: "YOLO", Confidence: 0.99}
		d := c.Decide(in)
		if d.Action != models.ActionBuy {
			t.Errorf("action = %s, want BUY (invalid advisory action)", d.Action)
		}
	})
}

func TestPositionSizeCap(t *testing.T) {
	// High confidence at LOW risk: 10000 * 0.02 * 1.0 = 200, cap is
	// 10000 * 0.1 = 1000, so no cap; but with a huge portfolio share
	// requested the cap binds
	if got := positionSize(10000, 1.0, models.LevelLow); got != 200 {
		t.Errorf("positionSize() = %v, want 200", got)
	}
	if got := positionSize(100, 1.0, models.LevelLow); got != 2 {
		t.Errorf("positionSize() = %v, want 2", got)
	}
}
