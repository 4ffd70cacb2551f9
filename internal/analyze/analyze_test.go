package analyze

import (
	"math"
	"testing"
	"time"

	"github.com/avolkov/papertrade/internal/calculate"
	"github.com/avolkov/papertrade/models"
)

func generateTestCandles(count int, gen func(i int) models.Candle) []models.Candle {
	candles := make([]models.Candle, count)
	for i := 0; i < count; i++ {
		c := gen(i)
		if c.Timestamp.IsZero() {
			c.Timestamp = time.Now().Add(time.Duration(i) * time.Minute)
		}
		candles[i] = c
	}
	return candles
}

func findReading(t *testing.T, readings []models.IndicatorReading, name string) models.IndicatorReading {
	t.Helper()
	for _, r := range readings {
		if r.Name == name {
			return r
		}
	}
	t.Fatalf("no reading named %q", name)
	return models.IndicatorReading{}
}

func TestReadingsShortSeries(t *testing.T) {
	a := New(calculate.DefaultParams())
	candles := generateTestCandles(5, func(i int) models.Candle {
		return models.Candle{Close: 100, High: 101, Low: 99, Volume: 1000}
	})

	readings := a.Readings(candles)
	if len(readings) != 6 {
		t.Fatalf("got %d readings, want 6", len(readings))
	}
	for _, r := range readings {
		if r.Signal != models.SignalNeutral {
			t.Errorf("%s signal = %s, want NEUTRAL", r.Name, r.Signal)
		}
		if r.Reliability != 0 {
			t.Errorf("%s reliability = %v, want 0", r.Name, r.Reliability)
		}
	}
}

func TestRSIReadingOversold(t *testing.T) {
	a := New(calculate.DefaultParams())
	// Steady decline drives RSI to the floor
	candles := generateTestCandles(50, func(i int) models.Candle {
		price := 200 - float64(i)*2
		return models.Candle{Close: price, High: price + 1, Low: price - 1, Volume: 1000}
	})

	r := findReading(t, a.Readings(candles), models.IndicatorRSI)
	if r.Signal != models.SignalBuy {
		t.Errorf("signal = %s, want BUY", r.Signal)
	}
	if r.Value >= 30 {
		t.Errorf("RSI = %v, want < 30", r.Value)
	}
}

func TestMACDSustainedStateIsNeutral(t *testing.T) {
	a := New(calculate.DefaultParams())
	// A long steady uptrend keeps MACD above its signal line for many
	// bars; no fresh crossover means no signal
	candles := generateTestCandles(60, func(i int) models.Candle {
		price := 100 + float64(i)
		return models.Candle{Close: price, High: price + 1, Low: price - 1, Volume: 1000}
	})

	r := findReading(t, a.Readings(candles), models.IndicatorMACD)
	if r.Signal != models.SignalNeutral {
		t.Errorf("signal = %s, want NEUTRAL on sustained state", r.Signal)
	}
	if r.Trend != models.TrendUpward {
		t.Errorf("trend = %s, want UPWARD", r.Trend)
	}
}

func TestBollingerReadingBreakdown(t *testing.T) {
	a := New(calculate.DefaultParams())
	// Flat series with a hard drop on the final bar pierces the lower band
	candles := generateTestCandles(40, func(i int) models.Candle {
		price := 100.0
		if i == 39 {
			price = 90.0
		}
		return models.Candle{Close: price, High: price + 1, Low: price - 1, Volume: 1000}
	})

	r := findReading(t, a.Readings(candles), models.IndicatorBB)
	if r.Signal != models.SignalBuy {
		t.Errorf("signal = %s, want BUY below lower band", r.Signal)
	}
}

func TestBollingerSqueezeWarnings(t *testing.T) {
	a := New(calculate.DefaultParams())
	candles := generateTestCandles(40, func(i int) models.Candle {
		return models.Candle{Close: 100, High: 100, Low: 100, Volume: 1000}
	})

	r := findReading(t, a.Readings(candles), models.IndicatorBB)
	wantWarnings := map[string]bool{
		"Bollinger Bands squeezing - potential breakout": false,
		"Price testing upper band":                       false,
		"Price testing lower band":                       false,
	}
	for _, w := range r.Warnings {
		if _, ok := wantWarnings[w]; ok {
			wantWarnings[w] = true
		}
	}
	for w, seen := range wantWarnings {
		if !seen {
			t.Errorf("missing warning %q, got %v", w, r.Warnings)
		}
	}
}

func TestEMAReadingBullishStack(t *testing.T) {
	a := New(calculate.DefaultParams())
	candles := generateTestCandles(60, func(i int) models.Candle {
		price := 100 + float64(i)*2
		return models.Candle{Close: price, High: price + 1, Low: price - 1, Volume: 1000}
	})

	r := findReading(t, a.Readings(candles), models.IndicatorEMA)
	if r.Signal != models.SignalBuy {
		t.Errorf("signal = %s, want BUY on full bullish stack", r.Signal)
	}
	if r.Trend != models.TrendUpward {
		t.Errorf("trend = %s, want UPWARD", r.Trend)
	}
	if r.Reliability <= 0 || r.Reliability > 1 {
		t.Errorf("reliability = %v, want in (0,1]", r.Reliability)
	}
}

func TestVolumeReadingSpike(t *testing.T) {
	a := New(calculate.DefaultParams())
	candles := generateTestCandles(40, func(i int) models.Candle {
		price := 100 + float64(i)*0.5
		vol := 1000.0
		if i == 39 {
			vol = 5000.0
		}
		return models.Candle{Close: price, High: price + 1, Low: price - 1, Volume: vol}
	})

	r := findReading(t, a.Readings(candles), models.IndicatorVolume)
	if r.Signal != models.SignalBuy {
		t.Errorf("signal = %s, want BUY on rising price with above-average volume", r.Signal)
	}
	found := false
	for _, w := range r.Warnings {
		if w == "Unusually high volume - monitor for reversal" {
			found = true
		}
	}
	if !found {
		t.Errorf("missing high-volume warning, got %v", r.Warnings)
	}
}

func TestMomentumReadingStrongUptrend(t *testing.T) {
	a := New(calculate.DefaultParams())
	candles := generateTestCandles(50, func(i int) models.Candle {
		price := 100 * math.Pow(1.01, float64(i))
		return models.Candle{Close: price, High: price * 1.01, Low: price * 0.99, Volume: 1000}
	})

	r := findReading(t, a.Readings(candles), models.IndicatorMomentum)
	if r.Signal != models.SignalBuy {
		t.Errorf("signal = %s, want BUY on strong positive ROC", r.Signal)
	}
	found := false
	for _, w := range r.Warnings {
		if w == "Extreme momentum - potential reversal" {
			found = true
		}
	}
	if !found {
		t.Errorf("missing extreme-momentum warning, got %v (roc=%v)", r.Warnings, r.Value)
	}
}

func TestDetectDivergence(t *testing.T) {
	tests := []struct {
		name      string
		closes    []float64
		indicator []float64
		expected  bool
	}{
		{
			name:      "both rising",
			closes:    []float64{1, 2, 3, 4, 5},
			indicator: []float64{10, 11, 12, 13, 14},
			expected:  false,
		},
		{
			name:      "price rising indicator falling",
			closes:    []float64{1, 2, 3, 4, 5},
			indicator: []float64{14, 13, 12, 11, 10},
			expected:  true,
		},
		{
			name:      "both falling",
			closes:    []float64{5, 4, 3, 2, 1},
			indicator: []float64{14, 13, 12, 11, 10},
			expected:  false,
		},
		{
			name:      "too short",
			closes:    []float64{1, 2},
			indicator: []float64{1, 2},
			expected:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := detectDivergence(tt.closes, tt.indicator); got != tt.expected {
				t.Errorf("detectDivergence() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestPearson(t *testing.T) {
	t.Run("perfect positive", func(t *testing.T) {
		r, ok := pearson([]float64{1, 2, 3, 4}, []float64{2, 4, 6, 8})
		if !ok || math.Abs(r-1) > 1e-9 {
			t.Errorf("pearson() = %v, %v, want 1, true", r, ok)
		}
	})
	t.Run("perfect negative", func(t *testing.T) {
		r, ok := pearson([]float64{1, 2, 3, 4}, []float64{8, 6, 4, 2})
		if !ok || math.Abs(r+1) > 1e-9 {
			t.Errorf("pearson() = %v, %v, want -1, true", r, ok)
		}
	})
	t.Run("zero variance fails", func(t *testing.T) {
		if _, ok := pearson([]float64{1, 1, 1}, []float64{1, 2, 3}); ok {
			t.Error("pearson() ok = true, want false on zero variance")
		}
	})
}

func TestPredictiveReliabilityDegenerate(t *testing.T) {
	// Constant price changes have zero variance, so reliability must
	// fall back to neutral
	closes := []float64{100, 99, 98, 97, 96}
	indicator := []float64{50, 40, 30, 20, 10}
	if got := predictiveReliability(indicator, closes); got != 0.5 {
		t.Errorf("predictiveReliability() = %v, want 0.5", got)
	}
}

func TestBandTouchReliabilityNoTouches(t *testing.T) {
	closes := make([]float64, 30)
	upper := make([]float64, 30)
	lower := make([]float64, 30)
	for i := range closes {
		closes[i] = 100
		upper[i] = 110
		lower[i] = 90
	}
	if got := bandTouchReliability(upper, lower, closes, 20); got != 0.5 {
		t.Errorf("bandTouchReliability() = %v, want 0.5", got)
	}
}
