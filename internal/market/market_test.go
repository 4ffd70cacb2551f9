package market

import (
	"math"
	"testing"

	"github.com/avolkov/papertrade/models"
)

func candlesFromCloses(closes []float64) []models.Candle {
	out := make([]models.Candle, len(closes))
	for i, c := range closes {
		out[i] = models.Candle{Open: c, High: c * 1.001, Low: c * 0.999, Close: c, Volume: 1000}
	}
	return out
}

func trendingCloses(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

func choppyCloses(n int, base, amplitude float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = base + amplitude*math.Sin(float64(i)*2.1)
	}
	return out
}

func TestAnalyzeEmptyData(t *testing.T) {
	ctx := NewContextAnalyzer().Analyze(map[string][]models.Candle{})

	if ctx.Regime != models.RegimeUnknown {
		t.Errorf("regime = %s, want UNKNOWN", ctx.Regime)
	}
	if ctx.Volatility != models.LevelHigh {
		t.Errorf("volatility = %s, want HIGH", ctx.Volatility)
	}
	if ctx.RiskLevel != models.LevelHigh {
		t.Errorf("risk level = %s, want HIGH", ctx.RiskLevel)
	}
}

func TestAnalyzeIgnoresUnknownTimeframes(t *testing.T) {
	// Only 4h data present, which does not participate in the context
	data := map[string][]models.Candle{
		"4h": candlesFromCloses(trendingCloses(60, 100, 1)),
	}
	ctx := NewContextAnalyzer().Analyze(data)
	if ctx.Regime != models.RegimeUnknown {
		t.Errorf("regime = %s, want UNKNOWN for non-context timeframes", ctx.Regime)
	}
}

func TestAnalyzeStrongUptrend(t *testing.T) {
	closes := trendingCloses(80, 100, 2)
	data := map[string][]models.Candle{
		"1m":  candlesFromCloses(closes),
		"5m":  candlesFromCloses(closes),
		"15m": candlesFromCloses(closes),
		"1h":  candlesFromCloses(closes),
	}

	ctx := NewContextAnalyzer().Analyze(data)
	if ctx.Regime != models.RegimeStrongUptrend {
		t.Errorf("regime = %s, want STRONG_UPTREND", ctx.Regime)
	}
	if ctx.TrendStrength <= 0 {
		t.Errorf("trend strength = %v, want > 0", ctx.TrendStrength)
	}
}

func TestAnalyzeRangingLowVol(t *testing.T) {
	// Nearly flat closes keep both trend separation and return
	// dispersion tiny
	closes := choppyCloses(80, 1000, 0.5)
	data := map[string][]models.Candle{
		"1m": candlesFromCloses(closes),
		"1h": candlesFromCloses(closes),
	}

	ctx := NewContextAnalyzer().Analyze(data)
	if ctx.Regime != models.RegimeRanging {
		t.Errorf("regime = %s, want RANGING", ctx.Regime)
	}
	if ctx.Volatility != models.LevelLow {
		t.Errorf("volatility = %s, want LOW", ctx.Volatility)
	}
	if ctx.RiskLevel != models.LevelLow {
		t.Errorf("risk level = %s, want LOW", ctx.RiskLevel)
	}
}

func TestRegimeTieBreakPrefersLongerTimeframe(t *testing.T) {
	// 1m and 5m vote one way (combined weight 0.3+... ) against
	// 15m+1h; craft an exact tie: 1m(0.1)+15m(0.3) vs 5m(0.2)... use
	// 1m+15m = 0.4 uptrend against 1h = 0.4 ranging
	up := trendingCloses(80, 100, 2)
	flat := choppyCloses(80, 1000, 0.5)
	data := map[string][]models.Candle{
		"1m":  candlesFromCloses(up),
		"15m": candlesFromCloses(up),
		"1h":  candlesFromCloses(flat),
	}

	ctx := NewContextAnalyzer().Analyze(data)
	if ctx.Regime != models.RegimeRanging {
		t.Errorf("regime = %s, want RANGING (longest timeframe wins the tie)", ctx.Regime)
	}
}

func TestTrendRegimeThresholds(t *testing.T) {
	tests := []struct {
		name     string
		closes   []float64
		expected string
	}{
		{
			name:     "strong downtrend",
			closes:   trendingCloses(80, 500, -4),
			expected: models.RegimeStrongDowntrend,
		},
		{
			name:     "ranging",
			closes:   choppyCloses(80, 1000, 0.5),
			expected: models.RegimeRanging,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			regime, _ := trendRegime(tt.closes)
			if regime != tt.expected {
				t.Errorf("trendRegime() = %s, want %s", regime, tt.expected)
			}
		})
	}
}

func TestIsVolatilityExpanding(t *testing.T) {
	t.Run("too short", func(t *testing.T) {
		if isVolatilityExpanding(make([]float64, 10)) {
			t.Error("isVolatilityExpanding() = true, want false for short input")
		}
	})

	t.Run("rising dispersion", func(t *testing.T) {
		returns := make([]float64, 20)
		for i := 10; i < 20; i++ {
			returns[i] = 0.05 * math.Pow(-1, float64(i))
		}
		if !isVolatilityExpanding(returns) {
			t.Error("isVolatilityExpanding() = false, want true")
		}
	})
}

func TestStdDev(t *testing.T) {
	if got := stdDev([]float64{1, 1, 1, 1}); got != 0 {
		t.Errorf("stdDev() = %v, want 0 for constant input", got)
	}
	// Sample std of {2,4,4,4,5,5,7,9} is ~2.138
	got := stdDev([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	if math.Abs(got-2.138) > 0.01 {
		t.Errorf("stdDev() = %v, want ~2.138", got)
	}
}
