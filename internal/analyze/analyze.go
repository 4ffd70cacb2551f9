// Package analyze turns raw indicator math into structured readings:
// per-indicator signal, reliability, trend, divergence and warnings.
package analyze

import (
	"math"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/avolkov/papertrade/internal/calculate"
	"github.com/avolkov/papertrade/models"
)

// minBars is the shortest series the analyzer will score. Anything
// shorter degrades to neutral readings with zero reliability.
const minBars = 30

type Analyzer struct {
	params calculate.Params
	logger zerolog.Logger
}

func New(params calculate.Params) *Analyzer {
	return &Analyzer{
		params: params,
		logger: log.With().Str("component", "analyzer").Logger(),
	}
}

// Readings produces the structured reading bundle for a candle series.
// The order is fixed: RSI, MACD, Bollinger, EMA, Volume, Momentum.
func (a *Analyzer) Readings(candles []models.Candle) []models.IndicatorReading {
	if len(candles) < minBars {
		a.logger.Debug().Int("candles", len(candles)).Msg("Series too short, returning neutral readings")
		return []models.IndicatorReading{
			defaultReading(models.IndicatorRSI),
			defaultReading(models.IndicatorMACD),
			defaultReading(models.IndicatorBB),
			defaultReading(models.IndicatorEMA),
			defaultReading(models.IndicatorVolume),
			defaultReading(models.IndicatorMomentum),
		}
	}

	closes := calculate.Closes(candles)
	return []models.IndicatorReading{
		a.analyzeRSI(closes),
		a.analyzeMACD(closes),
		a.analyzeBollinger(closes),
		a.analyzeEMA(closes),
		a.analyzeVolume(candles),
		a.analyzeMomentum(closes),
	}
}

func defaultReading(name string) models.IndicatorReading {
	return models.IndicatorReading{
		Name:        name,
		Signal:      models.SignalNeutral,
		Reliability: 0,
		Trend:       models.TrendDownward,
	}
}

func (a *Analyzer) analyzeRSI(closes []float64) models.IndicatorReading {
	series := rsiSeries(closes, a.params.RSIPeriod)
	current := series[len(series)-1]

	signal := models.SignalNeutral
	if current > 70 {
		signal = models.SignalSell
	} else if current < 30 {
		signal = models.SignalBuy
	}

	divergence := detectDivergence(closes, series)
	reliability := predictiveReliability(series, closes)

	sma := rollingMean(series, 5)
	trend := models.TrendDownward
	if len(sma) >= 2 && sma[len(sma)-1] > sma[len(sma)-2] {
		trend = models.TrendUpward
	}

	var warnings []string
	if divergence {
		warnings = append(warnings, "RSI showing divergence with price")
	}
	if (current > 69 && current < 71) || (current > 29 && current < 31) {
		warnings = append(warnings, "RSI near reversal level")
	}

	return models.IndicatorReading{
		Name:        models.IndicatorRSI,
		Value:       current,
		Signal:      signal,
		Reliability: reliability,
		Trend:       trend,
		Divergence:  &divergence,
		Warnings:    warnings,
	}
}

func (a *Analyzer) analyzeMACD(closes []float64) models.IndicatorReading {
	macdLine, signalLine := calculate.MACDSeries(closes, a.params.MACDFast, a.params.MACDSlow, a.params.MACDSignal)
	n := len(macdLine)
	current := macdLine[n-1]
	currentSignal := signalLine[n-1]

	// A crossover counts only on the crossing bar itself
	signal := models.SignalNeutral
	if current > currentSignal && macdLine[n-2] <= signalLine[n-2] {
		signal = models.SignalBuy
	} else if current < currentSignal && macdLine[n-2] >= signalLine[n-2] {
		signal = models.SignalSell
	}

	divergence := detectDivergence(closes, macdLine)
	reliability := predictiveReliability(macdLine, closes)

	trend := models.TrendDownward
	if current > currentSignal {
		trend = models.TrendUpward
	}

	var warnings []string
	if divergence {
		warnings = append(warnings, "MACD showing divergence with price")
	}
	if math.Abs(current-currentSignal) < 0.1*math.Abs(current) {
		warnings = append(warnings, "MACD close to signal line")
	}

	return models.IndicatorReading{
		Name:        models.IndicatorMACD,
		Value:       current,
		Signal:      signal,
		Reliability: reliability,
		Trend:       trend,
		Divergence:  &divergence,
		Warnings:    warnings,
	}
}

func (a *Analyzer) analyzeBollinger(closes []float64) models.IndicatorReading {
	period := a.params.BBPeriod
	upperSeries, smaSeries, lowerSeries := bollingerSeries(closes, period, a.params.BBStdDev)

	n := len(closes)
	price := closes[n-1]
	upper := upperSeries[n-1]
	lower := lowerSeries[n-1]
	sma := smaSeries[n-1]

	signal := models.SignalNeutral
	if price >= upper {
		signal = models.SignalSell
	} else if price <= lower {
		signal = models.SignalBuy
	}

	reliability := bandTouchReliability(upperSeries, lowerSeries, closes, period)

	trend := models.TrendDownward
	if n >= 5 && smaSeries[n-1] > smaSeries[n-5] {
		trend = models.TrendUpward
	}

	var warnings []string
	if sma != 0 && (upper-lower)/sma < 0.1 {
		warnings = append(warnings, "Bollinger Bands squeezing - potential breakout")
	}
	if price != 0 && math.Abs(price-upper)/price < 0.002 {
		warnings = append(warnings, "Price testing upper band")
	}
	if price != 0 && math.Abs(price-lower)/price < 0.002 {
		warnings = append(warnings, "Price testing lower band")
	}

	return models.IndicatorReading{
		Name:        models.IndicatorBB,
		Value:       price,
		Signal:      signal,
		Reliability: reliability,
		Trend:       trend,
		Warnings:    warnings,
	}
}

func (a *Analyzer) analyzeEMA(closes []float64) models.IndicatorReading {
	short := calculate.EMASeries(closes, a.params.EMAShort)
	long := calculate.EMASeries(closes, a.params.EMALong)

	n := len(closes)
	price := closes[n-1]
	currentShort := short[n-1]
	currentLong := long[n-1]

	signal := models.SignalNeutral
	if price > currentShort && currentShort > currentLong {
		signal = models.SignalBuy
	} else if price < currentShort && currentShort < currentLong {
		signal = models.SignalSell
	}

	// Reliability scales with how separated the EMAs are
	trendStrength := 0.0
	if currentLong != 0 {
		trendStrength = math.Abs(currentShort-currentLong) / math.Abs(currentLong)
	}
	reliability := math.Min(trendStrength*2, 1.0)

	trend := models.TrendDownward
	if currentShort > currentLong {
		trend = models.TrendUpward
	}

	var warnings []string
	if currentLong != 0 && math.Abs(currentShort-currentLong)/math.Abs(currentLong) < 0.001 {
		warnings = append(warnings, "EMAs converging - potential trend change")
	}
	if price != 0 && math.Abs(price-currentShort)/price > 0.02 {
		warnings = append(warnings, "Price diverging significantly from EMA")
	}

	return models.IndicatorReading{
		Name:        models.IndicatorEMA,
		Value:       currentShort,
		Signal:      signal,
		Reliability: reliability,
		Trend:       trend,
		Warnings:    warnings,
	}
}

func (a *Analyzer) analyzeVolume(candles []models.Candle) models.IndicatorReading {
	n := len(candles)
	volumes := make([]float64, n)
	closes := make([]float64, n)
	for i, c := range candles {
		volumes[i] = c.Volume
		closes[i] = c.Close
	}

	current := volumes[n-1]
	avg := meanTail(volumes, 20)

	volumeSMA := rollingMean(volumes, 5)
	trend := models.TrendDownward
	if len(volumeSMA) >= 5 && volumeSMA[len(volumeSMA)-1] > volumeSMA[len(volumeSMA)-5] {
		trend = models.TrendUpward
	}

	priceUp := closes[n-1] > closes[n-2]
	signal := models.SignalNeutral
	if priceUp && current > avg {
		signal = models.SignalBuy
	} else if !priceUp && current > avg {
		signal = models.SignalSell
	}

	reliability := volumeReliability(volumes, closes)

	var warnings []string
	if current < 0.5*avg {
		warnings = append(warnings, "Low volume - potential lack of conviction")
	}
	if current > 2*avg {
		warnings = append(warnings, "Unusually high volume - monitor for reversal")
	}

	return models.IndicatorReading{
		Name:        models.IndicatorVolume,
		Value:       current,
		Signal:      signal,
		Reliability: reliability,
		Trend:       trend,
		Warnings:    warnings,
	}
}

func (a *Analyzer) analyzeMomentum(closes []float64) models.IndicatorReading {
	roc := rocSeries(closes, 10)
	n := len(roc)
	current := roc[n-1]

	signal := models.SignalNeutral
	if current > 2 {
		signal = models.SignalBuy
	} else if current < -2 {
		signal = models.SignalSell
	}

	rocSMA := rollingMean(roc, 5)
	trend := models.TrendDownward
	if len(rocSMA) >= 5 && rocSMA[len(rocSMA)-1] > rocSMA[len(rocSMA)-5] {
		trend = models.TrendUpward
	}

	reliability := momentumReliability(roc, closes)

	var warnings []string
	if math.Abs(current) > 5 {
		warnings = append(warnings, "Extreme momentum - potential reversal")
	}
	if n >= 2 && current*roc[n-2] < 0 {
		warnings = append(warnings, "Momentum direction change")
	}

	return models.IndicatorReading{
		Name:        models.IndicatorMomentum,
		Value:       current,
		Signal:      signal,
		Reliability: reliability,
		Trend:       trend,
		Warnings:    warnings,
	}
}

// rsiSeries computes a rolling-mean RSI for every bar; bars without a
// full window get the neutral value 50.
func rsiSeries(closes []float64, period int) []float64 {
	out := make([]float64, len(closes))
	for i := range out {
		if i < period {
			out[i] = 50.0
			continue
		}
		out[i] = calculate.RSI(closes[:i+1], period)
	}
	return out
}

// bollingerSeries computes upper/middle/lower bands per bar. Bars
// without a full window collapse onto the close.
func bollingerSeries(closes []float64, period int, stdDev float64) (upper, middle, lower []float64) {
	n := len(closes)
	upper = make([]float64, n)
	middle = make([]float64, n)
	lower = make([]float64, n)
	for i := 0; i < n; i++ {
		upper[i], middle[i], lower[i] = calculate.Bollinger(closes[:i+1], period, stdDev)
	}
	return upper, middle, lower
}

// rocSeries computes the rate of change over lag bars, in percent.
// Bars without a full lag get 0.
func rocSeries(closes []float64, lag int) []float64 {
	out := make([]float64, len(closes))
	for i := lag; i < len(closes); i++ {
		if closes[i-lag] != 0 {
			out[i] = (closes[i] - closes[i-lag]) / closes[i-lag] * 100
		}
	}
	return out
}

// detectDivergence compares the monotonic direction of the last 5
// closes against the last 5 indicator values.
func detectDivergence(closes, indicator []float64) bool {
	if len(closes) < 5 || len(indicator) < 5 {
		return false
	}
	priceUp := monotonicIncreasing(closes[len(closes)-5:])
	indUp := monotonicIncreasing(indicator[len(indicator)-5:])
	return priceUp != indUp
}

func monotonicIncreasing(xs []float64) bool {
	for i := 1; i < len(xs); i++ {
		if xs[i] < xs[i-1] {
			return false
		}
	}
	return true
}

// predictiveReliability correlates indicator first differences with
// the next bar's price change, rescaled from [-1,1] to [0,1].
// Degenerate input falls back to 0.5.
func predictiveReliability(indicator, closes []float64) float64 {
	n := len(closes)
	if n < 3 || len(indicator) != n {
		return 0.5
	}

	xs := make([]float64, 0, n-2)
	ys := make([]float64, 0, n-2)
	for i := 1; i < n-1; i++ {
		xs = append(xs, indicator[i]-indicator[i-1])
		ys = append(ys, closes[i+1]-closes[i])
	}

	r, ok := pearson(xs, ys)
	if !ok {
		return 0.5
	}
	return clamp01((r + 1) / 2)
}

// bandTouchReliability counts band crossings back inside the channel
// and how often price reverted over the five bars that follow.
func bandTouchReliability(upper, lower, closes []float64, period int) float64 {
	touches := 0
	successes := 0

	// Skip the warmup region where bands sit on the close
	for i := period; i < len(closes); i++ {
		switch {
		case closes[i-1] <= lower[i-1] && closes[i] > lower[i]:
			touches++
			if meanSlice(closes, i, 5) > closes[i] {
				successes++
			}
		case closes[i-1] >= upper[i-1] && closes[i] < upper[i]:
			touches++
			if meanSlice(closes, i, 5) < closes[i] {
				successes++
			}
		}
	}

	if touches == 0 {
		return 0.5
	}
	return float64(successes) / float64(touches)
}

func volumeReliability(volumes, closes []float64) float64 {
	n := len(closes)
	if n < 3 {
		return 0.5
	}
	xs := make([]float64, 0, n-1)
	ys := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		if closes[i-1] == 0 {
			continue
		}
		xs = append(xs, volumes[i])
		ys = append(ys, math.Abs((closes[i]-closes[i-1])/closes[i-1]))
	}
	r, ok := pearson(xs, ys)
	if !ok {
		return 0.5
	}
	return clamp01((r + 1) / 2)
}

// momentumReliability measures how often momentum direction predicted
// the price direction five bars ahead.
func momentumReliability(roc, closes []float64) float64 {
	n := len(closes)
	correct := 0
	total := 0
	for i := 10; i+5 < n; i++ {
		momentumUp := roc[i] > 0
		priceUp := closes[i+5] > closes[i]
		if momentumUp == priceUp {
			correct++
		}
		total++
	}
	if total == 0 {
		return 0.5
	}
	return float64(correct) / float64(total)
}

// meanSlice averages up to count values of xs starting at index start.
func meanSlice(xs []float64, start, count int) float64 {
	end := start + count
	if end > len(xs) {
		end = len(xs)
	}
	if start >= end {
		return 0
	}
	var sum float64
	for _, v := range xs[start:end] {
		sum += v
	}
	return sum / float64(end-start)
}

func meanTail(xs []float64, count int) float64 {
	start := len(xs) - count
	if start < 0 {
		start = 0
	}
	return meanSlice(xs, start, count)
}

// rollingMean returns the rolling mean with the given window; leading
// bars use the partial window.
func rollingMean(xs []float64, window int) []float64 {
	out := make([]float64, len(xs))
	var sum float64
	for i, v := range xs {
		sum += v
		if i >= window {
			sum -= xs[i-window]
			out[i] = sum / float64(window)
		} else {
			out[i] = sum / float64(i+1)
		}
	}
	return out
}

func pearson(xs, ys []float64) (float64, bool) {
	n := len(xs)
	if n < 2 || n != len(ys) {
		return 0, false
	}

	var meanX, meanY float64
	for i := 0; i < n; i++ {
		meanX += xs[i]
		meanY += ys[i]
	}
	meanX /= float64(n)
	meanY /= float64(n)

	var cov, varX, varY float64
	for i := 0; i < n; i++ {
		dx := xs[i] - meanX
		dy := ys[i] - meanY
		cov += dx * dy
		varX += dx * dx
		varY += dy * dy
	}
	if varX == 0 || varY == 0 {
		return 0, false
	}
	return cov / math.Sqrt(varX*varY), true
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
