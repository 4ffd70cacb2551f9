// Package calculate implements the raw technical indicator math over
// OHLCV candle series. All functions degrade to neutral values on
// short input instead of returning errors.
package calculate

import (
	"math"

	"github.com/avolkov/papertrade/models"
)

// Params collects the indicator periods used by Snapshot.
type Params struct {
	RSIPeriod    int
	MACDFast     int
	MACDSlow     int
	MACDSignal   int
	BBPeriod     int
	BBStdDev     float64
	EMAShort     int
	EMALong      int
	IchimokuConv int
	IchimokuBase int
	ATRPeriod    int
	VolumeBins   int
}

// DefaultParams returns the standard period set.
func DefaultParams() Params {
	return Params{
		RSIPeriod:    14,
		MACDFast:     12,
		MACDSlow:     26,
		MACDSignal:   9,
		BBPeriod:     20,
		BBStdDev:     2.0,
		EMAShort:     12,
		EMALong:      26,
		IchimokuConv: 9,
		IchimokuBase: 26,
		ATRPeriod:    14,
		VolumeBins:   100,
	}
}

// Closes extracts the close series from candles.
func Closes(candles []models.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// RSI computes the relative strength index over the last period changes.
// Returns 50 when there is not enough data, 100 when there were no
// losses in the window.
func RSI(closes []float64, period int) float64 {
	if len(closes) < period+1 {
		return 50.0
	}

	var gains, losses float64
	for i := len(closes) - period; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		if change >= 0 {
			gains += change
		} else {
			losses -= change
		}
	}

	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)

	if avgLoss == 0 {
		if avgGain == 0 {
			return 50.0
		}
		return 100.0
	}

	rs := avgGain / avgLoss
	return 100.0 - (100.0 / (1.0 + rs))
}

// EMASeries computes a recursive exponential moving average for each
// point of the series, seeded from the first value.
func EMASeries(values []float64, period int) []float64 {
	if len(values) == 0 {
		return nil
	}

	k := 2.0 / float64(period+1)
	out := make([]float64, len(values))
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = (values[i]-out[i-1])*k + out[i-1]
	}
	return out
}

// EMA returns the latest EMA value for the series.
func EMA(values []float64, period int) float64 {
	series := EMASeries(values, period)
	if len(series) == 0 {
		return 0
	}
	return series[len(series)-1]
}

// MACDSeries computes the MACD line and its signal line for the whole
// close series. Both slices have the same length as closes.
func MACDSeries(closes []float64, fast, slow, signal int) (macdLine, signalLine []float64) {
	if len(closes) == 0 {
		return nil, nil
	}

	emaFast := EMASeries(closes, fast)
	emaSlow := EMASeries(closes, slow)

	macdLine = make([]float64, len(closes))
	for i := range closes {
		macdLine[i] = emaFast[i] - emaSlow[i]
	}
	signalLine = EMASeries(macdLine, signal)
	return macdLine, signalLine
}

// Bollinger computes the upper, middle and lower Bollinger bands over
// the last period closes. With insufficient data all three bands
// collapse onto the last close.
func Bollinger(closes []float64, period int, stdDev float64) (upper, middle, lower float64) {
	if len(closes) == 0 {
		return 0, 0, 0
	}
	if len(closes) < period {
		last := closes[len(closes)-1]
		return last, last, last
	}

	window := closes[len(closes)-period:]
	var sum float64
	for _, c := range window {
		sum += c
	}
	middle = sum / float64(period)

	var variance float64
	for _, c := range window {
		variance += (c - middle) * (c - middle)
	}
	sd := math.Sqrt(variance / float64(period))

	upper = middle + stdDev*sd
	lower = middle - stdDev*sd
	return upper, middle, lower
}

// Ichimoku computes the conversion (tenkan-sen) and base (kijun-sen)
// lines as the midpoint of the rolling high/low range.
func Ichimoku(candles []models.Candle, convPeriod, basePeriod int) (tenkan, kijun float64) {
	return midpoint(candles, convPeriod), midpoint(candles, basePeriod)
}

func midpoint(candles []models.Candle, period int) float64 {
	if len(candles) == 0 {
		return 0
	}
	start := len(candles) - period
	if start < 0 {
		start = 0
	}
	hi := candles[start].High
	lo := candles[start].Low
	for _, c := range candles[start+1:] {
		if c.High > hi {
			hi = c.High
		}
		if c.Low < lo {
			lo = c.Low
		}
	}
	return (hi + lo) / 2
}

// ATR computes the average true range as the plain mean of the true
// range over the last period bars.
func ATR(candles []models.Candle, period int) float64 {
	if len(candles) < 2 {
		return 0
	}

	start := len(candles) - period
	if start < 1 {
		start = 1
	}

	var sum float64
	var n int
	for i := start; i < len(candles); i++ {
		tr := trueRange(candles[i], candles[i-1].Close)
		sum += tr
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func trueRange(c models.Candle, prevClose float64) float64 {
	tr := c.High - c.Low
	if d := math.Abs(c.High - prevClose); d > tr {
		tr = d
	}
	if d := math.Abs(c.Low - prevClose); d > tr {
		tr = d
	}
	return tr
}

// OBV computes on-balance volume as a cumulative signed volume sum.
func OBV(candles []models.Candle) float64 {
	var obv float64
	for i := 1; i < len(candles); i++ {
		switch {
		case candles[i].Close > candles[i-1].Close:
			obv += candles[i].Volume
		case candles[i].Close < candles[i-1].Close:
			obv -= candles[i].Volume
		}
	}
	return obv
}

// VolumeProfilePOC bins close prices and returns the price level of
// the bin with the most traded volume (point of control).
func VolumeProfilePOC(candles []models.Candle, bins int) float64 {
	if len(candles) == 0 {
		return 0
	}
	if bins <= 0 {
		bins = 100
	}

	lo := candles[0].Close
	hi := candles[0].Close
	for _, c := range candles {
		if c.Close < lo {
			lo = c.Close
		}
		if c.Close > hi {
			hi = c.Close
		}
	}
	if hi == lo {
		return hi
	}

	volume := make([]float64, bins)
	width := (hi - lo) / float64(bins)
	for _, c := range candles {
		idx := int((c.Close - lo) / width)
		if idx >= bins {
			idx = bins - 1
		}
		volume[idx] += c.Volume
	}

	best := 0
	for i, v := range volume {
		if v > volume[best] {
			best = i
		}
	}
	// The bin's lower price level is the representative price
	return lo + float64(best)*width
}

// Snapshot computes the full indicator set for a candle series.
func Snapshot(candles []models.Candle, p Params) models.IndicatorSnapshot {
	closes := Closes(candles)

	var snap models.IndicatorSnapshot
	if len(closes) > 0 {
		snap.Close = closes[len(closes)-1]
	}

	snap.RSI = RSI(closes, p.RSIPeriod)

	macdLine, signalLine := MACDSeries(closes, p.MACDFast, p.MACDSlow, p.MACDSignal)
	if n := len(macdLine); n > 0 {
		snap.MACD = macdLine[n-1]
		snap.MACDSignal = signalLine[n-1]
		snap.MACDHist = snap.MACD - snap.MACDSignal
	}

	snap.BBUpper, snap.BBMiddle, snap.BBLower = Bollinger(closes, p.BBPeriod, p.BBStdDev)
	snap.EMAShort = EMA(closes, p.EMAShort)
	snap.EMALong = EMA(closes, p.EMALong)
	snap.TenkanSen, snap.KijunSen = Ichimoku(candles, p.IchimokuConv, p.IchimokuBase)
	snap.ATR = ATR(candles, p.ATRPeriod)
	snap.OBV = OBV(candles)
	snap.POCPrice = VolumeProfilePOC(candles, p.VolumeBins)

	return snap
}
