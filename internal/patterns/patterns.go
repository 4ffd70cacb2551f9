// Package patterns recognizes candlestick formations, chart
// formations, support and resistance clusters and trend-line channels
// on a candle series.
package patterns

import (
	"math"
	"sort"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/avolkov/papertrade/models"
)

// Candlestick pattern names.
const (
	PatternDoji            = "doji"
	PatternHammer          = "hammer"
	PatternEngulfing       = "engulfing"
	PatternThreeLineStrike = "three_line_strike"
)

// Technical pattern names.
const (
	PatternDoubleTop     = "double_top"
	PatternDoubleBottom  = "double_bottom"
	PatternHeadShoulders = "head_shoulders"
	PatternTriangle      = "triangle"
)

const (
	scanWindow      = 10
	pivotLookback   = 5
	clusterDistance = 0.02
	touchTolerance  = 0.001
	peakTolerance   = 0.02
	pullbackDepth   = 0.03
	convergenceSpan = 0.05
)

type Recognizer struct {
	logger zerolog.Logger
}

func NewRecognizer() *Recognizer {
	return &Recognizer{
		logger: log.With().Str("component", "patterns").Logger(),
	}
}

// Analyze scans the series and returns everything it found. A short or
// empty series yields an empty report, never an error.
func (r *Recognizer) Analyze(candles []models.Candle) models.PatternReport {
	report := models.PatternReport{
		Candlesticks: r.candlestickPatterns(candles),
	}

	highs, lows := pivotPoints(candles, pivotLookback)
	report.Support = clusterLevels(lows, clusterDistance)
	report.Resistance = clusterLevels(highs, clusterDistance)

	upper := fitTrendLine(findSwings(candles, true, pivotLookback))
	lower := fitTrendLine(findSwings(candles, false, pivotLookback))
	report.UpperTrendLine = upper
	report.LowerTrendLine = lower
	report.ChannelQuality = channelQuality(candles, upper, lower)
	report.Technicals = technicalPatterns(candles, upper, lower)

	return report
}

// technicalPatterns runs the chart-formation detectors over the swing
// structure of the series.
func technicalPatterns(candles []models.Candle, upper, lower *models.TrendLine) []models.PatternMatch {
	highs := findSwings(candles, true, pivotLookback)
	lows := findSwings(candles, false, pivotLookback)

	var matches []models.PatternMatch
	if m := detectDoubleTop(highs, lows); m != nil {
		matches = append(matches, *m)
	}
	if m := detectDoubleBottom(lows, highs); m != nil {
		matches = append(matches, *m)
	}
	if m := detectHeadShoulders(highs); m != nil {
		matches = append(matches, *m)
	}
	if m := detectTriangle(candles, upper, lower); m != nil {
		matches = append(matches, *m)
	}
	return matches
}

// detectDoubleTop matches two near-equal swing highs separated by a
// pullback of at least pullbackDepth.
func detectDoubleTop(highs, lows []swingPoint) *models.PatternMatch {
	if len(highs) < 2 {
		return nil
	}
	first := highs[len(highs)-2]
	second := highs[len(highs)-1]
	if first.price == 0 {
		return nil
	}
	diff := math.Abs(first.price-second.price) / first.price
	if diff > peakTolerance {
		return nil
	}

	trough, ok := extremeBetween(lows, first.index, second.index, false)
	if !ok {
		return nil
	}
	peak := math.Min(first.price, second.price)
	depth := (peak - trough) / peak
	if depth < pullbackDepth {
		return nil
	}

	return &models.PatternMatch{
		Type:       PatternDoubleTop,
		Location:   second.index,
		Strength:   math.Min(depth/pullbackDepth, 2.0) / 2.0 * (1 - diff/peakTolerance),
		PriceLevel: second.price,
	}
}

// detectDoubleBottom mirrors detectDoubleTop on swing lows.
func detectDoubleBottom(lows, highs []swingPoint) *models.PatternMatch {
	if len(lows) < 2 {
		return nil
	}
	first := lows[len(lows)-2]
	second := lows[len(lows)-1]
	if first.price == 0 {
		return nil
	}
	diff := math.Abs(first.price-second.price) / first.price
	if diff > peakTolerance {
		return nil
	}

	crest, ok := extremeBetween(highs, first.index, second.index, true)
	if !ok {
		return nil
	}
	floor := math.Max(first.price, second.price)
	if floor == 0 {
		return nil
	}
	height := (crest - floor) / floor
	if height < pullbackDepth {
		return nil
	}

	return &models.PatternMatch{
		Type:       PatternDoubleBottom,
		Location:   second.index,
		Strength:   math.Min(height/pullbackDepth, 2.0) / 2.0 * (1 - diff/peakTolerance),
		PriceLevel: second.price,
	}
}

// detectHeadShoulders matches three swing highs where the middle peak
// stands above two near-equal shoulders.
func detectHeadShoulders(highs []swingPoint) *models.PatternMatch {
	if len(highs) < 3 {
		return nil
	}
	left := highs[len(highs)-3]
	head := highs[len(highs)-2]
	right := highs[len(highs)-1]
	if left.price == 0 || head.price <= left.price || head.price <= right.price {
		return nil
	}

	shoulderDiff := math.Abs(left.price-right.price) / left.price
	if shoulderDiff > peakTolerance {
		return nil
	}
	shoulderAvg := (left.price + right.price) / 2
	prominence := (head.price - shoulderAvg) / shoulderAvg
	if prominence < peakTolerance {
		return nil
	}

	return &models.PatternMatch{
		Type:       PatternHeadShoulders,
		Location:   right.index,
		Strength:   math.Min(prominence/pullbackDepth, 1.0) * (1 - shoulderDiff/peakTolerance),
		PriceLevel: head.price,
	}
}

// detectTriangle matches converging trend lines; strength grows with
// how much of the price range the channel closes over the series.
func detectTriangle(candles []models.Candle, upper, lower *models.TrendLine) *models.PatternMatch {
	if upper == nil || lower == nil || len(candles) == 0 {
		return nil
	}
	convergence := upper.Slope - lower.Slope
	if convergence >= 0 {
		return nil
	}

	last := len(candles) - 1
	price := candles[last].Close
	if price == 0 {
		return nil
	}
	closure := -convergence * float64(len(candles)) / price
	if closure < convergenceSpan {
		return nil
	}

	return &models.PatternMatch{
		Type:       PatternTriangle,
		Location:   last,
		Strength:   math.Min(closure/(2*convergenceSpan), 1.0),
		PriceLevel: price,
	}
}

// extremeBetween returns the extreme swing price strictly between two
// bar indexes.
func extremeBetween(points []swingPoint, from, to int, high bool) (float64, bool) {
	var extreme float64
	found := false
	for _, p := range points {
		if p.index <= from || p.index >= to {
			continue
		}
		if !found || (high && p.price > extreme) || (!high && p.price < extreme) {
			extreme = p.price
			found = true
		}
	}
	return extreme, found
}

// candlestickPatterns scans the most recent bars with a trailing
// 4-candle window.
func (r *Recognizer) candlestickPatterns(candles []models.Candle) []models.PatternMatch {
	var matches []models.PatternMatch

	start := len(candles) - scanWindow
	if start < 0 {
		start = 0
	}

	for i := start; i < len(candles); i++ {
		winStart := i - 3
		if winStart < 0 {
			winStart = 0
		}
		window := candles[winStart : i+1]

		checks := []struct {
			name     string
			detected bool
			quality  float64
		}{
			{PatternDoji, IsDoji(window), DojiStrength(window)},
			{PatternHammer, IsHammer(window), HammerStrength(window)},
			{PatternEngulfing, IsEngulfing(window), EngulfingStrength(window)},
			{PatternThreeLineStrike, IsThreeLineStrike(window), ThreeLineStrikeStrength(window)},
		}

		for _, c := range checks {
			if !c.detected {
				continue
			}
			strength := compositeStrength(c.quality, volumeConfirmation(candles, i), trendAlignment(candles, i))
			matches = append(matches, models.PatternMatch{
				Type:       c.name,
				Location:   i,
				Strength:   strength,
				PriceLevel: candles[i].Close,
			})
		}
	}

	return matches
}

// compositeStrength folds volume confirmation and trend alignment into
// the pattern quality, clamped to [0,1].
func compositeStrength(quality, volumeConf, trendAlign float64) float64 {
	s := quality * volumeConf * trendAlign
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// IsDoji reports whether the last candle's body is under 10% of its range.
func IsDoji(window []models.Candle) bool {
	if len(window) < 1 {
		return false
	}
	c := window[len(window)-1]
	total := c.High - c.Low
	if total == 0 {
		return false
	}
	return math.Abs(c.Open-c.Close)/total < 0.1
}

func DojiStrength(window []models.Candle) float64 {
	if len(window) < 1 {
		return 0
	}
	c := window[len(window)-1]
	total := c.High - c.Low
	if total == 0 {
		return 0
	}
	return 1 - math.Abs(c.Open-c.Close)/total
}

// IsHammer checks for a long lower wick and a short upper wick
// relative to the body.
func IsHammer(window []models.Candle) bool {
	lower, upper, ok := wickRatios(window)
	return ok && lower > 2 && upper < 0.5
}

func HammerStrength(window []models.Candle) float64 {
	lower, upper, ok := wickRatios(window)
	if !ok {
		return 0
	}
	return math.Min(lower*(1-upper), 1.0)
}

func wickRatios(window []models.Candle) (lower, upper float64, ok bool) {
	if len(window) < 1 {
		return 0, 0, false
	}
	c := window[len(window)-1]
	body := math.Abs(c.Open - c.Close)
	if body == 0 {
		return 0, 0, false
	}
	upperWick := c.High - math.Max(c.Open, c.Close)
	lowerWick := math.Min(c.Open, c.Close) - c.Low
	return lowerWick / body, upperWick / body, true
}

// IsEngulfing checks that the last candle's body swallows the previous
// candle's body with opposite color.
func IsEngulfing(window []models.Candle) bool {
	return engulfingSizeRatio(window) > 0
}

func EngulfingStrength(window []models.Candle) float64 {
	ratio := engulfingSizeRatio(window)
	if ratio <= 0 {
		return 0
	}
	return math.Min(ratio-1, 1.0)
}

// engulfingSizeRatio returns the body size ratio when the engulfing
// conditions hold, 0 otherwise.
func engulfingSizeRatio(window []models.Candle) float64 {
	if len(window) < 2 {
		return 0
	}
	current := window[len(window)-1]
	previous := window[len(window)-2]

	currentBody := math.Abs(current.Close - current.Open)
	previousBody := math.Abs(previous.Close - previous.Open)
	if previousBody == 0 {
		return 0
	}

	sizeRatio := currentBody / previousBody
	currentBullish := current.Close > current.Open
	previousBullish := previous.Close > previous.Open

	engulfs := sizeRatio > 1 &&
		currentBullish != previousBullish &&
		((currentBullish && current.Open < previous.Close) ||
			(!currentBullish && current.Open > previous.Close))
	if !engulfs {
		return 0
	}
	return sizeRatio
}

// IsThreeLineStrike checks for three bearish candles with strictly
// falling closes followed by one bullish candle closing above the
// first candle's open.
func IsThreeLineStrike(window []models.Candle) bool {
	return ThreeLineStrikeStrength(window) > 0
}

func ThreeLineStrikeStrength(window []models.Candle) float64 {
	if len(window) < 4 {
		return 0
	}
	n := len(window)
	prior := window[n-4 : n-1]
	strike := window[n-1]

	var bearishSize float64
	for i, c := range prior {
		if c.Close >= c.Open {
			return 0
		}
		if i > 0 && prior[i-1].Close <= c.Close {
			return 0
		}
		bearishSize += math.Abs(c.Open - c.Close)
	}

	if !(strike.Close > strike.Open && strike.Close > prior[0].Open) {
		return 0
	}
	if bearishSize == 0 {
		return 0
	}
	return math.Min(math.Abs(strike.Close-strike.Open)/bearishSize, 1.0)
}

// volumeConfirmation is the ratio of the bar's volume to the trailing
// 20-bar average, capped at 2 and halved.
func volumeConfirmation(candles []models.Candle, idx int) float64 {
	if idx < 1 || idx >= len(candles) {
		return 1.0
	}

	start := idx - 19
	if start < 0 {
		start = 0
	}
	var sum float64
	for _, c := range candles[start : idx+1] {
		sum += c.Volume
	}
	avg := sum / float64(idx+1-start)
	if avg == 0 {
		return 1.0
	}
	return math.Min(candles[idx].Volume/avg, 2.0) / 2.0
}

// trendAlignment rates how far the bar sits from the trailing 20-bar
// SMA, scaled so a 10% separation saturates at 1.
func trendAlignment(candles []models.Candle, idx int) float64 {
	if idx < 20 || idx >= len(candles) {
		return 1.0
	}

	var sum float64
	for _, c := range candles[idx-19 : idx+1] {
		sum += c.Close
	}
	sma := sum / 20
	price := candles[idx].Close

	if math.Abs(price-sma) < 0.001 {
		return 1.0
	}
	return math.Min(math.Abs((price-sma)/sma)*10, 1.0)
}

// pivotPoints finds bars that are the extreme of a symmetric window.
func pivotPoints(candles []models.Candle, window int) (highs, lows []float64) {
	for i := window; i < len(candles)-window; i++ {
		isHigh := true
		isLow := true
		for j := i - window; j <= i+window; j++ {
			if candles[j].High > candles[i].High {
				isHigh = false
			}
			if candles[j].Low < candles[i].Low {
				isLow = false
			}
		}
		if isHigh {
			highs = append(highs, candles[i].High)
		}
		if isLow {
			lows = append(lows, candles[i].Low)
		}
	}
	return highs, lows
}

// clusterLevels groups nearby prices and returns cluster centroids.
// Prices within threshold relative distance of the running centroid
// join the cluster.
func clusterLevels(prices []float64, threshold float64) []float64 {
	if len(prices) == 0 {
		return nil
	}

	rest := append([]float64(nil), prices[1:]...)
	sort.Float64s(rest)

	var clusters []float64
	current := []float64{prices[0]}

	for _, price := range rest {
		centroid := mean(current)
		if price != 0 && math.Abs(price-centroid)/price <= threshold {
			current = append(current, price)
		} else {
			clusters = append(clusters, mean(current))
			current = []float64{price}
		}
	}
	clusters = append(clusters, mean(current))
	return clusters
}

func mean(xs []float64) float64 {
	var sum float64
	for _, v := range xs {
		sum += v
	}
	return sum / float64(len(xs))
}

type swingPoint struct {
	index int
	price float64
}

// findSwings locates swing highs or lows with a symmetric lookback.
func findSwings(candles []models.Candle, high bool, lookback int) []swingPoint {
	var points []swingPoint
	for i := lookback; i < len(candles)-lookback; i++ {
		extreme := true
		for j := i - lookback; j <= i+lookback; j++ {
			if high && candles[j].High > candles[i].High {
				extreme = false
				break
			}
			if !high && candles[j].Low < candles[i].Low {
				extreme = false
				break
			}
		}
		if extreme {
			if high {
				points = append(points, swingPoint{i, candles[i].High})
			} else {
				points = append(points, swingPoint{i, candles[i].Low})
			}
		}
	}
	return points
}

// fitTrendLine is a degree-1 least-squares fit over swing points.
func fitTrendLine(points []swingPoint) *models.TrendLine {
	if len(points) < 2 {
		return nil
	}

	n := float64(len(points))
	var sumX, sumY, sumXY, sumXX float64
	for _, p := range points {
		x := float64(p.index)
		sumX += x
		sumY += p.price
		sumXY += x * p.price
		sumXX += x * x
	}

	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return nil
	}
	slope := (n*sumXY - sumX*sumY) / denom
	intercept := (sumY - slope*sumX) / n

	return &models.TrendLine{
		Slope:     slope,
		Intercept: intercept,
		Points:    len(points),
	}
}

// channelQuality rates how parallel and well-touched the two trend
// lines are. Diverging lines score zero.
func channelQuality(candles []models.Candle, upper, lower *models.TrendLine) float64 {
	if upper == nil || lower == nil {
		return 0
	}

	slopeDiff := math.Abs(upper.Slope - lower.Slope)
	if slopeDiff > 0.1 {
		return 0
	}

	touches := countLineTouches(candles, upper) + countLineTouches(candles, lower)
	quality := math.Min(float64(touches)/10, 1.0) * (1 - slopeDiff*5)
	return math.Max(quality, 0)
}

func countLineTouches(candles []models.Candle, line *models.TrendLine) int {
	touches := 0
	for i, c := range candles {
		linePrice := line.Slope*float64(i) + line.Intercept
		if c.Close != 0 && math.Abs(c.Close-linePrice)/c.Close <= touchTolerance {
			touches++
		}
	}
	return touches
}
