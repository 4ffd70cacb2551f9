// Package kraken implements the market data feed against Kraken's
// public REST API. Upstream failures degrade to empty results so the
// trading loop can skip a pair for one cycle.
package kraken

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	apihttp "github.com/avolkov/papertrade/internal/platform/http"
	"github.com/avolkov/papertrade/models"
)

const (
	apiURL     = "https://api.kraken.com"
	apiVersion = "0"

	// Volume rankings are refreshed at most this often.
	rankingTTL = 300 * time.Second

	activePairLimit = 10
)

// timeframes maps timeframe names to Kraken's interval minutes.
var timeframes = []struct {
	name    string
	minutes int
}{
	{"1m", 1},
	{"5m", 5},
	{"15m", 15},
	{"1h", 60},
	{"4h", 240},
	{"1d", 1440},
}

// DefaultPairs maps portfolio pair names to Kraken pair codes.
func DefaultPairs() map[string]string {
	return map[string]string{
		"BTC/USD":  "XXBTZUSD",
		"ETH/USD":  "XETHZUSD",
		"SOL/USD":  "SOLUSD",
		"ADA/USD":  "ADAUSD",
		"XRP/USD":  "XXRPZUSD",
		"DOT/USD":  "DOTUSD",
		"LINK/USD": "LINKUSD",
		"AVAX/USD": "AVAXUSD",
		"DOGE/USD": "XDGUSD",
		"LTC/USD":  "XLTCZUSD",
		"ATOM/USD": "ATOMUSD",
		"UNI/USD":  "UNIUSD",
		"XLM/USD":  "XXLMZUSD",
		"ALGO/USD": "ALGOUSD",
	}
}

// Feed implements models.MarketDataFeed over Kraken's public API.
type Feed struct {
	client   *apihttp.Client
	baseURL  string
	discover bool

	mu           sync.Mutex
	pairs        map[string]string
	reversePairs map[string]string
	cachedRanked []string
	lastRanking  time.Time

	logger zerolog.Logger
}

// NewFeed builds a feed over the given pair mapping. A nil mapping
// starts from DefaultPairs and additionally discovers USD pairs from
// the AssetPairs endpoint on the ranking cadence.
func NewFeed(client *apihttp.Client, pairs map[string]string) *Feed {
	discover := pairs == nil
	if pairs == nil {
		pairs = DefaultPairs()
	}
	reverse := make(map[string]string, len(pairs))
	for db, exchange := range pairs {
		reverse[exchange] = db
	}
	return &Feed{
		client:       client,
		baseURL:      apiURL,
		discover:     discover,
		pairs:        pairs,
		reversePairs: reverse,
		logger:       log.With().Str("component", "kraken_feed").Logger(),
	}
}

// krakenResponse is the common envelope of Kraken public endpoints.
type krakenResponse struct {
	Error  []string                   `json:"error"`
	Result map[string]json.RawMessage `json:"result"`
}

// tickerPayload is the subset of Kraken's ticker fields the bot needs.
type tickerPayload struct {
	C []string `json:"c"` // last trade closed [price, lot volume]
	V []string `json:"v"` // volume [today, last 24 hours]
	O string   `json:"o"` // today's opening price
}

// GetActivePairs returns the configured pairs ranked by 24h volume,
// top ten. Rankings are cached for five minutes; on failure the
// configured pair list is returned unranked.
func (f *Feed) GetActivePairs(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	if f.cachedRanked != nil && time.Since(f.lastRanking) < rankingTTL {
		cached := f.cachedRanked
		f.mu.Unlock()
		return limitPairs(cached), nil
	}
	f.mu.Unlock()

	if f.discover {
		f.refreshAssetPairs(ctx)
	}

	resp, err := f.apiRequest(ctx, "public/Ticker", nil)
	if err != nil {
		f.logger.Error().Err(err).Msg("Error getting volume rankings")
		return limitPairs(f.fallbackPairs()), nil
	}

	type pairVolume struct {
		pair   string
		volume float64
	}
	var volumes []pairVolume
	for krakenPair, raw := range resp.Result {
		dbPair, ok := f.dbPair(krakenPair)
		if !ok {
			continue
		}
		var t tickerPayload
		if err := json.Unmarshal(raw, &t); err != nil || len(t.V) < 2 {
			continue
		}
		vol, err := strconv.ParseFloat(t.V[1], 64)
		if err != nil {
			continue
		}
		volumes = append(volumes, pairVolume{dbPair, vol})
	}

	sort.Slice(volumes, func(i, j int) bool { return volumes[i].volume > volumes[j].volume })
	ranked := make([]string, len(volumes))
	for i, v := range volumes {
		ranked[i] = v.pair
	}

	f.mu.Lock()
	f.cachedRanked = ranked
	f.lastRanking = time.Now()
	f.mu.Unlock()

	return limitPairs(ranked), nil
}

// GetTicker fetches the latest ticker for a pair. Unavailable pairs
// return nil without an error.
func (f *Feed) GetTicker(ctx context.Context, pair string) (*models.Ticker, error) {
	exchangePair := f.exchangePair(pair)
	resp, err := f.apiRequest(ctx, "public/Ticker", url.Values{"pair": {exchangePair}})
	if err != nil {
		f.logger.Error().Err(err).Str("pair", pair).Msg("Error getting ticker")
		return nil, nil
	}

	raw, ok := resp.Result[exchangePair]
	if !ok {
		// Kraken sometimes answers under a normalized code
		for _, v := range resp.Result {
			raw = v
			ok = true
			break
		}
	}
	if !ok {
		return nil, nil
	}

	var t tickerPayload
	if err := json.Unmarshal(raw, &t); err != nil || len(t.C) < 1 || len(t.V) < 2 {
		f.logger.Warn().Str("pair", pair).Msg("Malformed ticker payload")
		return nil, nil
	}

	price, err1 := strconv.ParseFloat(t.C[0], 64)
	volume, err2 := strconv.ParseFloat(t.V[1], 64)
	open, err3 := strconv.ParseFloat(t.O, 64)
	if err1 != nil || err2 != nil || err3 != nil || open == 0 {
		return nil, nil
	}

	return &models.Ticker{
		Price:     price,
		Volume24h: volume,
		Change24h: (price - open) / open * 100,
	}, nil
}

// GetAllTimeframeData fetches OHLC candles for every configured
// timeframe. Timeframes that fail come back as empty series.
func (f *Feed) GetAllTimeframeData(ctx context.Context, pair string) (map[string][]models.Candle, error) {
	exchangePair := f.exchangePair(pair)
	result := make(map[string][]models.Candle, len(timeframes))

	for _, tf := range timeframes {
		candles, err := f.fetchOHLC(ctx, exchangePair, tf.minutes)
		if err != nil {
			f.logger.Error().Err(err).Str("pair", pair).Str("timeframe", tf.name).Msg("Error getting OHLC data")
			result[tf.name] = nil
			continue
		}
		result[tf.name] = candles
	}
	return result, nil
}

func (f *Feed) fetchOHLC(ctx context.Context, exchangePair string, intervalMinutes int) ([]models.Candle, error) {
	resp, err := f.apiRequest(ctx, "public/OHLC", url.Values{
		"pair":     {exchangePair},
		"interval": {strconv.Itoa(intervalMinutes)},
	})
	if err != nil {
		return nil, err
	}

	raw, ok := resp.Result[exchangePair]
	if !ok {
		for key, v := range resp.Result {
			if key != "last" {
				raw = v
				ok = true
				break
			}
		}
	}
	if !ok {
		return nil, nil
	}

	// Rows are [time, open, high, low, close, vwap, volume, count]
	var rows [][]json.RawMessage
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("parsing OHLC rows: %w", err)
	}

	candles := make([]models.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 7 {
			continue
		}
		ts, err := parseNumber(row[0])
		if err != nil {
			continue
		}
		open, err1 := parseNumber(row[1])
		high, err2 := parseNumber(row[2])
		low, err3 := parseNumber(row[3])
		closePrice, err4 := parseNumber(row[4])
		volume, err5 := parseNumber(row[6])
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil {
			continue
		}
		candles = append(candles, models.Candle{
			Timestamp: time.Unix(int64(ts), 0).UTC(),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closePrice,
			Volume:    volume,
		})
	}
	return candles, nil
}

func (f *Feed) Close() error {
	return nil
}

func (f *Feed) apiRequest(ctx context.Context, endpoint string, params url.Values) (*krakenResponse, error) {
	u := fmt.Sprintf("%s/%s/%s", f.baseURL, apiVersion, endpoint)
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var resp krakenResponse
	if err := f.client.GetJSON(ctx, u, &resp); err != nil {
		return nil, err
	}
	if len(resp.Error) > 0 {
		return nil, fmt.Errorf("kraken API error: %v", resp.Error)
	}
	return &resp, nil
}

// assetPairInfo is the subset of AssetPairs metadata the feed needs.
type assetPairInfo struct {
	WSName string `json:"wsname"`
	Quote  string `json:"quote"`
}

// refreshAssetPairs extends the pair mapping with every USD-quoted pair
// Kraken lists. Failures keep the current mapping.
func (f *Feed) refreshAssetPairs(ctx context.Context) {
	resp, err := f.apiRequest(ctx, "public/AssetPairs", nil)
	if err != nil {
		f.logger.Warn().Err(err).Msg("Asset pair discovery failed, keeping known pairs")
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for krakenPair, raw := range resp.Result {
		var info assetPairInfo
		if err := json.Unmarshal(raw, &info); err != nil {
			continue
		}
		if info.Quote != "ZUSD" && info.Quote != "USD" {
			continue
		}
		if info.WSName == "" {
			continue
		}
		// Kraken names Bitcoin XBT on the wire
		dbPair := strings.Replace(info.WSName, "XBT", "BTC", 1)
		if _, known := f.pairs[dbPair]; known {
			continue
		}
		f.pairs[dbPair] = krakenPair
		f.reversePairs[krakenPair] = dbPair
	}
}

func (f *Feed) exchangePair(pair string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if exchange, ok := f.pairs[pair]; ok {
		return exchange
	}
	return pair
}

func (f *Feed) dbPair(krakenPair string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dbPair, ok := f.reversePairs[krakenPair]
	return dbPair, ok
}

func (f *Feed) fallbackPairs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.pairs))
	for pair := range f.pairs {
		out = append(out, pair)
	}
	sort.Strings(out)
	return out
}

func limitPairs(pairs []string) []string {
	if len(pairs) > activePairLimit {
		return pairs[:activePairLimit]
	}
	return pairs
}

// parseNumber handles Kraken's habit of mixing quoted and bare numbers.
func parseNumber(raw json.RawMessage) (float64, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strconv.ParseFloat(s, 64)
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	return 0, fmt.Errorf("not a number: %s", string(raw))
}
