package kraken

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"testing"

	apihttp "github.com/avolkov/papertrade/internal/platform/http"
)

func newTestFeed(t *testing.T, handler http.HandlerFunc) (*Feed, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	feed := NewFeed(apihttp.NewClient(100, 5*time.Second), map[string]string{
		"BTC/USD": "XXBTZUSD",
		"ETH/USD": "XETHZUSD",
	})
	feed.baseURL = server.URL
	return feed, server
}

func TestGetTicker(t *testing.T) {
	feed, _ := newTestFeed(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/0/public/Ticker" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("pair"); got != "XXBTZUSD" {
			t.Errorf("unexpected pair param %q", got)
		}
		fmt.Fprint(w, `{"error":[],"result":{"XXBTZUSD":{"c":["50000.0","0.1"],"v":["100.0","250.0"],"o":"48000.0"}}}`)
	})

	ticker, err := feed.GetTicker(context.Background(), "BTC/USD")
	if err != nil {
		t.Fatalf("GetTicker returned error: %v", err)
	}
	if ticker == nil {
		t.Fatal("expected ticker, got nil")
	}
	if ticker.Price != 50000.0 {
		t.Errorf("price = %v, want 50000", ticker.Price)
	}
	if ticker.Volume24h != 250.0 {
		t.Errorf("volume24h = %v, want 250", ticker.Volume24h)
	}
	wantChange := (50000.0 - 48000.0) / 48000.0 * 100
	if diff := ticker.Change24h - wantChange; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("change24h = %v, want %v", ticker.Change24h, wantChange)
	}
}

func TestGetTickerAPIError(t *testing.T) {
	feed, _ := newTestFeed(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":["EQuery:Unknown asset pair"],"result":{}}`)
	})

	ticker, err := feed.GetTicker(context.Background(), "BTC/USD")
	if err != nil {
		t.Fatalf("GetTicker returned error: %v", err)
	}
	if ticker != nil {
		t.Errorf("expected nil ticker on API error, got %+v", ticker)
	}
}

func TestGetAllTimeframeData(t *testing.T) {
	feed, _ := newTestFeed(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("interval") == "1440" {
			// One timeframe fails; the rest must still come back.
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprint(w, `{"error":[],"result":{"XXBTZUSD":[[1700000000,"100.0","110.0","95.0","105.0","102.0","12.5",42]],"last":1700000000}}`)
	})

	data, err := feed.GetAllTimeframeData(context.Background(), "BTC/USD")
	if err != nil {
		t.Fatalf("GetAllTimeframeData returned error: %v", err)
	}
	if len(data) != 6 {
		t.Fatalf("got %d timeframes, want 6", len(data))
	}
	if len(data["1d"]) != 0 {
		t.Errorf("failed timeframe should be empty, got %d candles", len(data["1d"]))
	}

	candles := data["1h"]
	if len(candles) != 1 {
		t.Fatalf("got %d candles for 1h, want 1", len(candles))
	}
	c := candles[0]
	if c.Open != 100.0 || c.High != 110.0 || c.Low != 95.0 || c.Close != 105.0 {
		t.Errorf("unexpected OHLC values: %+v", c)
	}
	if c.Volume != 12.5 {
		t.Errorf("volume = %v, want 12.5", c.Volume)
	}
	if got := c.Timestamp.Unix(); got != 1700000000 {
		t.Errorf("timestamp = %d, want 1700000000", got)
	}
}

func TestGetActivePairsRanksByVolume(t *testing.T) {
	var calls int
	feed, _ := newTestFeed(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		fmt.Fprint(w, `{"error":[],"result":{
			"XXBTZUSD":{"c":["50000.0","0.1"],"v":["10.0","20.0"],"o":"48000.0"},
			"XETHZUSD":{"c":["3000.0","1.0"],"v":["500.0","900.0"],"o":"2900.0"},
			"SOLUSD":{"c":["150.0","1.0"],"v":["100.0","100.0"],"o":"140.0"}
		}}`)
	})

	pairs, err := feed.GetActivePairs(context.Background())
	if err != nil {
		t.Fatalf("GetActivePairs returned error: %v", err)
	}
	// SOLUSD is not in the configured mapping and must be skipped.
	if len(pairs) != 2 {
		t.Fatalf("got %d pairs, want 2: %v", len(pairs), pairs)
	}
	if pairs[0] != "ETH/USD" || pairs[1] != "BTC/USD" {
		t.Errorf("ranking = %v, want [ETH/USD BTC/USD]", pairs)
	}

	// Second call inside the cache window must not hit the API again.
	if _, err := feed.GetActivePairs(context.Background()); err != nil {
		t.Fatalf("cached GetActivePairs returned error: %v", err)
	}
	if calls != 1 {
		t.Errorf("API called %d times, want 1 (rankings cached)", calls)
	}
}

func TestGetActivePairsDiscoversUSDPairs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/0/public/AssetPairs":
			fmt.Fprint(w, `{"error":[],"result":{
				"PEPEUSD":{"wsname":"PEPE/USD","quote":"ZUSD"},
				"XETHZEUR":{"wsname":"ETH/EUR","quote":"ZEUR"}
			}}`)
		case "/0/public/Ticker":
			fmt.Fprint(w, `{"error":[],"result":{
				"PEPEUSD":{"c":["0.001","1.0"],"v":["100.0","900.0"],"o":"0.0009"},
				"XXBTZUSD":{"c":["50000.0","0.1"],"v":["10.0","20.0"],"o":"48000.0"}
			}}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	t.Cleanup(server.Close)

	// nil mapping enables discovery on top of the defaults
	feed := NewFeed(apihttp.NewClient(100, 5*time.Second), nil)
	feed.baseURL = server.URL

	pairs, err := feed.GetActivePairs(context.Background())
	if err != nil {
		t.Fatalf("GetActivePairs returned error: %v", err)
	}
	if len(pairs) != 2 {
		t.Fatalf("got %d pairs, want 2: %v", len(pairs), pairs)
	}
	if pairs[0] != "PEPE/USD" || pairs[1] != "BTC/USD" {
		t.Errorf("ranking = %v, want [PEPE/USD BTC/USD]", pairs)
	}
}

func TestGetActivePairsFallbackOnError(t *testing.T) {
	feed, _ := newTestFeed(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})

	pairs, err := feed.GetActivePairs(context.Background())
	if err != nil {
		t.Fatalf("GetActivePairs returned error: %v", err)
	}
	if len(pairs) != 2 {
		t.Fatalf("got %d fallback pairs, want 2", len(pairs))
	}
	if pairs[0] != "BTC/USD" || pairs[1] != "ETH/USD" {
		t.Errorf("fallback pairs = %v, want sorted configured list", pairs)
	}
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		raw     string
		want    float64
		wantErr bool
	}{
		{`"105.5"`, 105.5, false},
		{`42`, 42, false},
		{`3.14`, 3.14, false},
		{`"abc"`, 0, true},
		{`[1]`, 0, true},
	}
	for _, tt := range tests {
		got, err := parseNumber([]byte(tt.raw))
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseNumber(%s): expected error", tt.raw)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseNumber(%s): %v", tt.raw, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseNumber(%s) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}
