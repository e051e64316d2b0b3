package httpmd_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/finch-ai/finch/internal/fault"
	"github.com/finch-ai/finch/pkg/provider/marketdata/httpmd"
)

func TestQuote(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/quote" {
			t.Errorf("path = %q, want /v1/quote", r.URL.Path)
		}
		if got := r.URL.Query().Get("symbol"); got != "INFY" {
			t.Errorf("symbol = %q, want INFY", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"symbol": "INFY",
			"exchange": "NSE",
			"last_price": 1543.25,
			"change": 12.5,
			"change_percent": 0.82,
			"volume": 4521000,
			"timestamp": 1700000000
		}`))
	}))
	defer srv.Close()

	p, err := httpmd.New(srv.URL, httpmd.WithAPIKey("test-key"))
	if err != nil {
		t.Fatal(err)
	}

	q, err := p.Quote(context.Background(), "INFY")
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if q.Symbol != "INFY" || q.Exchange != "NSE" {
		t.Errorf("quote identity = %s/%s", q.Symbol, q.Exchange)
	}
	if q.LastPrice != 1543.25 {
		t.Errorf("last price = %v, want 1543.25", q.LastPrice)
	}
	if q.Timestamp.Unix() != 1700000000 {
		t.Errorf("timestamp = %v", q.Timestamp)
	}
}

func TestQuote_EmptySymbol(t *testing.T) {
	t.Parallel()
	p, err := httpmd.New("http://localhost:1")
	if err != nil {
		t.Fatal(err)
	}
	_, err = p.Quote(context.Background(), "")
	if !errors.Is(err, fault.ErrValidation) {
		t.Errorf("error = %v, want ErrValidation", err)
	}
}

func TestQuote_RateLimited(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p, err := httpmd.New(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	_, err = p.Quote(context.Background(), "INFY")
	if !errors.Is(err, fault.ErrRateLimited) {
		t.Fatalf("error = %v, want ErrRateLimited", err)
	}
	if got := fault.RetryAfter(err); got != 7*time.Second {
		t.Errorf("RetryAfter = %v, want 7s", got)
	}
}

func TestQuote_UnknownSymbol(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p, err := httpmd.New(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	_, err = p.Quote(context.Background(), "NOSUCH")
	if !errors.Is(err, fault.ErrValidation) {
		t.Errorf("error = %v, want ErrValidation", err)
	}
}

func TestHistory(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("days"); got != "30" {
			t.Errorf("days = %q, want 30 (default)", got)
		}
		w.Write([]byte(`[
			{"date": "2026-08-24", "open": 100, "high": 105, "low": 99, "close": 104, "volume": 1000},
			{"date": "2026-08-25", "open": 104, "high": 110, "low": 103, "close": 108, "volume": 1500}
		]`))
	}))
	defer srv.Close()

	p, err := httpmd.New(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	candles, err := p.History(context.Background(), "INFY", 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(candles) != 2 {
		t.Fatalf("candles = %d, want 2", len(candles))
	}
	if candles[0].Close != 104 || candles[1].Close != 108 {
		t.Errorf("closes = %v, %v", candles[0].Close, candles[1].Close)
	}
	if candles[0].Date.Format("2006-01-02") != "2026-08-24" {
		t.Errorf("first candle date = %v", candles[0].Date)
	}
}

func TestOverview(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"name": "NIFTY 50", "value": 24315.5, "change_percent": 0.4},
			{"name": "SENSEX", "value": 80112.1, "change_percent": 0.3}
		]`))
	}))
	defer srv.Close()

	p, err := httpmd.New(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	snaps, err := p.Overview(context.Background())
	if err != nil {
		t.Fatalf("Overview: %v", err)
	}
	if len(snaps) != 2 || snaps[0].Name != "NIFTY 50" {
		t.Errorf("snapshots = %+v", snaps)
	}
}
