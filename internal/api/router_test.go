package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/ut"

	"ticker-panel/internal/insight"
	"ticker-panel/internal/market"
	"ticker-panel/internal/store"
	"ticker-panel/internal/watchlist"
)

type stubGateway struct {
	prices map[string]float64
	closes map[string][]float64
}

func (g *stubGateway) CurrentPrice(_ context.Context, sym string) (float64, error) {
	if sym == "DOWN" {
		return 0, errors.New("upstream unavailable")
	}
	p, ok := g.prices[sym]
	if !ok {
		return 0, market.ErrSymbolNotFound
	}
	return p, nil
}

func (g *stubGateway) HistoricalCloses(_ context.Context, sym string, _ int) ([]float64, error) {
	c, ok := g.closes[sym]
	if !ok {
		return []float64{}, market.ErrSymbolNotFound
	}
	return c, nil
}

func (g *stubGateway) HistoricalCandles(_ context.Context, sym string, _ int) ([]market.Candle, error) {
	return []market.Candle{{Time: 1, Open: 1, High: 1, Low: 1, Close: 1}}, nil
}

func (g *stubGateway) IconURL(_ context.Context, sym string) (string, error) {
	if sym == "BTC" {
		return "https://img/btc.png", nil
	}
	return "", market.ErrSymbolNotFound
}

func setup(t *testing.T, withJournal bool) (*server.Hertz, *watchlist.Manager, *stubGateway) {
	t.Helper()
	gw := &stubGateway{
		prices: map[string]float64{"BTC": 100, "ETH": 50, "SOL": 20},
		closes: map[string][]float64{"BTC": {1, 2, 3, 4, 5}, "ETH": {5, 4, 3, 2, 1}},
	}
	var journal Journal
	opts := watchlist.Options{}
	if withJournal {
		st, err := store.Open(filepath.Join(t.TempDir(), "j.db"))
		if err != nil {
			t.Fatalf("store.Open: %v", err)
		}
		t.Cleanup(func() { _ = st.Close() })
		journal = st
		opts.Recorder = st
	}
	wl := watchlist.NewManager(gw, opts)
	h := server.Default()
	RegisterRoutes(h, wl, journal, insight.New(insight.Config{}))
	return h, wl, gw
}

func jsonBody(s string) *ut.Body {
	return &ut.Body{Body: bytes.NewBufferString(s), Len: len(s)}
}

var jsonHeader = ut.Header{Key: "Content-Type", Value: "application/json"}

func decode(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode %s: %v", body, err)
	}
	return out
}

func TestHealthz(t *testing.T) {
	h, _, _ := setup(t, false)
	w := ut.PerformRequest(h.Engine, http.MethodGet, "/healthz", nil)
	if w.Result().StatusCode() != http.StatusOK {
		t.Fatalf("status = %d", w.Result().StatusCode())
	}
}

func TestAddStatusCodes(t *testing.T) {
	h, _, _ := setup(t, false)
	tests := []struct {
		body   string
		status int
	}{
		{`{"symbol":"btc"}`, http.StatusCreated},
		{`{"symbol":"BTC"}`, http.StatusConflict},
		{`{"symbol":"XYZ"}`, http.StatusNotFound},
		{`{"symbol":"DOWN"}`, http.StatusBadGateway},
		{`{"symbol":"  "}`, http.StatusBadRequest},
		{`not json`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		w := ut.PerformRequest(h.Engine, http.MethodPost, "/api/v1/watchlist", jsonBody(tt.body), jsonHeader)
		if got := w.Result().StatusCode(); got != tt.status {
			t.Errorf("POST %s status = %d, want %d (%s)", tt.body, got, tt.status, w.Result().Body())
		}
	}
}

func TestWatchlistFlow(t *testing.T) {
	h, wl, gw := setup(t, true)
	for _, s := range []string{"BTC", "ETH", "SOL"} {
		if _, err := wl.Add(context.Background(), s); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	w := ut.PerformRequest(h.Engine, http.MethodPost, "/api/v1/watchlist/reorder", jsonBody(`{"symbol":"sol","index":0}`), jsonHeader)
	if w.Result().StatusCode() != http.StatusOK {
		t.Fatalf("reorder status = %d", w.Result().StatusCode())
	}
	syms := decode(t, w.Result().Body())["symbols"].([]any)
	if syms[0] != "SOL" {
		t.Errorf("order after reorder = %v", syms)
	}

	w = ut.PerformRequest(h.Engine, http.MethodPost, "/api/v1/watchlist/reorder", jsonBody(`{"symbol":"sol"}`), jsonHeader)
	if w.Result().StatusCode() != http.StatusBadRequest {
		t.Errorf("reorder without index status = %d", w.Result().StatusCode())
	}

	gw.prices["BTC"] = 105
	w = ut.PerformRequest(h.Engine, http.MethodPost, "/api/v1/watchlist/refresh?history=1", nil)
	if w.Result().StatusCode() != http.StatusOK {
		t.Fatalf("refresh status = %d", w.Result().StatusCode())
	}

	w = ut.PerformRequest(h.Engine, http.MethodGet, "/api/v1/correlation", nil)
	corr := decode(t, w.Result().Body())["correlation"].(map[string]any)
	values := corr["values"].([]any)
	// order is SOL, BTC, ETH; SOL has no history
	if row := values[1].([]any); row[2].(float64) > -0.999 {
		t.Errorf("BTC/ETH = %v", row[2])
	}
	if row := values[0].([]any); row[0].(float64) != 1 || row[1].(float64) != 0 {
		t.Errorf("SOL row = %v", row)
	}

	w = ut.PerformRequest(h.Engine, http.MethodDelete, "/api/v1/watchlist/eth", nil)
	if got := decode(t, w.Result().Body())["removed"]; got != true {
		t.Errorf("removed = %v", got)
	}
	w = ut.PerformRequest(h.Engine, http.MethodGet, "/api/v1/watchlist", nil)
	assets := decode(t, w.Result().Body())["assets"].([]any)
	if len(assets) != 2 {
		t.Errorf("assets after delete = %d", len(assets))
	}
	first := assets[0].(map[string]any)
	if first["display_price"] != "$20.000" {
		t.Errorf("display_price = %v", first["display_price"])
	}

	w = ut.PerformRequest(h.Engine, http.MethodGet, "/api/v1/events?action=remove", nil)
	items := decode(t, w.Result().Body())["items"].([]any)
	if len(items) != 1 {
		t.Errorf("remove events = %d", len(items))
	}
	w = ut.PerformRequest(h.Engine, http.MethodGet, "/api/v1/ticks?symbol=btc&limit=5", nil)
	items = decode(t, w.Result().Body())["items"].([]any)
	if len(items) != 1 {
		t.Errorf("BTC ticks = %d", len(items))
	}
	w = ut.PerformRequest(h.Engine, http.MethodGet, "/api/v1/ticks?limit=-1", nil)
	if w.Result().StatusCode() != http.StatusBadRequest {
		t.Errorf("bad limit status = %d", w.Result().StatusCode())
	}
}

func TestDetailAndIcon(t *testing.T) {
	h, wl, _ := setup(t, false)
	if _, err := wl.Add(context.Background(), "BTC"); err != nil {
		t.Fatalf("Add: %v", err)
	}

	w := ut.PerformRequest(h.Engine, http.MethodGet, "/api/v1/assets/btc", nil)
	if w.Result().StatusCode() != http.StatusOK {
		t.Fatalf("detail status = %d", w.Result().StatusCode())
	}
	detail := decode(t, w.Result().Body())["detail"].(map[string]any)
	if detail["image_url"] != "https://img/btc.png" || len(detail["candles"].([]any)) != 1 {
		t.Errorf("detail = %v", detail)
	}

	w = ut.PerformRequest(h.Engine, http.MethodGet, "/api/v1/assets/eth", nil)
	if w.Result().StatusCode() != http.StatusNotFound {
		t.Errorf("untracked detail status = %d", w.Result().StatusCode())
	}
	w = ut.PerformRequest(h.Engine, http.MethodGet, "/api/v1/icons/doge", nil)
	if w.Result().StatusCode() != http.StatusNotFound {
		t.Errorf("unknown icon status = %d", w.Result().StatusCode())
	}
}

func TestJournalDisabled(t *testing.T) {
	h, _, _ := setup(t, false)
	w := ut.PerformRequest(h.Engine, http.MethodGet, "/api/v1/ticks", nil)
	if w.Result().StatusCode() != http.StatusServiceUnavailable {
		t.Errorf("status = %d", w.Result().StatusCode())
	}
}

func TestInsightFallback(t *testing.T) {
	h, _, _ := setup(t, false)
	w := ut.PerformRequest(h.Engine, http.MethodGet, "/api/v1/insight", nil)
	body := decode(t, w.Result().Body())
	in := body["insight"].(map[string]any)
	if in["mode"] != "fallback" {
		t.Errorf("insight = %v", in)
	}
}
