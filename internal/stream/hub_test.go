package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"ticker-panel/internal/watchlist"
)

type fakeController struct {
	mu      sync.Mutex
	symbols []string
}

func (f *fakeController) Add(_ context.Context, symbol string) (watchlist.Asset, error) {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.symbols {
		if s == sym {
			return watchlist.Asset{}, fmt.Errorf("%s %w", sym, watchlist.ErrDuplicate)
		}
	}
	if sym == "NOPE" {
		return watchlist.Asset{}, fmt.Errorf("%s %w", sym, watchlist.ErrNotFound)
	}
	f.symbols = append(f.symbols, sym)
	p := 1.0
	return watchlist.Asset{Symbol: sym, Price: &p}, nil
}

func (f *fakeController) Remove(string) bool { return true }

func (f *fakeController) Reorder(symbol string, _ int) error {
	return fmt.Errorf("%s: %w", symbol, watchlist.ErrNotTracked)
}

func (f *fakeController) Snapshot() watchlist.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	assets := make([]watchlist.Asset, len(f.symbols))
	for i, s := range f.symbols {
		assets[i] = watchlist.Asset{Symbol: s}
	}
	return watchlist.State{Assets: assets}
}

type frame struct {
	Type   string            `json:"type"`
	Level  string            `json:"level"`
	Text   string            `json:"text"`
	Assets []json.RawMessage `json:"assets"`
}

func dial(t *testing.T, h *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var f frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read: %v", err)
	}
	return f
}

func TestGreetingAndControl(t *testing.T) {
	ctl := &fakeController{symbols: []string{"BTC"}}
	h := NewHub(ctl)
	conn := dial(t, h)

	if f := readFrame(t, conn); f.Type != "status" {
		t.Fatalf("first frame = %+v", f)
	}
	if f := readFrame(t, conn); f.Type != "state" || len(f.Assets) != 1 {
		t.Fatalf("state frame = %+v", f)
	}

	tests := []struct {
		msg   string
		level string
		text  string
	}{
		{`{"type":"control","action":"add","symbol":"eth"}`, "success", "ETH added"},
		{`{"type":"control","action":"add","symbol":"btc"}`, "error", "BTC is already in your list"},
		{`{"type":"control","action":"add","symbol":"nope"}`, "error", "NOPE not found"},
		{`{"type":"control","action":"reorder","symbol":"XRP","index":0}`, "error", "XRP: symbol is not tracked"},
		{`{"type":"control","action":"explode"}`, "error", `unknown action "explode"`},
		{`not json`, "error", "invalid control message"},
	}
	for _, tt := range tests {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(tt.msg)); err != nil {
			t.Fatalf("write: %v", err)
		}
		f := readFrame(t, conn)
		if f.Level != tt.level || f.Text != tt.text {
			t.Errorf("%s -> %s/%q, want %s/%q", tt.msg, f.Level, f.Text, tt.level, tt.text)
		}
	}
}

func TestPublishBroadcasts(t *testing.T) {
	h := NewHub(&fakeController{})
	conn := dial(t, h)
	readFrame(t, conn)
	readFrame(t, conn)

	deadline := time.Now().Add(2 * time.Second)
	for h.Clients() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	h.Publish(watchlist.State{Assets: []watchlist.Asset{{Symbol: "SOL"}, {Symbol: "ADA"}}})
	f := readFrame(t, conn)
	if f.Type != "state" || len(f.Assets) != 2 {
		t.Errorf("broadcast frame = %+v", f)
	}
}
