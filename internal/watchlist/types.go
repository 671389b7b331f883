package watchlist

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"ticker-panel/internal/correlation"
	"ticker-panel/internal/market"
)

var (
	ErrInvalidSymbol = errors.New("invalid symbol")
	ErrDuplicate     = errors.New("is already in your list")
	ErrNotFound      = errors.New("not found")
	ErrAddInFlight   = errors.New("another add is in progress")
	ErrNotTracked    = errors.New("symbol is not tracked")
)

// Gateway is the market data surface the manager depends on.
type Gateway interface {
	CurrentPrice(ctx context.Context, symbol string) (float64, error)
	HistoricalCloses(ctx context.Context, symbol string, windowDays int) ([]float64, error)
	HistoricalCandles(ctx context.Context, symbol string, windowDays int) ([]market.Candle, error)
	IconURL(ctx context.Context, symbol string) (string, error)
}

type Asset struct {
	Symbol        string
	Price         *float64
	ChangePercent float64
}

type assetJSON struct {
	Symbol        string   `json:"symbol"`
	Price         *float64 `json:"price"`
	ChangePercent float64  `json:"change_percent"`
	DisplayPrice  string   `json:"display_price"`
	DisplayChange string   `json:"display_change"`
}

func (a Asset) MarshalJSON() ([]byte, error) {
	return json.Marshal(assetJSON{
		Symbol:        a.Symbol,
		Price:         a.Price,
		ChangePercent: a.ChangePercent,
		DisplayPrice:  FormatPrice(a.Price),
		DisplayChange: decimal.NewFromFloat(a.ChangePercent).StringFixed(2) + "%",
	})
}

func (a Asset) clone() Asset {
	if a.Price != nil {
		p := *a.Price
		a.Price = &p
	}
	return a
}

// State is the published view of the watchlist.
type State struct {
	Assets      []Asset            `json:"assets"`
	Correlation correlation.Matrix `json:"correlation"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

func (s State) Symbols() []string {
	out := make([]string, len(s.Assets))
	for i, a := range s.Assets {
		out[i] = a.Symbol
	}
	return out
}

type Detail struct {
	Asset   Asset           `json:"asset"`
	IconURL string          `json:"image_url,omitempty"`
	Candles []market.Candle `json:"candles"`
}

type RefreshReport struct {
	Updated   int `json:"updated"`
	Failed    int `json:"failed"`
	Discarded int `json:"discarded"`
}

type HistoryReport struct {
	Fetched   int  `json:"fetched"`
	Failed    int  `json:"failed"`
	Discarded bool `json:"discarded"`
}

// Recorder receives committed ticks and membership events.
type Recorder interface {
	RecordTick(ts time.Time, symbol string, price, changePercent float64) error
	RecordEvent(ts time.Time, action, symbol, detail string) error
}

type NoopRecorder struct{}

func (NoopRecorder) RecordTick(time.Time, string, float64, float64) error { return nil }
func (NoopRecorder) RecordEvent(time.Time, string, string, string) error  { return nil }

// FormatPrice renders a price for display: three decimals at or above one,
// otherwise four digits past the first significant fractional digit.
func FormatPrice(p *float64) string {
	if p == nil {
		return "N/A"
	}
	d := decimal.NewFromFloat(*p)
	if d.Abs().GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return "$" + d.StringFixed(3)
	}
	precision := int32(4)
	s := d.Abs().String()
	if i := strings.IndexByte(s, '.'); i >= 0 {
		if j := strings.IndexAny(s[i+1:], "123456789"); j >= 0 {
			precision = int32(j) + 4
		}
	}
	return "$" + d.StringFixed(precision)
}

// NormalizeSymbol trims and uppercases a ticker. It reports false for empty
// input or characters other than letters and digits.
func NormalizeSymbol(raw string) (string, bool) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" || len(s) > 20 {
		return "", false
	}
	for _, r := range s {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return "", false
		}
	}
	return s, true
}
