package market

import (
	"context"
	"errors"
)

// ErrSymbolNotFound is returned when a provider cannot resolve a ticker.
var ErrSymbolNotFound = errors.New("symbol not found")

// Candle is one daily OHLC bar. Time is the open time in unix milliseconds.
type Candle struct {
	Time  int64   `json:"time"`
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

type PriceProvider interface {
	Name() string
	CurrentPrice(ctx context.Context, symbol string) (float64, error)
}

type HistoryProvider interface {
	HistoricalCandles(ctx context.Context, symbol string, windowDays int) ([]Candle, error)
}

type IconResolver interface {
	IconURL(ctx context.Context, symbol string) (string, error)
}
