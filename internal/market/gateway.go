package market

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"ticker-panel/internal/metrics"
)

// Gateway bundles price, history and icon lookups behind one contract.
type Gateway struct {
	prices  PriceProvider
	history HistoryProvider
	icons   IconResolver
}

func NewGateway(prices PriceProvider, history HistoryProvider, icons IconResolver) *Gateway {
	return &Gateway{prices: prices, history: history, icons: icons}
}

func (g *Gateway) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	if g.prices == nil {
		return 0, fmt.Errorf("price provider not configured")
	}
	price, err := g.prices.CurrentPrice(ctx, normalize(symbol))
	observe("price", err)
	return price, err
}

// HistoricalCloses returns daily closes, oldest first. The slice is empty
// whenever err is non-nil.
func (g *Gateway) HistoricalCloses(ctx context.Context, symbol string, windowDays int) ([]float64, error) {
	candles, err := g.candles(ctx, symbol, windowDays)
	observe("closes", err)
	if err != nil {
		return []float64{}, err
	}
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out, nil
}

func (g *Gateway) HistoricalCandles(ctx context.Context, symbol string, windowDays int) ([]Candle, error) {
	candles, err := g.candles(ctx, symbol, windowDays)
	observe("candles", err)
	if err != nil {
		return []Candle{}, err
	}
	return candles, nil
}

func (g *Gateway) candles(ctx context.Context, symbol string, windowDays int) ([]Candle, error) {
	if g.history == nil {
		return nil, fmt.Errorf("history provider not configured")
	}
	return g.history.HistoricalCandles(ctx, normalize(symbol), windowDays)
}

func (g *Gateway) IconURL(ctx context.Context, symbol string) (string, error) {
	if g.icons == nil {
		return "", fmt.Errorf("icon resolver not configured")
	}
	u, err := g.icons.IconURL(ctx, normalize(symbol))
	observe("icon", err)
	return u, err
}

func observe(op string, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrSymbolNotFound):
		result = "not_found"
	default:
		result = "error"
		log.Debug().Str("component", "market").Str("op", op).Err(err).Msg("gateway call failed")
	}
	metrics.GatewayRequestsTotal.WithLabelValues(op, result).Inc()
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
