package market

import (
	"context"
	"errors"
	"fmt"
)

// MultiProvider asks each price provider in order and returns the first
// success. ErrSymbolNotFound is reported only if every provider says so.
type MultiProvider struct {
	providers []PriceProvider
}

func NewMultiProvider(providers ...PriceProvider) *MultiProvider {
	return &MultiProvider{providers: providers}
}

func (m *MultiProvider) Name() string { return "multi" }

func (m *MultiProvider) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	if len(m.providers) == 0 {
		return 0, fmt.Errorf("no market providers configured")
	}
	var lastErr error
	notFound := 0
	for _, p := range m.providers {
		price, err := p.CurrentPrice(ctx, symbol)
		if err == nil {
			return price, nil
		}
		if errors.Is(err, ErrSymbolNotFound) {
			notFound++
			continue
		}
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		lastErr = fmt.Errorf("%s: %w", p.Name(), err)
	}
	if notFound == len(m.providers) {
		return 0, ErrSymbolNotFound
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("all providers failed")
	}
	return 0, lastErr
}
