package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const binanceInvalidSymbol = -1121

type BinanceProvider struct {
	baseURL    string
	quoteAsset string
	client     *http.Client
	now        func() time.Time
}

type binancePrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

type binanceError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func NewBinanceProvider(baseURL, quoteAsset string, timeout time.Duration) *BinanceProvider {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.binance.com"
	}
	if quoteAsset == "" {
		quoteAsset = "USDT"
	}
	return &BinanceProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		quoteAsset: strings.ToUpper(quoteAsset),
		client:     &http.Client{Timeout: timeout},
		now:        time.Now,
	}
}

func (p *BinanceProvider) Name() string { return "binance" }

func (p *BinanceProvider) pair(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol)) + p.quoteAsset
}

func (p *BinanceProvider) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	q := url.Values{}
	q.Set("symbol", p.pair(symbol))
	body, err := p.get(ctx, "/api/v3/ticker/price", q)
	if err != nil {
		return 0, err
	}
	var payload binancePrice
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0, fmt.Errorf("decode binance price: %w", err)
	}
	price, err := strconv.ParseFloat(payload.Price, 64)
	if err != nil {
		return 0, fmt.Errorf("parse binance price %q: %w", payload.Price, err)
	}
	if price <= 0 {
		return 0, fmt.Errorf("invalid price for %s", symbol)
	}
	return price, nil
}

// HistoricalCandles fetches daily klines covering the last windowDays days,
// oldest first.
func (p *BinanceProvider) HistoricalCandles(ctx context.Context, symbol string, windowDays int) ([]Candle, error) {
	if windowDays <= 0 {
		return nil, fmt.Errorf("invalid window: %d", windowDays)
	}
	end := p.now()
	start := end.Add(-time.Duration(windowDays) * 24 * time.Hour)

	q := url.Values{}
	q.Set("symbol", p.pair(symbol))
	q.Set("interval", "1d")
	q.Set("startTime", strconv.FormatInt(start.UnixMilli(), 10))
	q.Set("endTime", strconv.FormatInt(end.UnixMilli(), 10))
	q.Set("limit", "1000")
	body, err := p.get(ctx, "/api/v3/klines", q)
	if err != nil {
		return nil, err
	}

	var rows [][]json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode binance klines: %w", err)
	}
	out := make([]Candle, 0, len(rows))
	for _, row := range rows {
		c, err := parseKline(row)
		if err != nil {
			return nil, fmt.Errorf("kline for %s: %w", symbol, err)
		}
		out = append(out, c)
	}
	return out, nil
}

// kline row: [openTime, open, high, low, close, volume, closeTime, ...]
func parseKline(row []json.RawMessage) (Candle, error) {
	if len(row) < 5 {
		return Candle{}, fmt.Errorf("short row: %d fields", len(row))
	}
	var c Candle
	if err := json.Unmarshal(row[0], &c.Time); err != nil {
		return Candle{}, fmt.Errorf("open time: %w", err)
	}
	fields := []*float64{&c.Open, &c.High, &c.Low, &c.Close}
	for i, dst := range fields {
		var s string
		if err := json.Unmarshal(row[i+1], &s); err != nil {
			return Candle{}, fmt.Errorf("field %d: %w", i+1, err)
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Candle{}, fmt.Errorf("field %d: %w", i+1, err)
		}
		*dst = v
	}
	return c, nil
}

func (p *BinanceProvider) get(ctx context.Context, path string, q url.Values) ([]byte, error) {
	u := p.baseURL + path + "?" + q.Encode()

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		body, status, err := p.do(ctx, u)
		if err != nil {
			if shouldRetry(err) && attempt < 2 {
				lastErr = err
				time.Sleep(150 * time.Millisecond)
				continue
			}
			return nil, fmt.Errorf("request binance: %w", err)
		}
		if status != http.StatusOK {
			return nil, binanceStatusError(status, body)
		}
		return body, nil
	}
	return nil, fmt.Errorf("request binance: %w", lastErr)
}

func (p *BinanceProvider) do(ctx context.Context, u string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}

func binanceStatusError(status int, body []byte) error {
	var be binanceError
	_ = json.Unmarshal(body, &be)
	// requests are always well formed, so a 400 can only come from the symbol
	if be.Code == binanceInvalidSymbol || status == http.StatusBadRequest || status == http.StatusNotFound {
		return ErrSymbolNotFound
	}
	if be.Msg != "" {
		return fmt.Errorf("binance status %d: code=%d msg=%s", status, be.Code, be.Msg)
	}
	return fmt.Errorf("binance status %d", status)
}

func shouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "connection reset") || strings.Contains(msg, "reset by peer") {
		return true
	}
	return false
}
