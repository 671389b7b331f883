package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// CoinGeckoProvider resolves icons and serves as a fallback price source.
type CoinGeckoProvider struct {
	baseURL string
	apiKey  string
	coins   *CoinTable
	client  *http.Client

	mu    sync.Mutex
	icons map[string]string
}

type coinGeckoCoin struct {
	ID    string `json:"id"`
	Image struct {
		Thumb string `json:"thumb"`
		Small string `json:"small"`
		Large string `json:"large"`
	} `json:"image"`
}

func NewCoinGeckoProvider(baseURL, apiKey string, coins *CoinTable, timeout time.Duration) *CoinGeckoProvider {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.coingecko.com"
	}
	return &CoinGeckoProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		coins:   coins,
		client:  &http.Client{Timeout: timeout},
		icons:   make(map[string]string),
	}
}

func (p *CoinGeckoProvider) Name() string { return "coingecko" }

func (p *CoinGeckoProvider) IconURL(ctx context.Context, symbol string) (string, error) {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	p.mu.Lock()
	cached, ok := p.icons[sym]
	p.mu.Unlock()
	if ok {
		return cached, nil
	}

	id, ok := p.coins.ID(sym)
	if !ok {
		return "", ErrSymbolNotFound
	}
	body, err := p.get(ctx, "/api/v3/coins/"+url.PathEscape(id), url.Values{
		"localization":   {"false"},
		"tickers":        {"false"},
		"market_data":    {"false"},
		"community_data": {"false"},
		"developer_data": {"false"},
	})
	if err != nil {
		return "", err
	}
	var coin coinGeckoCoin
	if err := json.Unmarshal(body, &coin); err != nil {
		return "", fmt.Errorf("decode coingecko coin: %w", err)
	}
	icon := coin.Image.Small
	if icon == "" {
		icon = coin.Image.Thumb
	}
	if icon == "" {
		return "", fmt.Errorf("no image for %s", sym)
	}

	p.mu.Lock()
	p.icons[sym] = icon
	p.mu.Unlock()
	return icon, nil
}

func (p *CoinGeckoProvider) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	id, ok := p.coins.ID(symbol)
	if !ok {
		return 0, ErrSymbolNotFound
	}
	body, err := p.get(ctx, "/api/v3/simple/price", url.Values{
		"ids":           {id},
		"vs_currencies": {"usd"},
	})
	if err != nil {
		return 0, err
	}
	var payload map[string]map[string]float64
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0, fmt.Errorf("decode coingecko price: %w", err)
	}
	price, ok := payload[id]["usd"]
	if !ok {
		return 0, ErrSymbolNotFound
	}
	if price <= 0 {
		return 0, fmt.Errorf("invalid price for %s", symbol)
	}
	return price, nil
}

func (p *CoinGeckoProvider) get(ctx context.Context, path string, q url.Values) ([]byte, error) {
	u := p.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if p.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", p.apiKey)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request coingecko: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read coingecko: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrSymbolNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coingecko status %d", resp.StatusCode)
	}
	return body, nil
}
