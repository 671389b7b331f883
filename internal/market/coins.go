package market

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
)

//go:embed coins.json
var coinsJSON []byte

// CoinTable maps ticker symbols to CoinGecko asset ids.
type CoinTable struct {
	ids map[string]string
}

func LoadCoinTable() (*CoinTable, error) {
	return ParseCoinTable(coinsJSON)
}

// ParseCoinTable reads a JSON array of {"symbol","id"} entries. The first
// entry for a symbol wins.
func ParseCoinTable(data []byte) (*CoinTable, error) {
	var entries []struct {
		Symbol string `json:"symbol"`
		ID     string `json:"id"`
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse coin table: %w", err)
	}
	t := &CoinTable{ids: make(map[string]string, len(entries))}
	for _, e := range entries {
		sym := strings.ToUpper(strings.TrimSpace(e.Symbol))
		if sym == "" || e.ID == "" {
			continue
		}
		if _, ok := t.ids[sym]; ok {
			continue
		}
		t.ids[sym] = e.ID
	}
	return t, nil
}

func (t *CoinTable) ID(symbol string) (string, bool) {
	if t == nil {
		return "", false
	}
	id, ok := t.ids[strings.ToUpper(strings.TrimSpace(symbol))]
	return id, ok
}

func (t *CoinTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.ids)
}
