package watchlist

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"ticker-panel/internal/correlation"
	"ticker-panel/internal/market"
	"ticker-panel/internal/metrics"
)

const DefaultWindowDays = 180

type Options struct {
	WindowDays int
	Recorder   Recorder
	// HistoryOnChange starts a history refresh after every add or remove.
	HistoryOnChange bool
}

type tracked struct {
	Asset
	gen uint64
}

// Manager owns the ordered watchlist and the historical close cache.
type Manager struct {
	gw              Gateway
	rec             Recorder
	windowDays      int
	historyOnChange bool

	addMu sync.Mutex

	mu               sync.RWMutex
	assets           []tracked
	history          map[string][]float64
	matrix           correlation.Matrix
	updatedAt        time.Time
	nextGen          uint64
	historyIssued    uint64
	historyCommitted uint64

	// held from snapshot to delivery so observers see commits in order
	pubMu  sync.Mutex
	subMu  sync.Mutex
	subs   map[int]func(State)
	nextID int

	bg sync.WaitGroup
}

func NewManager(gw Gateway, opts Options) *Manager {
	if opts.WindowDays <= 0 {
		opts.WindowDays = DefaultWindowDays
	}
	if opts.Recorder == nil {
		opts.Recorder = NoopRecorder{}
	}
	return &Manager{
		gw:              gw,
		rec:             opts.Recorder,
		windowDays:      opts.WindowDays,
		historyOnChange: opts.HistoryOnChange,
		history:         make(map[string][]float64),
		matrix:          correlation.Build(nil, nil),
		subs:            make(map[int]func(State)),
	}
}

// Add looks up the current price of symbol and appends it to the list.
// Concurrent calls are rejected with ErrAddInFlight rather than queued.
func (m *Manager) Add(ctx context.Context, raw string) (Asset, error) {
	sym, ok := NormalizeSymbol(raw)
	if !ok {
		return Asset{}, fmt.Errorf("%w: %q", ErrInvalidSymbol, raw)
	}
	if !m.addMu.TryLock() {
		return Asset{}, ErrAddInFlight
	}
	defer m.addMu.Unlock()

	if m.has(sym) {
		return Asset{}, fmt.Errorf("%s %w", sym, ErrDuplicate)
	}

	price, err := m.gw.CurrentPrice(ctx, sym)
	if err != nil {
		if errors.Is(err, market.ErrSymbolNotFound) {
			return Asset{}, fmt.Errorf("%s %w", sym, ErrNotFound)
		}
		return Asset{}, fmt.Errorf("lookup %s: %w", sym, err)
	}

	m.mu.Lock()
	if m.indexLocked(sym) >= 0 {
		m.mu.Unlock()
		return Asset{}, fmt.Errorf("%s %w", sym, ErrDuplicate)
	}
	m.nextGen++
	p := price
	a := tracked{Asset: Asset{Symbol: sym, Price: &p}, gen: m.nextGen}
	m.assets = append(m.assets, a)
	m.rebuildLocked()
	m.commitLocked()

	m.recordEvent("add", sym, fmt.Sprintf("price=%g", price))
	log.Info().Str("component", "watchlist").Str("symbol", sym).Float64("price", price).Msg("asset added")
	m.afterMembershipChange()
	return a.Asset.clone(), nil
}

// Remove drops symbol and its cached series. It reports whether the symbol
// was tracked.
func (m *Manager) Remove(raw string) bool {
	sym, ok := NormalizeSymbol(raw)
	if !ok {
		return false
	}
	m.mu.Lock()
	idx := m.indexLocked(sym)
	if idx < 0 {
		m.mu.Unlock()
		return false
	}
	m.assets = append(m.assets[:idx], m.assets[idx+1:]...)
	delete(m.history, sym)
	m.rebuildLocked()
	m.commitLocked()

	m.recordEvent("remove", sym, "")
	log.Info().Str("component", "watchlist").Str("symbol", sym).Msg("asset removed")
	m.afterMembershipChange()
	return true
}

// Reorder moves symbol to target, clamping target into range.
func (m *Manager) Reorder(raw string, target int) error {
	sym, ok := NormalizeSymbol(raw)
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidSymbol, raw)
	}
	m.mu.Lock()
	from := m.indexLocked(sym)
	if from < 0 {
		m.mu.Unlock()
		return fmt.Errorf("%s: %w", sym, ErrNotTracked)
	}
	if target < 0 {
		target = 0
	}
	if target > len(m.assets)-1 {
		target = len(m.assets) - 1
	}
	if target == from {
		m.mu.Unlock()
		return nil
	}
	moved := m.assets[from]
	rest := append(m.assets[:from:from], m.assets[from+1:]...)
	out := make([]tracked, 0, len(m.assets))
	out = append(out, rest[:target]...)
	out = append(out, moved)
	out = append(out, rest[target:]...)
	m.assets = out
	m.rebuildLocked()
	m.commitLocked()

	m.recordEvent("reorder", sym, fmt.Sprintf("from=%d to=%d", from, target))
	return nil
}

type priceResult struct {
	symbol   string
	gen      uint64
	baseline *float64
	price    float64
	err      error
}

// RefreshAll queries every tracked symbol concurrently and applies all
// results in a single commit. Failed lookups keep their previous values.
// Results for symbols removed (or removed and re-added) while the tick was
// in flight are discarded.
func (m *Manager) RefreshAll(ctx context.Context) RefreshReport {
	start := time.Now()
	m.mu.RLock()
	batch := make([]priceResult, len(m.assets))
	for i, a := range m.assets {
		batch[i] = priceResult{symbol: a.Symbol, gen: a.gen, baseline: a.clone().Price}
	}
	m.mu.RUnlock()

	var report RefreshReport
	if len(batch) == 0 {
		return report
	}

	var wg sync.WaitGroup
	for i := range batch {
		wg.Add(1)
		go func(r *priceResult) {
			defer wg.Done()
			r.price, r.err = m.gw.CurrentPrice(ctx, r.symbol)
		}(&batch[i])
	}
	wg.Wait()

	bySymbol := make(map[string]*priceResult, len(batch))
	for i := range batch {
		bySymbol[batch[i].symbol] = &batch[i]
	}

	m.mu.Lock()
	ticks := make([]Asset, 0, len(batch))
	for i := range m.assets {
		a := &m.assets[i]
		r, ok := bySymbol[a.Symbol]
		if !ok {
			continue
		}
		delete(bySymbol, a.Symbol)
		if r.gen != a.gen {
			report.Discarded++
			continue
		}
		if r.err != nil {
			report.Failed++
			log.Debug().Str("component", "watchlist").Str("symbol", r.symbol).Err(r.err).Msg("price refresh failed")
			continue
		}
		a.ChangePercent = changePercent(r.baseline, r.price)
		p := r.price
		a.Price = &p
		// unchanged prices are not journalled
		if r.baseline == nil || *r.baseline != r.price {
			ticks = append(ticks, a.Asset.clone())
		}
		report.Updated++
	}
	report.Discarded += len(bySymbol)
	m.commitLocked()

	now := time.Now()
	for _, t := range ticks {
		if err := m.rec.RecordTick(now, t.Symbol, *t.Price, t.ChangePercent); err != nil {
			log.Warn().Str("component", "watchlist").Err(err).Msg("record tick")
		}
	}
	metrics.RefreshTicksTotal.WithLabelValues("price").Inc()
	metrics.RefreshDuration.WithLabelValues("price").Observe(time.Since(start).Seconds())
	return report
}

func changePercent(old *float64, price float64) float64 {
	if old == nil || *old == 0 {
		return 0
	}
	return (price - *old) / *old * 100
}

// RefreshHistory refetches the close series for every tracked symbol and
// rebuilds the correlation matrix. Symbols whose fetch fails are omitted.
// A refresh that settles after a newer one has committed is discarded.
func (m *Manager) RefreshHistory(ctx context.Context) HistoryReport {
	start := time.Now()
	m.mu.Lock()
	m.historyIssued++
	gen := m.historyIssued
	symbols := make([]string, len(m.assets))
	for i, a := range m.assets {
		symbols[i] = a.Symbol
	}
	m.mu.Unlock()

	series := make([][]float64, len(symbols))
	fetched := make([]bool, len(symbols))
	var wg sync.WaitGroup
	for i, sym := range symbols {
		wg.Add(1)
		go func(i int, sym string) {
			defer wg.Done()
			closes, err := m.gw.HistoricalCloses(ctx, sym, m.windowDays)
			if err != nil {
				log.Debug().Str("component", "watchlist").Str("symbol", sym).Err(err).Msg("history fetch failed")
				return
			}
			series[i] = closes
			fetched[i] = true
		}(i, sym)
	}
	wg.Wait()

	var report HistoryReport
	m.mu.Lock()
	if gen <= m.historyCommitted {
		m.mu.Unlock()
		report.Discarded = true
		return report
	}
	m.historyCommitted = gen
	next := make(map[string][]float64, len(symbols))
	for i, sym := range symbols {
		if !fetched[i] {
			report.Failed++
			continue
		}
		if m.indexLocked(sym) < 0 {
			continue
		}
		next[sym] = series[i]
		report.Fetched++
	}
	m.history = next
	m.rebuildLocked()
	m.commitLocked()

	metrics.RefreshTicksTotal.WithLabelValues("history").Inc()
	metrics.RefreshDuration.WithLabelValues("history").Observe(time.Since(start).Seconds())
	return report
}

// Detail returns the popup payload for a tracked symbol. Candle and icon
// failures degrade to empty values.
func (m *Manager) Detail(ctx context.Context, raw string) (Detail, error) {
	sym, ok := NormalizeSymbol(raw)
	if !ok {
		return Detail{}, fmt.Errorf("%w: %q", ErrInvalidSymbol, raw)
	}
	m.mu.RLock()
	idx := m.indexLocked(sym)
	var a Asset
	if idx >= 0 {
		a = m.assets[idx].Asset.clone()
	}
	m.mu.RUnlock()
	if idx < 0 {
		return Detail{}, fmt.Errorf("%s: %w", sym, ErrNotTracked)
	}

	d := Detail{Asset: a, Candles: []market.Candle{}}
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		candles, err := m.gw.HistoricalCandles(ctx, sym, m.windowDays)
		if err != nil {
			log.Debug().Str("component", "watchlist").Str("symbol", sym).Err(err).Msg("candles fetch failed")
			return
		}
		d.Candles = candles
	}()
	go func() {
		defer wg.Done()
		icon, err := m.gw.IconURL(ctx, sym)
		if err != nil {
			log.Debug().Str("component", "watchlist").Str("symbol", sym).Err(err).Msg("icon lookup failed")
			return
		}
		d.IconURL = icon
	}()
	wg.Wait()
	return d, nil
}

func (m *Manager) Icon(ctx context.Context, raw string) (string, error) {
	sym, ok := NormalizeSymbol(raw)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidSymbol, raw)
	}
	icon, err := m.gw.IconURL(ctx, sym)
	if errors.Is(err, market.ErrSymbolNotFound) {
		return "", fmt.Errorf("%s %w", sym, ErrNotFound)
	}
	return icon, err
}

// Seed adds each symbol in order, logging failures.
func (m *Manager) Seed(ctx context.Context, symbols []string) {
	for _, s := range symbols {
		if _, err := m.Add(ctx, s); err != nil {
			log.Warn().Str("component", "watchlist").Str("symbol", s).Err(err).Msg("seed add failed")
		}
	}
}

func (m *Manager) Snapshot() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stateLocked()
}

// Subscribe registers fn for every committed state. fn runs synchronously
// in commit order and must not call back into the manager.
func (m *Manager) Subscribe(fn func(State)) (cancel func()) {
	m.subMu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	m.subMu.Unlock()
	return func() {
		m.subMu.Lock()
		delete(m.subs, id)
		m.subMu.Unlock()
	}
}

// Wait blocks until background history refreshes have finished.
func (m *Manager) Wait() {
	m.bg.Wait()
}

func (m *Manager) has(sym string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.indexLocked(sym) >= 0
}

func (m *Manager) indexLocked(sym string) int {
	for i, a := range m.assets {
		if a.Symbol == sym {
			return i
		}
	}
	return -1
}

func (m *Manager) rebuildLocked() {
	symbols := make([]string, len(m.assets))
	for i, a := range m.assets {
		symbols[i] = a.Symbol
	}
	m.matrix = correlation.Build(symbols, m.history)
}

func (m *Manager) stateLocked() State {
	assets := make([]Asset, len(m.assets))
	for i, a := range m.assets {
		assets[i] = a.Asset.clone()
	}
	return State{Assets: assets, Correlation: m.matrix, UpdatedAt: m.updatedAt}
}

// commitLocked stamps the state, releases m.mu and delivers the snapshot.
func (m *Manager) commitLocked() {
	m.updatedAt = time.Now()
	st := m.stateLocked()
	m.pubMu.Lock()
	m.mu.Unlock()
	defer m.pubMu.Unlock()

	metrics.WatchlistAssets.Set(float64(len(st.Assets)))
	m.subMu.Lock()
	subs := make([]func(State), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.subMu.Unlock()
	for _, fn := range subs {
		fn(st)
	}
}

func (m *Manager) afterMembershipChange() {
	if !m.historyOnChange {
		return
	}
	m.bg.Add(1)
	go func() {
		defer m.bg.Done()
		m.RefreshHistory(context.Background())
	}()
}

func (m *Manager) recordEvent(action, sym, detail string) {
	if err := m.rec.RecordEvent(time.Now(), action, sym, detail); err != nil {
		log.Warn().Str("component", "watchlist").Err(err).Msg("record event")
	}
}
