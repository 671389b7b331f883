package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Store is an append-only journal of price ticks and watchlist events.
// Nothing reads it back into the live watchlist.
type Store struct {
	db *sql.DB
}

type TickRecord struct {
	ID            int64   `json:"id"`
	TS            int64   `json:"ts"`
	Symbol        string  `json:"symbol"`
	Price         float64 `json:"price"`
	ChangePercent float64 `json:"change_percent"`
	CreatedAt     string  `json:"created_at"`
}

type EventRecord struct {
	ID        int64  `json:"id"`
	TS        int64  `json:"ts"`
	Action    string `json:"action"`
	Symbol    string `json:"symbol"`
	Detail    string `json:"detail"`
	CreatedAt string `json:"created_at"`
}

func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=3000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pragma busy_timeout: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS price_tick (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts INTEGER NOT NULL,
			symbol TEXT NOT NULL,
			price REAL,
			change_pct REAL,
			created_at TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_price_tick_symbol_ts ON price_tick(symbol, ts);`,
		`CREATE TABLE IF NOT EXISTS watchlist_event (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts INTEGER NOT NULL,
			action TEXT NOT NULL,
			symbol TEXT,
			detail TEXT,
			created_at TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_watchlist_event_ts ON watchlist_event(ts);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// RecordTick satisfies watchlist.Recorder.
func (s *Store) RecordTick(ts time.Time, symbol string, price, changePercent float64) error {
	return s.InsertTick(TickRecord{
		TS:            ts.UnixMilli(),
		Symbol:        symbol,
		Price:         price,
		ChangePercent: changePercent,
	})
}

// RecordEvent satisfies watchlist.Recorder.
func (s *Store) RecordEvent(ts time.Time, action, symbol, detail string) error {
	return s.InsertEvent(EventRecord{
		TS:     ts.UnixMilli(),
		Action: action,
		Symbol: symbol,
		Detail: detail,
	})
}

func (s *Store) InsertTick(t TickRecord) error {
	if s == nil || s.db == nil {
		return nil
	}
	if t.CreatedAt == "" {
		t.CreatedAt = time.Now().Format(time.RFC3339)
	}
	_, err := s.db.Exec(
		`INSERT INTO price_tick (ts, symbol, price, change_pct, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		t.TS, t.Symbol, t.Price, t.ChangePercent, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert tick: %w", err)
	}
	return nil
}

func (s *Store) InsertEvent(e EventRecord) error {
	if s == nil || s.db == nil {
		return nil
	}
	if e.CreatedAt == "" {
		e.CreatedAt = time.Now().Format(time.RFC3339)
	}
	_, err := s.db.Exec(
		`INSERT INTO watchlist_event (ts, action, symbol, detail, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		e.TS, e.Action, e.Symbol, e.Detail, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// QueryTicks returns ticks newest first. An empty symbol matches all.
func (s *Store) QueryTicks(symbol string, limit int, offset int) ([]TickRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}
	limit, offset = clampPage(limit, offset)
	query := `SELECT id, ts, symbol, price, change_pct, created_at FROM price_tick`
	args := []any{}
	if symbol != "" {
		query += " WHERE symbol = ?"
		args = append(args, symbol)
	}
	query += " ORDER BY ts DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tick: %w", err)
	}
	defer rows.Close()
	out := []TickRecord{}
	for rows.Next() {
		var t TickRecord
		if err := rows.Scan(&t.ID, &t.TS, &t.Symbol, &t.Price, &t.ChangePercent, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan tick: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows tick: %w", err)
	}
	return out, nil
}

func (s *Store) QueryEvents(action string, limit int, offset int) ([]EventRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}
	limit, offset = clampPage(limit, offset)
	query := `SELECT id, ts, action, symbol, detail, created_at FROM watchlist_event`
	args := []any{}
	if action != "" {
		query += " WHERE action = ?"
		args = append(args, action)
	}
	query += " ORDER BY ts DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query event: %w", err)
	}
	defer rows.Close()
	out := []EventRecord{}
	for rows.Next() {
		var e EventRecord
		if err := rows.Scan(&e.ID, &e.TS, &e.Action, &e.Symbol, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows event: %w", err)
	}
	return out, nil
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 200
	}
	if limit > 1000 {
		limit = 1000
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
