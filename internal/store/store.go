// Package store persists resolved gaps keyed by (P, D, m). A populated store
// is the run's sole resumability mechanism: centers already present are never
// re-tested.
package store

import (
	"database/sql"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// GapResult is one persisted record: the primes around m*K sit at
// m*K-PrevOffset and m*K+NextOffset.
type GapResult struct {
	M          uint64
	P          uint64
	D          uint64
	NextOffset uint32
	PrevOffset uint32
	Merit      float64
}

// Gap returns the full gap size.
func (g GapResult) Gap() uint32 {
	return g.PrevOffset + g.NextOffset
}

// Store wraps the results database. Safe for use by concurrent workers on
// disjoint center ranges; concurrent writers to the same center are outside
// the contract.
type Store struct {
	db  *sql.DB
	mu  sync.RWMutex
	log *zap.Logger
}

// Open creates or opens the results database at dbPath.
func Open(dbPath string, log *zap.Logger) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db, log: log}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS result (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		m INTEGER NOT NULL,
		P INTEGER NOT NULL,
		D INTEGER NOT NULL,
		next_p_i INTEGER NOT NULL,
		prev_p_i INTEGER NOT NULL,
		merit REAL NOT NULL,
		UNIQUE(P, D, m)
	);
	CREATE INDEX IF NOT EXISTS idx_result_params ON result(P, D);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Lookup returns the stored result for (p, d, m), or nil when absent.
func (s *Store) Lookup(p, d, m uint64) (*GapResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(
		"SELECT m, P, D, next_p_i, prev_p_i, merit FROM result WHERE P = ? AND D = ? AND m = ?",
		p, d, m)
	var g GapResult
	err := row.Scan(&g.M, &g.P, &g.D, &g.NextOffset, &g.PrevOffset, &g.Merit)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup P=%d D=%d m=%d: %w", p, d, m, err)
	}
	return &g, nil
}

// LoadRange bulk-loads every stored result with m in [mstart, mstart+minc),
// keyed by m. The runner consults this map before resolving each center.
func (s *Store) LoadRange(p, d, mstart, minc uint64) (map[uint64]GapResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		"SELECT m, P, D, next_p_i, prev_p_i, merit FROM result"+
			" WHERE P = ? AND D = ? AND m BETWEEN ? AND ?",
		p, d, mstart, mstart+minc-1)
	if err != nil {
		return nil, fmt.Errorf("load range: %w", err)
	}
	defer rows.Close()

	out := make(map[uint64]GapResult)
	for rows.Next() {
		var g GapResult
		if err := rows.Scan(&g.M, &g.P, &g.D, &g.NextOffset, &g.PrevOffset, &g.Merit); err != nil {
			return nil, fmt.Errorf("load range: %w", err)
		}
		out[g.M] = g
	}
	return out, rows.Err()
}

// Upsert stores a resolved gap. A single statement keeps the record atomic:
// a concurrent reader sees either the whole row or nothing.
func (s *Store) Upsert(g GapResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	merit := math.Round(g.Merit*1000) / 1000
	_, err := s.db.Exec(
		"INSERT INTO result(m, P, D, next_p_i, prev_p_i, merit) VALUES(?, ?, ?, ?, ?, ?)"+
			" ON CONFLICT(P, D, m) DO UPDATE SET"+
			" next_p_i = excluded.next_p_i, prev_p_i = excluded.prev_p_i, merit = excluded.merit",
		g.M, g.P, g.D, g.NextOffset, g.PrevOffset, merit)
	if err != nil {
		return fmt.Errorf("upsert P=%d D=%d m=%d: %w", g.P, g.D, g.M, err)
	}
	s.log.Debug("stored gap",
		zap.Uint64("m", g.M),
		zap.Uint32("gap", g.Gap()),
		zap.Float64("merit", merit))
	return nil
}
