// Package storage persists run history and the vision analysis cache in a
// local SQLite database.
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// RunRecord is one pipeline run's summary row.
type RunRecord struct {
	ID          int64
	StartedAt   time.Time
	ProductName string
	Query       string
	Median      *float64
	Min         *float64
	Max         *float64
	SampleCount int
	Iterations  int
	Sufficient  bool
}

// VisionCacheEntry is a cached product description keyed by image hash.
type VisionCacheEntry struct {
	Name       string
	Brand      string
	Model      string
	Color      string
	Condition  string
	Attributes map[string]string
}

// Store defines the persistence interface the rest of the app depends on.
type Store interface {
	SaveRun(rec *RunRecord) (int64, error)
	RecentRuns(limit int) ([]RunRecord, error)

	GetVisionCache(imageHash string) (*VisionCacheEntry, error)
	SetVisionCache(imageHash string, entry *VisionCacheEntry) error

	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteStore opens (and if needed initializes) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) init() error {
	runsQuery := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		started_at DATETIME NOT NULL,
		product_name TEXT NOT NULL,
		query TEXT NOT NULL,
		median REAL,
		min REAL,
		max REAL,
		sample_count INTEGER NOT NULL,
		iterations INTEGER NOT NULL,
		sufficient INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(runsQuery); err != nil {
		return fmt.Errorf("failed to create runs table: %w", err)
	}

	visionCacheQuery := `
	CREATE TABLE IF NOT EXISTS vision_cache (
		image_hash TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		brand TEXT,
		model TEXT,
		color TEXT,
		condition TEXT,
		attributes_json TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	if _, err := s.db.Exec(visionCacheQuery); err != nil {
		return fmt.Errorf("failed to create vision_cache table: %w", err)
	}

	return nil
}

// SaveRun inserts a run summary and returns its row ID.
func (s *SQLiteStore) SaveRun(rec *RunRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		INSERT INTO runs (started_at, product_name, query, median, min, max, sample_count, iterations, sufficient)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.StartedAt.UTC(), rec.ProductName, rec.Query,
		nullableFloat(rec.Median), nullableFloat(rec.Min), nullableFloat(rec.Max),
		rec.SampleCount, rec.Iterations, rec.Sufficient,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to save run: %w", err)
	}
	return res.LastInsertId()
}

// RecentRuns returns the most recent runs, newest first.
func (s *SQLiteStore) RecentRuns(limit int) ([]RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(`
		SELECT id, started_at, product_name, query, median, min, max, sample_count, iterations, sufficient
		FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var (
			rec              RunRecord
			median, min, max sql.NullFloat64
		)
		if err := rows.Scan(&rec.ID, &rec.StartedAt, &rec.ProductName, &rec.Query,
			&median, &min, &max, &rec.SampleCount, &rec.Iterations, &rec.Sufficient); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		rec.Median = floatPtr(median)
		rec.Min = floatPtr(min)
		rec.Max = floatPtr(max)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// GetVisionCache returns the cached entry for the hash, or nil when absent.
func (s *SQLiteStore) GetVisionCache(imageHash string) (*VisionCacheEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		entry     VisionCacheEntry
		attrsJSON sql.NullString
	)
	err := s.db.QueryRow(`
		SELECT name, brand, model, color, condition, attributes_json
		FROM vision_cache WHERE image_hash = ?`, imageHash).
		Scan(&entry.Name, &entry.Brand, &entry.Model, &entry.Color, &entry.Condition, &attrsJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get vision cache: %w", err)
	}

	if attrsJSON.Valid && attrsJSON.String != "" {
		if err := json.Unmarshal([]byte(attrsJSON.String), &entry.Attributes); err != nil {
			return nil, fmt.Errorf("failed to decode cached attributes: %w", err)
		}
	}
	return &entry, nil
}

// SetVisionCache stores or replaces the entry for the hash.
func (s *SQLiteStore) SetVisionCache(imageHash string, entry *VisionCacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var attrsJSON []byte
	if len(entry.Attributes) > 0 {
		var err error
		attrsJSON, err = json.Marshal(entry.Attributes)
		if err != nil {
			return fmt.Errorf("failed to encode attributes: %w", err)
		}
	}

	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO vision_cache (image_hash, name, brand, model, color, condition, attributes_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		imageHash, entry.Name, entry.Brand, entry.Model, entry.Color, entry.Condition, string(attrsJSON))
	if err != nil {
		return fmt.Errorf("failed to set vision cache: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullableFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
