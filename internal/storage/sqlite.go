// Package storage provides SQLite persistence for rescuemesh.
package storage

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite database connection.
type DB struct {
	*sql.DB
	mu sync.RWMutex
}

var (
	instance *DB
	once     sync.Once
)

// GetDB returns the singleton database instance.
func GetDB() *DB {
	return instance
}

// Initialize creates and initializes the process-wide database.
func Initialize(dataDir string) (*DB, error) {
	var initErr error
	once.Do(func() {
		instance, initErr = Open(filepath.Join(dataDir, "rescuemesh.db"))
	})
	return instance, initErr
}

// Open opens (and migrates) a database at path.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	d := &DB{DB: db}
	if err := d.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return d, nil
}

func (db *DB) createTables() error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS relay_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			packet_id TEXT NOT NULL,
			target_id TEXT,
			status TEXT NOT NULL,
			hop_count INTEGER DEFAULT 0,
			trace TEXT,
			message TEXT,
			timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_relay_events_timestamp ON relay_events(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_relay_events_packet ON relay_events(packet_id)`,
		`CREATE INDEX IF NOT EXISTS idx_relay_events_status ON relay_events(status)`,

		`CREATE TABLE IF NOT EXISTS outbox (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			packet_id TEXT NOT NULL UNIQUE,
			packet TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			picked_at DATETIME,
			settled_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_outbox_picked ON outbox(picked_at)`,

		`CREATE TABLE IF NOT EXISTS delivered_packets (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			packet_id TEXT NOT NULL UNIQUE,
			originator_id TEXT NOT NULL,
			packet_type TEXT,
			priority TEXT,
			hop_count INTEGER DEFAULT 0,
			trace TEXT,
			payload TEXT,
			created_at DATETIME,
			delivered_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_delivered_at ON delivered_packets(delivered_at)`,

		`CREATE TABLE IF NOT EXISTS routes (
			destination_id TEXT PRIMARY KEY,
			next_hop_id TEXT,
			hop_count INTEGER DEFAULT 0,
			score REAL DEFAULT 0,
			last_updated DATETIME,
			is_active INTEGER DEFAULT 1,
			success_count INTEGER DEFAULT 0,
			failure_count INTEGER DEFAULT 0,
			failure_streak INTEGER DEFAULT 0
		)`,
	}

	for _, table := range tables {
		if _, err := db.Exec(table); err != nil {
			return fmt.Errorf("failed to execute: %s: %w", table, err)
		}
	}
	return nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.DB.Close()
}

// WithLock executes a function with write lock.
func (db *DB) WithLock(fn func() error) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return fn()
}

// WithRLock executes a function with read lock.
func (db *DB) WithRLock(fn func() error) error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return fn()
}
