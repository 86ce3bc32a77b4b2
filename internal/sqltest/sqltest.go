// Package sqltest opens throwaway in-memory SQLite databases laid out like the
// production block metadata schema.
package sqltest

import (
	"database/sql"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Default table names of the block metadata schema.
const (
	BlockTable  = "sol_mainnet_block"
	HeightTable = "solana_blocks"
)

var seq atomic.Uint64

// Open returns a fresh shared-cache in-memory database closed at test cleanup.
func Open(t testing.TB) *sql.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:sqltest%d?mode=memory&cache=shared&_busy_timeout=5000", seq.Add(1))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// Keep one connection alive so the in-memory database outlives idle pool churn.
	db.SetMaxIdleConns(1)
	if err := db.Ping(); err != nil {
		t.Fatalf("ping sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// OpenSchema opens a database and creates both block metadata tables.
func OpenSchema(t testing.TB) *sql.DB {
	t.Helper()

	db := Open(t)
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE %s (id INTEGER PRIMARY KEY, block_time TIMESTAMP NOT NULL)`, BlockTable),
		fmt.Sprintf(`CREATE TABLE %s (id INTEGER PRIMARY KEY, block_height INTEGER NOT NULL)`, HeightTable),
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return db
}

// InsertBlock adds a row to the block table.
func InsertBlock(t testing.TB, db *sql.DB, slot uint64, blockTime time.Time) {
	t.Helper()

	q := fmt.Sprintf(`INSERT INTO %s (id, block_time) VALUES (?, ?)`, BlockTable)
	if _, err := db.Exec(q, slot, blockTime); err != nil {
		t.Fatalf("insert block %d: %v", slot, err)
	}
}

// InsertHeight adds a row to the height table.
func InsertHeight(t testing.TB, db *sql.DB, id, height uint64) {
	t.Helper()

	q := fmt.Sprintf(`INSERT INTO %s (id, block_height) VALUES (?, ?)`, HeightTable)
	if _, err := db.Exec(q, id, height); err != nil {
		t.Fatalf("insert height %d: %v", id, err)
	}
}
