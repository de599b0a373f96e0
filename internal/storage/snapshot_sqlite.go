// Package storage persists last-known-good account snapshots.
package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"deriv_client/internal/core"

	"github.com/gagliardetto/solana-go"
	_ "github.com/mattn/go-sqlite3"
)

// ErrChecksumMismatch is returned when stored bytes fail verification.
var ErrChecksumMismatch = errors.New("checksum verification failed: data corruption detected")

const schema = `
CREATE TABLE IF NOT EXISTS account_snapshots (
	address    TEXT PRIMARY KEY,
	slot       INTEGER NOT NULL,
	data       BLOB NOT NULL,
	checksum   BLOB NOT NULL,
	updated_at INTEGER NOT NULL
)`

// SQLiteSnapshotStore implements core.ISnapshotSink on sqlite.
type SQLiteSnapshotStore struct {
	db *sql.DB
}

// NewSQLiteSnapshotStore opens dbPath in WAL mode and creates the table.
func NewSQLiteSnapshotStore(dbPath string) (*SQLiteSnapshotStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite serialises writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &SQLiteSnapshotStore{db: db}, nil
}

// SaveSnapshot upserts snap unless a snapshot at a higher slot is stored.
func (s *SQLiteSnapshotStore) SaveSnapshot(ctx context.Context, snap core.AccountSnapshot) error {
	checksum := sha256.Sum256(snap.Data)
	updatedAt := snap.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	const query = `
INSERT INTO account_snapshots (address, slot, data, checksum, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(address) DO UPDATE SET
	slot = excluded.slot,
	data = excluded.data,
	checksum = excluded.checksum,
	updated_at = excluded.updated_at
WHERE excluded.slot >= account_snapshots.slot`

	_, err := s.db.ExecContext(ctx, query,
		snap.Address.String(), int64(snap.Slot), snap.Data, checksum[:], updatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to write snapshot %s: %w", snap.Address, err)
	}
	return nil
}

// LoadSnapshot returns the stored snapshot of address, or nil when none exists.
func (s *SQLiteSnapshotStore) LoadSnapshot(ctx context.Context, address solana.PublicKey) (*core.AccountSnapshot, error) {
	const query = `SELECT slot, data, checksum, updated_at FROM account_snapshots WHERE address = ?`

	var (
		slot      int64
		data      []byte
		stored    []byte
		updatedAt int64
	)
	err := s.db.QueryRowContext(ctx, query, address.String()).Scan(&slot, &data, &stored, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot %s: %w", address, err)
	}

	computed := sha256.Sum256(data)
	if !bytes.Equal(stored, computed[:]) {
		return nil, fmt.Errorf("snapshot %s: %w", address, ErrChecksumMismatch)
	}

	return &core.AccountSnapshot{
		Address:   address,
		Slot:      uint64(slot),
		Data:      data,
		UpdatedAt: time.Unix(0, updatedAt),
	}, nil
}

// DeleteSnapshot removes the snapshot of address.
func (s *SQLiteSnapshotStore) DeleteSnapshot(ctx context.Context, address solana.PublicKey) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM account_snapshots WHERE address = ?`, address.String()); err != nil {
		return fmt.Errorf("failed to delete snapshot %s: %w", address, err)
	}
	return nil
}

func (s *SQLiteSnapshotStore) Close() error {
	return s.db.Close()
}
