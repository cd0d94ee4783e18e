// Package sqlite persists distributor cursors and the event journal in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"
	_ "github.com/mattn/go-sqlite3"

	"github.com/defistate/defistate-amm-go/protocols/uniswapv3/events"
)

// Store implements distributor.CursorStore and journals bus events.
type Store struct {
	db *sql.DB
}

// Entry is a journaled event. Payload is the event encoded as JSON.
type Entry struct {
	Seq       uint64          `json:"seq"`
	Address   common.Address  `json:"address"`
	Name      string          `json:"name"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Open opens or creates the database at path. The path ":memory:" opens a private
// in-memory database.
func Open(path string) (*Store, error) {
	dsn := "file::memory:?cache=private"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn = fmt.Sprintf("%s?_journal=WAL&_sync=NORMAL&_busy_timeout=5000", path)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// a second connection to :memory: would see a different database
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS distributor_cursors (
		distributor TEXT PRIMARY KEY,
		next_pool_index INTEGER NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS events (
		seq INTEGER PRIMARY KEY,
		address TEXT NOT NULL,
		name TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_address ON events(address, seq);
	CREATE INDEX IF NOT EXISTS idx_events_name ON events(name, seq);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) LoadCursor(ctx context.Context, distributor common.Address) (uint64, error) {
	var cursor int64
	err := s.db.QueryRowContext(ctx,
		"SELECT next_pool_index FROM distributor_cursors WHERE distributor = ?",
		distributor.Hex(),
	).Scan(&cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load cursor: %w", err)
	}
	return uint64(cursor), nil
}

func (s *Store) SaveCursor(ctx context.Context, distributor common.Address, cursor uint64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO distributor_cursors (distributor, next_pool_index, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(distributor) DO UPDATE SET
			next_pool_index = excluded.next_pool_index,
			updated_at = excluded.updated_at
	`, distributor.Hex(), int64(cursor), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save cursor: %w", err)
	}
	return nil
}

// Append journals a bus log. Appending a sequence number twice is a no-op.
func (s *Store) Append(ctx context.Context, l events.Log) error {
	payload, err := json.Marshal(l.Event)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", l.Name, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO events (seq, address, name, payload, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, int64(l.Seq), l.Address.Hex(), l.Name, string(payload), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to append event %d: %w", l.Seq, err)
	}
	return nil
}

// Events returns up to limit journaled events with a sequence number above afterSeq,
// oldest first. A zero address matches every emitter.
func (s *Store) Events(ctx context.Context, address common.Address, afterSeq uint64, limit int) ([]Entry, error) {
	query := "SELECT seq, address, name, payload, created_at FROM events WHERE seq > ?"
	args := []any{int64(afterSeq)}
	if address != (common.Address{}) {
		query += " AND address = ?"
		args = append(args, address.Hex())
	}
	query += " ORDER BY seq LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			seq     int64
			addr    string
			payload string
		)
		if err := rows.Scan(&seq, &addr, &e.Name, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Seq = uint64(seq)
		e.Address = common.HexToAddress(addr)
		e.Payload = json.RawMessage(payload)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Journal appends every log received on logs until ctx is done or logs is closed.
// Append failures are passed to onError and do not stop the journal.
func (s *Store) Journal(ctx context.Context, logs <-chan events.Log, onError func(events.Log, error)) {
	for {
		select {
		case <-ctx.Done():
			return
		case l, ok := <-logs:
			if !ok {
				return
			}
			if err := s.Append(ctx, l); err != nil && onError != nil {
				onError(l, err)
			}
		}
	}
}
