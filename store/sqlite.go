package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/liverecorder/liverecorder/platform"
)

// SQLiteStore is the production Repository, a fixed three-table schema
// (accounts, rooms, records) over a pure-Go sqlite driver — no CGO, so
// the recorder binary stays a single static executable.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// OpenSQLite opens or creates the sqlite file at path, applying the same
// pragmas the rest of the pack uses for a single-writer embedded db.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}

	if _, err := db.Exec(`
		PRAGMA foreign_keys = ON;
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: configure sqlite: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

func createSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			platform    TEXT NOT NULL,
			account_id  TEXT NOT NULL,
			display_name TEXT NOT NULL DEFAULT '',
			avatar      TEXT NOT NULL DEFAULT '',
			csrf_token  TEXT NOT NULL DEFAULT '',
			cookie      TEXT NOT NULL DEFAULT '',
			updated_at  TEXT NOT NULL,
			PRIMARY KEY (platform, account_id)
		);`,
		`CREATE TABLE IF NOT EXISTS rooms (
			platform   TEXT NOT NULL,
			room_id    TEXT NOT NULL,
			auto_start INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			PRIMARY KEY (platform, room_id)
		);`,
		`CREATE TABLE IF NOT EXISTS records (
			platform     TEXT NOT NULL,
			room_id      TEXT NOT NULL,
			live_id      INTEGER NOT NULL,
			title        TEXT NOT NULL DEFAULT '',
			duration_sec INTEGER NOT NULL DEFAULT 0,
			size_bytes   INTEGER NOT NULL DEFAULT 0,
			created_at   TEXT NOT NULL,
			PRIMARY KEY (platform, room_id, live_id)
		);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("store: create schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveAccount(ctx context.Context, acc platform.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (platform, account_id, display_name, avatar, csrf_token, cookie, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (platform, account_id) DO UPDATE SET
			display_name = excluded.display_name,
			avatar       = excluded.avatar,
			csrf_token   = excluded.csrf_token,
			cookie       = excluded.cookie,
			updated_at   = excluded.updated_at
	`, acc.Platform.String(), acc.AccountID, acc.DisplayName, acc.Avatar, acc.CSRFToken, acc.CookieString, nowRFC3339())
	if err != nil {
		return fmt.Errorf("store: save account: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetAccount(ctx context.Context, plat platform.Platform, accountID string) (*platform.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT account_id, display_name, avatar, csrf_token, cookie, updated_at
		FROM accounts WHERE platform = ? AND account_id = ?
	`, plat.String(), accountID)

	acc, err := scanAccount(row, plat)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get account: %w", err)
	}
	return acc, nil
}

func (s *SQLiteStore) ListAccounts(ctx context.Context, plat platform.Platform) ([]platform.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT account_id, display_name, avatar, csrf_token, cookie, updated_at
		FROM accounts WHERE platform = ? ORDER BY account_id
	`, plat.String())
	if err != nil {
		return nil, fmt.Errorf("store: list accounts: %w", err)
	}
	defer rows.Close()

	var out []platform.Account
	for rows.Next() {
		acc, err := scanAccount(rows, plat)
		if err != nil {
			return nil, fmt.Errorf("store: list accounts: %w", err)
		}
		out = append(out, *acc)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteAccount(ctx context.Context, plat platform.Platform, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE platform = ? AND account_id = ?`, plat.String(), accountID)
	if err != nil {
		return fmt.Errorf("store: delete account: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SaveRoom(ctx context.Context, room RoomConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rooms (platform, room_id, auto_start, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (platform, room_id) DO UPDATE SET auto_start = excluded.auto_start
	`, room.Platform.String(), room.RoomID, boolToInt(room.AutoStart), nowRFC3339())
	if err != nil {
		return fmt.Errorf("store: save room: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListRooms(ctx context.Context) ([]RoomConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT platform, room_id, auto_start, created_at FROM rooms ORDER BY platform, room_id`)
	if err != nil {
		return nil, fmt.Errorf("store: list rooms: %w", err)
	}
	defer rows.Close()

	var out []RoomConfig
	for rows.Next() {
		var platStr, createdAt string
		var autoStart int
		var room RoomConfig
		if err := rows.Scan(&platStr, &room.RoomID, &autoStart, &createdAt); err != nil {
			return nil, fmt.Errorf("store: list rooms: %w", err)
		}
		room.Platform, err = platform.Parse(platStr)
		if err != nil {
			return nil, fmt.Errorf("store: list rooms: %w", err)
		}
		room.AutoStart = autoStart != 0
		room.CreatedAt = parseRFC3339(createdAt)
		out = append(out, room)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteRoom(ctx context.Context, plat platform.Platform, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM rooms WHERE platform = ? AND room_id = ?`, plat.String(), roomID); err != nil {
		return fmt.Errorf("store: delete room: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE platform = ? AND room_id = ?`, plat.String(), roomID); err != nil {
		return fmt.Errorf("store: delete room: cascade records: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SaveRecord(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO records (platform, room_id, live_id, title, duration_sec, size_bytes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (platform, room_id, live_id) DO UPDATE SET
			title        = excluded.title,
			duration_sec = excluded.duration_sec,
			size_bytes   = excluded.size_bytes
	`, rec.Platform.String(), rec.RoomID, rec.LiveID, rec.Title, rec.DurationSec, rec.SizeBytes, nowRFC3339())
	if err != nil {
		return fmt.Errorf("store: save record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListRecords(ctx context.Context, plat platform.Platform, roomID string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT live_id, title, duration_sec, size_bytes, created_at
		FROM records WHERE platform = ? AND room_id = ? ORDER BY live_id DESC
	`, plat.String(), roomID)
	if err != nil {
		return nil, fmt.Errorf("store: list records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var createdAt string
		rec := Record{Platform: plat, RoomID: roomID}
		if err := rows.Scan(&rec.LiveID, &rec.Title, &rec.DurationSec, &rec.SizeBytes, &createdAt); err != nil {
			return nil, fmt.Errorf("store: list records: %w", err)
		}
		rec.CreatedAt = parseRFC3339(createdAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteRecordsForRoom(ctx context.Context, plat platform.Platform, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE platform = ? AND room_id = ?`, plat.String(), roomID)
	if err != nil {
		return fmt.Errorf("store: delete records for room: %w", err)
	}
	return nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner, plat platform.Platform) (*platform.Account, error) {
	var acc platform.Account
	var updatedAt string
	if err := row.Scan(&acc.AccountID, &acc.DisplayName, &acc.Avatar, &acc.CSRFToken, &acc.CookieString, &updatedAt); err != nil {
		return nil, err
	}
	acc.Platform = plat
	acc.UpdatedAt = parseRFC3339(updatedAt)
	return &acc, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func parseRFC3339(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
