package store

import (
	"context"
	"time"

	"github.com/hashicorp/go-memdb"

	"github.com/liverecorder/liverecorder/platform"
)

// memAccount, memRoom and memRecord are the memdb row shapes; memdb
// indexes by reflection over exported fields, so these mirror
// platform.Account/RoomConfig/Record rather than embedding them (embedding
// would expose platform.Account's own fields to the indexer in ways we
// don't want indexed).
type memAccount struct {
	Platform    string
	AccountID   string
	DisplayName string
	Avatar      string
	CSRFToken   string
	Cookie      string
	UpdatedAt   time.Time
}

type memRoom struct {
	Platform  string
	RoomID    string
	AutoStart bool
	CreatedAt time.Time
}

type memRecord struct {
	Platform    string
	RoomID      string
	LiveID      int64
	Title       string
	DurationSec int64
	SizeBytes   int64
	CreatedAt   time.Time
}

func memSchema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			"accounts": {
				Name: "accounts",
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:   "id",
						Unique: true,
						Indexer: &memdb.CompoundIndex{Indexes: []memdb.Indexer{
							&memdb.StringFieldIndex{Field: "Platform"},
							&memdb.StringFieldIndex{Field: "AccountID"},
						}},
					},
					"platform": {
						Name:    "platform",
						Indexer: &memdb.StringFieldIndex{Field: "Platform"},
					},
				},
			},
			"rooms": {
				Name: "rooms",
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:   "id",
						Unique: true,
						Indexer: &memdb.CompoundIndex{Indexes: []memdb.Indexer{
							&memdb.StringFieldIndex{Field: "Platform"},
							&memdb.StringFieldIndex{Field: "RoomID"},
						}},
					},
				},
			},
			"records": {
				Name: "records",
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:   "id",
						Unique: true,
						Indexer: &memdb.CompoundIndex{Indexes: []memdb.Indexer{
							&memdb.StringFieldIndex{Field: "Platform"},
							&memdb.StringFieldIndex{Field: "RoomID"},
							&memdb.IntFieldIndex{Field: "LiveID"},
						}},
					},
					"room": {
						Name: "room",
						Indexer: &memdb.CompoundIndex{Indexes: []memdb.Indexer{
							&memdb.StringFieldIndex{Field: "Platform"},
							&memdb.StringFieldIndex{Field: "RoomID"},
						}},
					},
				},
			},
		},
	}
}

// MemStore is the go-memdb-backed Repository used by tests and as the
// RECORDERD_STORE=memory backend in place of SQLite; it satisfies the same Repository interface
// as SQLiteStore.
type MemStore struct {
	db *memdb.MemDB
}

// NewMemStore builds an empty in-memory store.
func NewMemStore() (*MemStore, error) {
	db, err := memdb.NewMemDB(memSchema())
	if err != nil {
		return nil, err
	}
	return &MemStore{db: db}, nil
}

func (m *MemStore) Close() error { return nil }

func (m *MemStore) SaveAccount(ctx context.Context, acc platform.Account) error {
	txn := m.db.Txn(true)
	defer txn.Commit()

	row := &memAccount{
		Platform:    acc.Platform.String(),
		AccountID:   acc.AccountID,
		DisplayName: acc.DisplayName,
		Avatar:      acc.Avatar,
		CSRFToken:   acc.CSRFToken,
		Cookie:      acc.CookieString,
		UpdatedAt:   time.Now().UTC(),
	}
	return txn.Insert("accounts", row)
}

func (m *MemStore) GetAccount(ctx context.Context, plat platform.Platform, accountID string) (*platform.Account, error) {
	txn := m.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First("accounts", "id", plat.String(), accountID)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, ErrNotFound
	}
	return toAccount(raw.(*memAccount), plat), nil
}

func (m *MemStore) ListAccounts(ctx context.Context, plat platform.Platform) ([]platform.Account, error) {
	txn := m.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get("accounts", "platform", plat.String())
	if err != nil {
		return nil, err
	}
	var out []platform.Account
	for raw := it.Next(); raw != nil; raw = it.Next() {
		out = append(out, *toAccount(raw.(*memAccount), plat))
	}
	return out, nil
}

func (m *MemStore) DeleteAccount(ctx context.Context, plat platform.Platform, accountID string) error {
	txn := m.db.Txn(true)
	defer txn.Commit()

	_, err := txn.DeleteAll("accounts", "id", plat.String(), accountID)
	return err
}

func (m *MemStore) SaveRoom(ctx context.Context, room RoomConfig) error {
	txn := m.db.Txn(true)
	defer txn.Commit()

	createdAt := room.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	return txn.Insert("rooms", &memRoom{
		Platform:  room.Platform.String(),
		RoomID:    room.RoomID,
		AutoStart: room.AutoStart,
		CreatedAt: createdAt,
	})
}

func (m *MemStore) ListRooms(ctx context.Context) ([]RoomConfig, error) {
	txn := m.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get("rooms", "id")
	if err != nil {
		return nil, err
	}
	var out []RoomConfig
	for raw := it.Next(); raw != nil; raw = it.Next() {
		row := raw.(*memRoom)
		plat, err := platform.Parse(row.Platform)
		if err != nil {
			continue
		}
		out = append(out, RoomConfig{Platform: plat, RoomID: row.RoomID, AutoStart: row.AutoStart, CreatedAt: row.CreatedAt})
	}
	return out, nil
}

func (m *MemStore) DeleteRoom(ctx context.Context, plat platform.Platform, roomID string) error {
	txn := m.db.Txn(true)
	defer txn.Commit()

	if _, err := txn.DeleteAll("rooms", "id", plat.String(), roomID); err != nil {
		return err
	}
	if _, err := txn.DeleteAll("records", "room", plat.String(), roomID); err != nil {
		return err
	}
	return nil
}

func (m *MemStore) SaveRecord(ctx context.Context, rec Record) error {
	txn := m.db.Txn(true)
	defer txn.Commit()

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	return txn.Insert("records", &memRecord{
		Platform:    rec.Platform.String(),
		RoomID:      rec.RoomID,
		LiveID:      rec.LiveID,
		Title:       rec.Title,
		DurationSec: rec.DurationSec,
		SizeBytes:   rec.SizeBytes,
		CreatedAt:   createdAt,
	})
}

func (m *MemStore) ListRecords(ctx context.Context, plat platform.Platform, roomID string) ([]Record, error) {
	txn := m.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get("records", "room", plat.String(), roomID)
	if err != nil {
		return nil, err
	}
	var out []Record
	for raw := it.Next(); raw != nil; raw = it.Next() {
		row := raw.(*memRecord)
		out = append(out, Record{
			Platform:    plat,
			RoomID:      roomID,
			LiveID:      row.LiveID,
			Title:       row.Title,
			DurationSec: row.DurationSec,
			SizeBytes:   row.SizeBytes,
			CreatedAt:   row.CreatedAt,
		})
	}
	return out, nil
}

func (m *MemStore) DeleteRecordsForRoom(ctx context.Context, plat platform.Platform, roomID string) error {
	txn := m.db.Txn(true)
	defer txn.Commit()

	_, err := txn.DeleteAll("records", "room", plat.String(), roomID)
	return err
}

func toAccount(row *memAccount, plat platform.Platform) *platform.Account {
	return &platform.Account{
		Platform:     plat,
		AccountID:    row.AccountID,
		DisplayName:  row.DisplayName,
		Avatar:       row.Avatar,
		CSRFToken:    row.CSRFToken,
		CookieString: row.Cookie,
		UpdatedAt:    row.UpdatedAt,
	}
}
