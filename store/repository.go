package store

import (
	"context"
	"errors"
	"time"

	"github.com/liverecorder/liverecorder/platform"
)

// ErrNotFound is returned by any Repository lookup that misses.
var ErrNotFound = errors.New("store: not found")

// RoomConfig is a persisted recording target: a (platform, room_id) pair
// plus the auto_start flag the registry seeds new controllers with on
// process restart.
type RoomConfig struct {
	Platform  platform.Platform
	RoomID    string
	AutoStart bool
	CreatedAt time.Time
}

// Record is one completed (or in-progress) live session, keyed the same
// way the on-disk work directory is (spec §6): platform/room_id/live_id.
type Record struct {
	Platform  platform.Platform
	RoomID    string
	LiveID    int64
	Title     string
	DurationSec int64
	SizeBytes   int64
	CreatedAt time.Time
}

// Repository is the narrow persistence collaborator the rest of the
// module depends on. It is satisfied by both the sqlite-backed
// production store and the go-memdb-backed in-memory store, and by any
// test double that implements the same four method groups.
//
// DeleteRoom alone is also recorder.Repository's method set, so a
// *SQLiteStore or *MemStore can be passed directly into
// recorder.RegistryConfig.Repository without an adapter.
type Repository interface {
	SaveAccount(ctx context.Context, acc platform.Account) error
	GetAccount(ctx context.Context, plat platform.Platform, accountID string) (*platform.Account, error)
	ListAccounts(ctx context.Context, plat platform.Platform) ([]platform.Account, error)
	DeleteAccount(ctx context.Context, plat platform.Platform, accountID string) error

	SaveRoom(ctx context.Context, room RoomConfig) error
	ListRooms(ctx context.Context) ([]RoomConfig, error)
	DeleteRoom(ctx context.Context, plat platform.Platform, roomID string) error

	SaveRecord(ctx context.Context, rec Record) error
	ListRecords(ctx context.Context, plat platform.Platform, roomID string) ([]Record, error)
	DeleteRecordsForRoom(ctx context.Context, plat platform.Platform, roomID string) error

	Close() error
}
