package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liverecorder/liverecorder/platform"
)

// repositoryCases runs the same behavioural checks against every
// Repository implementation, so sqlite and memdb are held to one
// contract.
func repositoryCases(t *testing.T, repo Repository) {
	t.Helper()
	ctx := context.Background()

	t.Run("accounts", func(t *testing.T) {
		acc := platform.Account{
			Platform:     platform.Bilibili,
			AccountID:    "1001",
			DisplayName:  "carl",
			CookieString: "DedeUserID=1001;",
		}
		require.NoError(t, repo.SaveAccount(ctx, acc))

		got, err := repo.GetAccount(ctx, platform.Bilibili, "1001")
		require.NoError(t, err)
		assert.Equal(t, "carl", got.DisplayName)
		assert.False(t, got.UpdatedAt.IsZero())

		acc.DisplayName = "carl2"
		require.NoError(t, repo.SaveAccount(ctx, acc))
		got, err = repo.GetAccount(ctx, platform.Bilibili, "1001")
		require.NoError(t, err)
		assert.Equal(t, "carl2", got.DisplayName)

		list, err := repo.ListAccounts(ctx, platform.Bilibili)
		require.NoError(t, err)
		assert.Len(t, list, 1)

		require.NoError(t, repo.DeleteAccount(ctx, platform.Bilibili, "1001"))
		_, err = repo.GetAccount(ctx, platform.Bilibili, "1001")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("rooms", func(t *testing.T) {
		require.NoError(t, repo.SaveRoom(ctx, RoomConfig{Platform: platform.Douyin, RoomID: "42", AutoStart: true}))
		require.NoError(t, repo.SaveRoom(ctx, RoomConfig{Platform: platform.Douyin, RoomID: "43", AutoStart: false}))

		rooms, err := repo.ListRooms(ctx)
		require.NoError(t, err)
		require.Len(t, rooms, 2)

		require.NoError(t, repo.SaveRecord(ctx, Record{Platform: platform.Douyin, RoomID: "42", LiveID: 1000, Title: "stream"}))
		recs, err := repo.ListRecords(ctx, platform.Douyin, "42")
		require.NoError(t, err)
		require.Len(t, recs, 1)

		require.NoError(t, repo.DeleteRoom(ctx, platform.Douyin, "42"))
		rooms, err = repo.ListRooms(ctx)
		require.NoError(t, err)
		assert.Len(t, rooms, 1)

		recs, err = repo.ListRecords(ctx, platform.Douyin, "42")
		require.NoError(t, err)
		assert.Empty(t, recs, "DeleteRoom must cascade into records")
	})

	t.Run("records", func(t *testing.T) {
		require.NoError(t, repo.SaveRecord(ctx, Record{Platform: platform.Kuaishou, RoomID: "7", LiveID: 1, Title: "a"}))
		require.NoError(t, repo.SaveRecord(ctx, Record{Platform: platform.Kuaishou, RoomID: "7", LiveID: 2, Title: "b"}))

		recs, err := repo.ListRecords(ctx, platform.Kuaishou, "7")
		require.NoError(t, err)
		require.Len(t, recs, 2)

		require.NoError(t, repo.DeleteRecordsForRoom(ctx, platform.Kuaishou, "7"))
		recs, err = repo.ListRecords(ctx, platform.Kuaishou, "7")
		require.NoError(t, err)
		assert.Empty(t, recs)
	})
}

func TestSQLiteStoreRepositoryContract(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recorder.db")
	s, err := OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()

	repositoryCases(t, s)
}

func TestMemStoreRepositoryContract(t *testing.T) {
	s, err := NewMemStore()
	require.NoError(t, err)
	defer s.Close()

	repositoryCases(t, s)
}
