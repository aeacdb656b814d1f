package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zhouzirui/pairchat/backend/internal/config"
)

func openSQLiteForTest(t *testing.T) Store {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "chat.db"), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore(t *testing.T) {
	runStoreSuite(t, openSQLiteForTest)
}

func TestSQLiteReopenKeepsMessages(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "chat.db")

	s, err := OpenSQLite(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, s.EnsureUser(ctx, "alice"))
	require.NoError(t, s.EnsureUser(ctx, "bob"))
	msg, err := s.Persist(ctx, "alice", "bob", "still here")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := OpenSQLite(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer reopened.Close()

	unread, err := reopened.Unread(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, unread, 1)
	require.Equal(t, msg.ID, unread[0].ID)
	require.True(t, msg.Timestamp.Equal(unread[0].Timestamp))
}

func TestOpenSeedsUsers(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, config.StoreConfig{
		Driver:     config.DriverSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "seed.db"),
		SeedUsers:  []string{"bob", "alice"},
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer s.Close()

	users, err := s.Users(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"alice", "bob"}, users)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), config.StoreConfig{Driver: "mysql"}, zaptest.NewLogger(t))
	require.Error(t, err)
}
