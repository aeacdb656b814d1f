package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/pairchat/backend/internal/model/chat"
)

// runStoreSuite checks the behaviour every backend must share.
func runStoreSuite(t *testing.T, open func(t *testing.T) Store) {
	t.Helper()
	ctx := context.Background()

	seed := func(t *testing.T, s Store, users ...string) {
		t.Helper()
		for _, u := range users {
			require.NoError(t, s.EnsureUser(ctx, u))
		}
	}

	t.Run("persist creates unread message", func(t *testing.T) {
		s := open(t)
		seed(t, s, "alice", "bob")

		before := time.Now().UTC().Add(-time.Second)
		msg, err := s.Persist(ctx, "alice", "bob", "hi")
		require.NoError(t, err)
		require.NotEmpty(t, msg.ID)
		require.Equal(t, "alice", msg.Sender)
		require.Equal(t, "bob", msg.Receiver)
		require.Equal(t, "hi", msg.Body)
		require.False(t, msg.IsRead)
		require.True(t, msg.Timestamp.After(before))
		require.Equal(t, time.UTC, msg.Timestamp.Location())

		unread, err := s.Unread(ctx, "bob")
		require.NoError(t, err)
		require.Len(t, unread, 1)
		require.Equal(t, msg.ID, unread[0].ID)
		require.True(t, msg.Timestamp.Equal(unread[0].Timestamp))
	})

	t.Run("unknown participant is rejected", func(t *testing.T) {
		s := open(t)
		seed(t, s, "alice")

		_, err := s.Persist(ctx, "alice", "mallory", "hi")
		require.ErrorIs(t, err, ErrUnknownUser)
		require.ErrorIs(t, err, ErrPersistence)

		_, err = s.Persist(ctx, "mallory", "alice", "hi")
		require.ErrorIs(t, err, ErrUnknownUser)

		history, err := s.History(ctx, "alice", "mallory")
		require.NoError(t, err)
		require.Empty(t, history)
	})

	t.Run("empty body is rejected", func(t *testing.T) {
		s := open(t)
		seed(t, s, "alice", "bob")

		_, err := s.Persist(ctx, "alice", "bob", "")
		require.ErrorIs(t, err, ErrEmptyBody)
	})

	t.Run("history is symmetric and ordered", func(t *testing.T) {
		s := open(t)
		seed(t, s, "alice", "bob", "carol")

		first, err := s.Persist(ctx, "alice", "bob", "one")
		require.NoError(t, err)
		_, err = s.Persist(ctx, "alice", "carol", "elsewhere")
		require.NoError(t, err)
		second, err := s.Persist(ctx, "bob", "alice", "two")
		require.NoError(t, err)
		third, err := s.Persist(ctx, "alice", "bob", "three")
		require.NoError(t, err)

		ab, err := s.History(ctx, "alice", "bob")
		require.NoError(t, err)
		ba, err := s.History(ctx, "bob", "alice")
		require.NoError(t, err)

		want := []string{first.ID, second.ID, third.ID}
		require.Equal(t, want, ids(ab))
		require.Equal(t, want, ids(ba))

		again, err := s.History(ctx, "alice", "bob")
		require.NoError(t, err)
		require.Equal(t, ab, again)

		for i := 1; i < len(ab); i++ {
			require.False(t, ab[i].Timestamp.Before(ab[i-1].Timestamp))
		}
	})

	t.Run("history without messages is empty", func(t *testing.T) {
		s := open(t)
		seed(t, s, "alice", "bob")

		history, err := s.History(ctx, "alice", "bob")
		require.NoError(t, err)
		require.Empty(t, history)
	})

	t.Run("mark read is idempotent", func(t *testing.T) {
		s := open(t)
		seed(t, s, "alice", "bob")

		m1, err := s.Persist(ctx, "alice", "bob", "m1")
		require.NoError(t, err)
		m2, err := s.Persist(ctx, "alice", "bob", "m2")
		require.NoError(t, err)

		require.NoError(t, s.MarkRead(ctx, m1.ID))
		require.NoError(t, s.MarkRead(ctx, m1.ID))
		require.NoError(t, s.MarkRead(ctx, "does-not-exist"))

		unread, err := s.Unread(ctx, "bob")
		require.NoError(t, err)
		require.Equal(t, []string{m2.ID}, ids(unread))

		history, err := s.History(ctx, "alice", "bob")
		require.NoError(t, err)
		require.Len(t, history, 2)
		require.True(t, history[0].IsRead)
		require.False(t, history[1].IsRead)

		none, err := s.Unread(ctx, "alice")
		require.NoError(t, err)
		require.Empty(t, none)
	})

	t.Run("ensure user is idempotent", func(t *testing.T) {
		s := open(t)
		seed(t, s, "bob", "alice", "bob")

		users, err := s.Users(ctx)
		require.NoError(t, err)
		require.Equal(t, []string{"alice", "bob"}, users)

		err = s.EnsureUser(ctx, "  ")
		require.True(t, errors.Is(err, ErrUnknownUser))
	})
}

func ids(msgs []chat.Message) []string {
	return lo.Map(msgs, func(m chat.Message, _ int) string { return m.ID })
}
