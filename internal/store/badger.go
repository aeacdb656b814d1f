package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/zhouzirui/pairchat/backend/internal/model/chat"
)

const badgerMaxRetries = 5

// Key layout:
//
//	user:{name}                 registered identity
//	msg:{id}                    JSON encoded message
//	pair:{roomKey}/{id}         history index, ids are UUIDv7 so the scan is chronological
//	unread:{receiver}/{id}      pending delivery index, removed by MarkRead
func badgerUserKey(name string) []byte { return []byte("user:" + name) }
func badgerMsgKey(id string) []byte    { return []byte("msg:" + id) }
func badgerPairPrefix(a, b string) []byte {
	return []byte("pair:" + chat.RoomKey(a, b) + "/")
}
func badgerUnreadPrefix(user string) []byte {
	return []byte("unread:" + url.QueryEscape(user) + "/")
}

// BadgerStore keeps messages in an embedded BadgerDB.
type BadgerStore struct {
	db    *badger.DB
	log   *zap.Logger
	clock *clock
}

var _ Store = (*BadgerStore)(nil)

// OpenBadger opens the database rooted at path. An empty path keeps everything in memory.
func OpenBadger(path string, log *zap.Logger) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(badgerLogger{log.Sugar()})
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerStore{db: db, log: log, clock: newClock()}, nil
}

// Persist writes the message and both of its indexes in one transaction.
func (s *BadgerStore) Persist(_ context.Context, sender, receiver, body string) (chat.Message, error) {
	message, err := newMessage(sender, receiver, body, s.clock.next())
	if err != nil {
		return chat.Message{}, err
	}
	value, err := json.Marshal(message)
	if err != nil {
		return chat.Message{}, wrapErr("encode message", err)
	}

	err = s.update(func(txn *badger.Txn) error {
		for _, user := range []string{sender, receiver} {
			if _, err := txn.Get(badgerUserKey(user)); err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					return ErrUnknownUser
				}
				return err
			}
		}
		if err := txn.Set(badgerMsgKey(message.ID), value); err != nil {
			return err
		}
		if err := txn.Set(append(badgerPairPrefix(sender, receiver), message.ID...), nil); err != nil {
			return err
		}
		return txn.Set(append(badgerUnreadPrefix(receiver), message.ID...), nil)
	})
	if err != nil {
		return chat.Message{}, wrapErr("insert message", err)
	}
	return message, nil
}

// History scans the pair index of a and b.
func (s *BadgerStore) History(_ context.Context, userA, userB string) ([]chat.Message, error) {
	messages, err := s.scanIndex(badgerPairPrefix(userA, userB))
	if err != nil {
		return nil, wrapErr("scan history", err)
	}
	return messages, nil
}

// Unread scans the pending index of user.
func (s *BadgerStore) Unread(_ context.Context, user string) ([]chat.Message, error) {
	messages, err := s.scanIndex(badgerUnreadPrefix(user))
	if err != nil {
		return nil, wrapErr("scan unread", err)
	}
	return messages, nil
}

// MarkRead rewrites the message with IsRead set and drops its pending index entry.
func (s *BadgerStore) MarkRead(_ context.Context, id string) error {
	err := s.update(func(txn *badger.Txn) error {
		message, err := getBadgerMessage(txn, id)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if message.IsRead {
			return nil
		}
		message.IsRead = true
		value, err := json.Marshal(message)
		if err != nil {
			return err
		}
		if err := txn.Set(badgerMsgKey(id), value); err != nil {
			return err
		}
		return txn.Delete(append(badgerUnreadPrefix(message.Receiver), id...))
	})
	return wrapErr("mark read", err)
}

// EnsureUser registers username.
func (s *BadgerStore) EnsureUser(_ context.Context, username string) error {
	if err := validateUsername(username); err != nil {
		return err
	}
	err := s.update(func(txn *badger.Txn) error {
		return txn.Set(badgerUserKey(username), nil)
	})
	return wrapErr("ensure user", err)
}

// Users lists registered identities.
func (s *BadgerStore) Users(_ context.Context) ([]string, error) {
	prefix := []byte("user:")
	users := make([]string, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			users = append(users, string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, wrapErr("scan users", err)
	}
	return users, nil
}

// Close flushes and releases the database lock.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// update retries fn when a concurrent transaction touched the same keys.
func (s *BadgerStore) update(fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < badgerMaxRetries; attempt++ {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.Debug("badger transaction conflict, retrying", zap.Int("attempt", attempt+1))
	}
	return err
}

func (s *BadgerStore) scanIndex(prefix []byte) ([]chat.Message, error) {
	messages := make([]chat.Message, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			id := string(it.Item().Key()[len(prefix):])
			message, err := getBadgerMessage(txn, id)
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			messages = append(messages, message)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortMessages(messages)
	return messages, nil
}

func getBadgerMessage(txn *badger.Txn, id string) (chat.Message, error) {
	var message chat.Message
	item, err := txn.Get(badgerMsgKey(id))
	if err != nil {
		return message, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &message)
	})
	message.Timestamp = message.Timestamp.UTC()
	return message, err
}

// badgerLogger routes badger's internal logging into zap.
type badgerLogger struct {
	*zap.SugaredLogger
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.Warnf(format, args...)
}
