//go:generate go run go.uber.org/mock/mockgen -source=store.go -destination=../mocks/mock_store.go -package=mocks
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zhouzirui/pairchat/backend/internal/config"
	"github.com/zhouzirui/pairchat/backend/internal/model/chat"
)

var (
	// ErrPersistence marks every failure raised by a Store.
	ErrPersistence = errors.New("persistence error")
	// ErrUnknownUser is returned when a participant identity is not registered.
	ErrUnknownUser = fmt.Errorf("%w: unknown user", ErrPersistence)
	// ErrEmptyBody is returned when a message has no content.
	ErrEmptyBody = fmt.Errorf("%w: message body is empty", ErrPersistence)
)

// Store is the durable message table consumed by the relay.
// Implementations are safe for concurrent use.
type Store interface {
	// Persist creates an unread message stamped with the current time.
	Persist(ctx context.Context, sender, receiver, body string) (chat.Message, error)
	// History returns every message exchanged between a and b, oldest first.
	History(ctx context.Context, userA, userB string) ([]chat.Message, error)
	// Unread returns the messages addressed to user that were never delivered, oldest first.
	Unread(ctx context.Context, user string) ([]chat.Message, error)
	// MarkRead flags a message as read. Unknown ids and repeated calls are no-ops.
	MarkRead(ctx context.Context, id string) error
	// EnsureUser registers an identity if it is not known yet.
	EnsureUser(ctx context.Context, username string) error
	// Users lists every registered identity in lexical order.
	Users(ctx context.Context) ([]string, error)
	Close() error
}

// Open builds the backend selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig, log *zap.Logger) (Store, error) {
	log = log.Named("store")

	var (
		s   Store
		err error
	)
	switch cfg.Driver {
	case config.DriverMemory:
		s = NewMemory()
	case config.DriverSQLite:
		s, err = OpenSQLite(cfg.SQLitePath, log)
	case config.DriverPostgres:
		s, err = OpenPostgres(ctx, cfg.PostgresDSN, log)
	case config.DriverBadger:
		s, err = OpenBadger(cfg.BadgerPath, log)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	for _, user := range cfg.SeedUsers {
		if err := s.EnsureUser(ctx, user); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("seed user %q: %w", user, err)
		}
	}

	log.Info("message store ready", zap.String("driver", cfg.Driver), zap.Int("seeded", len(cfg.SeedUsers)))
	return s, nil
}

func wrapErr(op string, err error) error {
	if err == nil || errors.Is(err, ErrPersistence) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}

func validateUsername(username string) error {
	if strings.TrimSpace(username) == "" {
		return fmt.Errorf("%w: empty identity", ErrUnknownUser)
	}
	return nil
}

// clock hands out UTC timestamps that never go backwards within a process.
type clock struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

func newClock() *clock {
	return &clock{now: time.Now}
}

func (c *clock) next() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ts := c.now().UTC().Truncate(time.Microsecond)
	if ts.Before(c.last) {
		ts = c.last
	}
	c.last = ts
	return ts
}

func newMessage(sender, receiver, body string, ts time.Time) (chat.Message, error) {
	if body == "" {
		return chat.Message{}, ErrEmptyBody
	}
	id, err := uuid.NewV7()
	if err != nil {
		return chat.Message{}, wrapErr("generate id", err)
	}
	return chat.Message{
		ID:        id.String(),
		Sender:    sender,
		Receiver:  receiver,
		Body:      body,
		Timestamp: ts,
	}, nil
}

func isPair(m chat.Message, a, b string) bool {
	return (m.Sender == a && m.Receiver == b) || (m.Sender == b && m.Receiver == a)
}

// sortMessages orders by timestamp, then by id (UUIDv7, so creation order).
func sortMessages(msgs []chat.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if !msgs[i].Timestamp.Equal(msgs[j].Timestamp) {
			return msgs[i].Timestamp.Before(msgs[j].Timestamp)
		}
		return msgs[i].ID < msgs[j].ID
	})
}
