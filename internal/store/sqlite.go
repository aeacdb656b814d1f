package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/zhouzirui/pairchat/backend/internal/model/chat"
)

type userRecord struct {
	Username  string `gorm:"primaryKey"`
	CreatedAt time.Time
}

func (userRecord) TableName() string { return "chat_users" }

type messageRecord struct {
	ID        string    `gorm:"primaryKey;size:36"`
	Sender    string    `gorm:"not null;index:idx_chat_messages_pair,priority:1"`
	Receiver  string    `gorm:"not null;index:idx_chat_messages_pair,priority:2;index:idx_chat_messages_unread,priority:1"`
	Body      string    `gorm:"not null"`
	Timestamp time.Time `gorm:"not null;index"`
	IsRead    bool      `gorm:"not null;index:idx_chat_messages_unread,priority:2"`
}

func (messageRecord) TableName() string { return "chat_messages" }

func (r messageRecord) toMessage() chat.Message {
	return chat.Message{
		ID:        r.ID,
		Sender:    r.Sender,
		Receiver:  r.Receiver,
		Body:      r.Body,
		Timestamp: r.Timestamp.UTC(),
		IsRead:    r.IsRead,
	}
}

// SQLStore persists messages through gorm.
type SQLStore struct {
	db    *gorm.DB
	log   *zap.Logger
	clock *clock
}

var _ Store = (*SQLStore)(nil)

// OpenSQLite opens (or creates) the sqlite database at path and migrates the schema.
func OpenSQLite(path string, log *zap.Logger) (*SQLStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite handle: %w", err)
	}
	// sqlite allows a single writer.
	sqlDB.SetMaxOpenConns(1)

	return newSQLStore(db, log)
}

func newSQLStore(db *gorm.DB, log *zap.Logger) (*SQLStore, error) {
	if err := db.AutoMigrate(&userRecord{}, &messageRecord{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLStore{db: db, log: log, clock: newClock()}, nil
}

// Persist inserts a message after checking that both identities exist.
func (s *SQLStore) Persist(ctx context.Context, sender, receiver, body string) (chat.Message, error) {
	message, err := newMessage(sender, receiver, body, s.clock.next())
	if err != nil {
		return chat.Message{}, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&userRecord{}).
			Where("username IN ?", []string{sender, receiver}).
			Count(&count).Error; err != nil {
			return err
		}
		want := int64(2)
		if sender == receiver {
			want = 1
		}
		if count < want {
			return ErrUnknownUser
		}

		return tx.Create(&messageRecord{
			ID:        message.ID,
			Sender:    message.Sender,
			Receiver:  message.Receiver,
			Body:      message.Body,
			Timestamp: message.Timestamp,
		}).Error
	})
	if err != nil {
		return chat.Message{}, wrapErr("insert message", err)
	}
	return message, nil
}

// History selects the conversation between a and b.
func (s *SQLStore) History(ctx context.Context, userA, userB string) ([]chat.Message, error) {
	var records []messageRecord
	err := s.db.WithContext(ctx).
		Where("(sender = ? AND receiver = ?) OR (sender = ? AND receiver = ?)", userA, userB, userB, userA).
		Order("timestamp ASC").Order("id ASC").
		Find(&records).Error
	if err != nil {
		return nil, wrapErr("select history", err)
	}
	return toMessages(records), nil
}

// Unread selects pending messages for user.
func (s *SQLStore) Unread(ctx context.Context, user string) ([]chat.Message, error) {
	var records []messageRecord
	err := s.db.WithContext(ctx).
		Where("receiver = ? AND is_read = ?", user, false).
		Order("timestamp ASC").Order("id ASC").
		Find(&records).Error
	if err != nil {
		return nil, wrapErr("select unread", err)
	}
	return toMessages(records), nil
}

// MarkRead updates only rows that are still unread.
func (s *SQLStore) MarkRead(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).
		Model(&messageRecord{}).
		Where("id = ? AND is_read = ?", id, false).
		Update("is_read", true).Error
	return wrapErr("mark read", err)
}

// EnsureUser inserts username unless it already exists.
func (s *SQLStore) EnsureUser(ctx context.Context, username string) error {
	if err := validateUsername(username); err != nil {
		return err
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&userRecord{Username: username}).Error
	return wrapErr("ensure user", err)
}

// Users lists registered identities.
func (s *SQLStore) Users(ctx context.Context) ([]string, error) {
	var users []string
	err := s.db.WithContext(ctx).
		Model(&userRecord{}).
		Order("username ASC").
		Pluck("username", &users).Error
	if err != nil {
		return nil, wrapErr("select users", err)
	}
	return users, nil
}

// Close releases the underlying connection pool.
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toMessages(records []messageRecord) []chat.Message {
	return lo.Map(records, func(r messageRecord, _ int) chat.Message {
		return r.toMessage()
	})
}
