package store

import (
	"context"
	"sort"
	"sync"

	"github.com/zhouzirui/pairchat/backend/internal/model/chat"
)

// Memory keeps messages in process memory. It is suited to local runs and tests.
type Memory struct {
	mu       sync.RWMutex
	users    map[string]struct{}
	messages []chat.Message
	byID     map[string]int
	clock    *clock
}

var _ Store = (*Memory)(nil)

// NewMemory bootstraps an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		users:    make(map[string]struct{}),
		messages: make([]chat.Message, 0, 64),
		byID:     make(map[string]int),
		clock:    newClock(),
	}
}

// Persist appends a message when both participants are registered.
func (s *Memory) Persist(_ context.Context, sender, receiver, body string) (chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[sender]; !ok {
		return chat.Message{}, ErrUnknownUser
	}
	if _, ok := s.users[receiver]; !ok {
		return chat.Message{}, ErrUnknownUser
	}

	message, err := newMessage(sender, receiver, body, s.clock.next())
	if err != nil {
		return chat.Message{}, err
	}

	s.byID[message.ID] = len(s.messages)
	s.messages = append(s.messages, message)
	return message, nil
}

// History returns a copy of the conversation between a and b.
func (s *Memory) History(_ context.Context, userA, userB string) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]chat.Message, 0)
	for _, m := range s.messages {
		if isPair(m, userA, userB) {
			out = append(out, m)
		}
	}
	sortMessages(out)
	return out, nil
}

// Unread returns pending messages addressed to user.
func (s *Memory) Unread(_ context.Context, user string) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]chat.Message, 0)
	for _, m := range s.messages {
		if m.Receiver == user && !m.IsRead {
			out = append(out, m)
		}
	}
	sortMessages(out)
	return out, nil
}

// MarkRead flips the read flag of id.
func (s *Memory) MarkRead(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.byID[id]
	if !ok {
		return nil
	}
	s.messages[idx].IsRead = true
	return nil
}

// EnsureUser registers username.
func (s *Memory) EnsureUser(_ context.Context, username string) error {
	if err := validateUsername(username); err != nil {
		return err
	}

	s.mu.Lock()
	s.users[username] = struct{}{}
	s.mu.Unlock()
	return nil
}

// Users lists registered identities.
func (s *Memory) Users(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]string, 0, len(s.users))
	for u := range s.users {
		users = append(users, u)
	}
	sort.Strings(users)
	return users, nil
}

// Close is a no-op.
func (s *Memory) Close() error { return nil }
