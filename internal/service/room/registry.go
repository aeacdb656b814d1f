package room

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/zhouzirui/pairchat/backend/internal/metrics"
	"github.com/zhouzirui/pairchat/backend/internal/model/chat"
)

// ErrDelivery marks a push to one or more room members that did not go through.
var ErrDelivery = errors.New("room delivery failed")

// Member 是房间中的一个会话终端。
type Member interface {
	ID() string
	Deliver(evt chat.ChatEvent) error
}

// Broadcaster 负责房间成员管理与扇出。
type Broadcaster interface {
	Join(ctx context.Context, key string, m Member) error
	Leave(ctx context.Context, key string, m Member)
	Broadcast(ctx context.Context, key string, evt chat.ChatEvent) error
}

// Registry 维护进程内 房间 -> 成员 的映射。
type Registry struct {
	mu      sync.RWMutex
	rooms   map[string]map[string]Member
	log     *zap.Logger
	metrics *metrics.Metrics
}

var _ Broadcaster = (*Registry)(nil)

// NewRegistry 创建空的房间注册表。
func NewRegistry(log *zap.Logger, m *metrics.Metrics) *Registry {
	return &Registry{
		rooms:   make(map[string]map[string]Member),
		log:     log.Named("room"),
		metrics: m,
	}
}

// Join adds m to key. Joining twice with the same member id is a no-op.
func (r *Registry) Join(_ context.Context, key string, m Member) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	members := r.rooms[key]
	if members == nil {
		members = make(map[string]Member)
		r.rooms[key] = members
		r.metrics.RoomOpened()
	}
	members[m.ID()] = m
	return nil
}

// Leave removes m from key and drops the room once it is empty.
func (r *Registry) Leave(_ context.Context, key string, m Member) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[key]
	if !ok {
		return
	}
	delete(members, m.ID())
	if len(members) == 0 {
		delete(r.rooms, key)
		r.metrics.RoomClosed()
	}
}

// Broadcast delivers evt to every member of key, the sender's own sessions included.
// A failing member never prevents delivery to the others.
func (r *Registry) Broadcast(_ context.Context, key string, evt chat.ChatEvent) error {
	members := r.snapshot(key)

	failed := 0
	for _, m := range members {
		if err := r.deliver(m, evt); err != nil {
			failed++
			r.metrics.DeliveryFailed(metrics.PathLive)
			r.log.Warn("deliver to member failed",
				zap.String("room", key),
				zap.String("member", m.ID()),
				zap.Error(err),
			)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%w: %d of %d members in %s", ErrDelivery, failed, len(members), key)
	}
	return nil
}

// Size 返回房间当前成员数。
func (r *Registry) Size(key string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[key])
}

// Rooms 返回当前存在的房间数。
func (r *Registry) Rooms() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// snapshot copies the membership so delivery runs without holding the lock.
func (r *Registry) snapshot(key string) []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[key]
	out := make([]Member, 0, len(members))
	for _, m := range members {
		out = append(out, m)
	}
	return out
}

func (r *Registry) deliver(m Member, evt chat.ChatEvent) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("member panicked: %v", p)
		}
	}()
	return m.Deliver(evt)
}
