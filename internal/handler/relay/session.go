package relay

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zhouzirui/pairchat/backend/internal/model/chat"
	"github.com/zhouzirui/pairchat/backend/internal/service/delivery"
	"github.com/zhouzirui/pairchat/backend/internal/service/room"
)

// State 会话生命周期状态，只会单向推进。
type State int32

const (
	StateConnecting State = iota
	StateJoined
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateJoined:
		return "joined"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is one websocket connection of user talking to peer.
type Session struct {
	id   string
	user string
	peer string
	room string

	conn           *connection
	state          atomic.Int32
	liveTimestamps bool
	log            *zap.Logger
}

var (
	_ room.Member   = (*Session)(nil)
	_ delivery.Sink = (*Session)(nil)
)

func newSession(user, peer string, conn *connection, liveTimestamps bool, log *zap.Logger) *Session {
	id := uuid.NewString()
	key := chat.RoomKey(user, peer)
	return &Session{
		id:             id,
		user:           user,
		peer:           peer,
		room:           key,
		conn:           conn,
		liveTimestamps: liveTimestamps,
		log: log.With(
			zap.String("session", id),
			zap.String("user", user),
			zap.String("room", key),
		),
	}
}

func (s *Session) ID() string   { return s.id }
func (s *Session) User() string { return s.user }
func (s *Session) Peer() string { return s.peer }
func (s *Session) Room() string { return s.room }

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// advance moves forward to next. Going backwards is refused.
func (s *Session) advance(next State) bool {
	for {
		cur := s.state.Load()
		if State(cur) >= next {
			return false
		}
		if s.state.CompareAndSwap(cur, int32(next)) {
			s.log.Debug("session state changed",
				zap.Stringer("from", State(cur)),
				zap.Stringer("to", next),
			)
			return true
		}
	}
}

// Deliver queues a live room event. It never blocks on the socket.
func (s *Session) Deliver(evt chat.ChatEvent) error {
	out := chat.DeliveryEvent{Message: evt.Message, Sender: evt.Sender}
	if s.liveTimestamps && !evt.Timestamp.IsZero() {
		out.Timestamp = chat.FormatTimestamp(evt.Timestamp)
	}
	payload, err := json.Marshal(out)
	if err != nil {
		return err
	}
	return s.conn.enqueue(payload)
}

// Push writes a backlog event and returns once it is on the wire.
func (s *Session) Push(_ context.Context, evt chat.DeliveryEvent) error {
	return s.conn.writeJSON(evt)
}
