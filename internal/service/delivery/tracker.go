package delivery

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/zhouzirui/pairchat/backend/internal/metrics"
	"github.com/zhouzirui/pairchat/backend/internal/model/chat"
	"github.com/zhouzirui/pairchat/backend/internal/store"
)

// ErrDelivery is returned when a backlog push could not reach the socket.
var ErrDelivery = errors.New("backlog delivery failed")

// Sink 接收补发的未读消息，Push 返回 nil 表示已写入连接。
type Sink interface {
	Push(ctx context.Context, evt chat.DeliveryEvent) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, evt chat.DeliveryEvent) error

func (f SinkFunc) Push(ctx context.Context, evt chat.DeliveryEvent) error { return f(ctx, evt) }

// Tracker 负责未读消息的补发与会话历史读取。
type Tracker struct {
	store   store.Store
	log     *zap.Logger
	metrics *metrics.Metrics
}

// NewTracker 创建 Tracker。
func NewTracker(s store.Store, log *zap.Logger, m *metrics.Metrics) *Tracker {
	return &Tracker{store: s, log: log.Named("delivery"), metrics: m}
}

// DeliverBacklog pushes every unread message addressed to user, oldest first.
// A message is marked read only after its push succeeded. The first failed push
// stops the replay so later messages stay unread. A failed mark-read is logged
// and the replay continues; that message may be delivered again next time.
func (t *Tracker) DeliverBacklog(ctx context.Context, user string, sink Sink) (int, error) {
	unread, err := t.store.Unread(ctx, user)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, m := range unread {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}
		if err := sink.Push(ctx, chat.NewBacklogEvent(m)); err != nil {
			t.metrics.DeliveryFailed(metrics.PathBacklog)
			t.metrics.BacklogDelivered(delivered)
			return delivered, fmt.Errorf("%w: message %s: %w", ErrDelivery, m.ID, err)
		}
		if err := t.store.MarkRead(ctx, m.ID); err != nil {
			t.log.Warn("mark read failed after delivery",
				zap.String("user", user),
				zap.String("message_id", m.ID),
				zap.Error(err),
			)
		}
		delivered++
	}

	t.metrics.BacklogDelivered(delivered)
	if delivered > 0 {
		t.log.Debug("backlog delivered", zap.String("user", user), zap.Int("count", delivered))
	}
	return delivered, nil
}

// LoadConversation returns the history between a and b without touching read state.
func (t *Tracker) LoadConversation(ctx context.Context, a, b string) ([]chat.Message, error) {
	return t.store.History(ctx, a, b)
}
