package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/zhouzirui/pairchat/backend/internal/metrics"
	"github.com/zhouzirui/pairchat/backend/internal/model/chat"
)

// ErrSubscribe is returned by Join when the room channel could not be subscribed.
var ErrSubscribe = errors.New("room subscribe failed")

// envelope is the payload published on a room channel.
type envelope struct {
	Key   string         `json:"key"`
	Event chat.ChatEvent `json:"event"`
}

// RedisRegistry fans room events out across instances through Redis pub/sub.
// Membership stays local; each instance subscribes only to rooms it has members in.
type RedisRegistry struct {
	client  redis.UniversalClient
	pubsub  *redis.PubSub
	local   *Registry
	prefix  string
	log     *zap.Logger
	metrics *metrics.Metrics

	// subMu serialises the local membership transition with the matching (un)subscribe.
	subMu sync.Mutex
}

var _ Broadcaster = (*RedisRegistry)(nil)

// NewRedisClient parses url and verifies the server answers.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	c := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return c, nil
}

// NewRedisRegistry 基于本地 Registry 构建跨实例广播。
func NewRedisRegistry(ctx context.Context, client redis.UniversalClient, local *Registry, prefix string, log *zap.Logger, m *metrics.Metrics) *RedisRegistry {
	return &RedisRegistry{
		client:  client,
		pubsub:  client.Subscribe(ctx),
		local:   local,
		prefix:  prefix,
		log:     log.Named("room.redis"),
		metrics: m,
	}
}

func (r *RedisRegistry) channel(key string) string {
	return r.prefix + key
}

// Join adds m locally and subscribes the room channel on the first local member.
func (r *RedisRegistry) Join(ctx context.Context, key string, m Member) error {
	r.subMu.Lock()
	defer r.subMu.Unlock()

	first := r.local.Size(key) == 0
	_ = r.local.Join(ctx, key, m)
	if !first {
		return nil
	}

	if err := r.pubsub.Subscribe(ctx, r.channel(key)); err != nil {
		r.local.Leave(ctx, key, m)
		return fmt.Errorf("%w: %s: %w", ErrSubscribe, key, err)
	}
	r.log.Debug("subscribed room channel", zap.String("room", key))
	return nil
}

// Leave removes m locally and unsubscribes once no local member is left.
func (r *RedisRegistry) Leave(ctx context.Context, key string, m Member) {
	r.subMu.Lock()
	defer r.subMu.Unlock()

	r.local.Leave(ctx, key, m)
	if r.local.Size(key) > 0 {
		return
	}
	if err := r.pubsub.Unsubscribe(ctx, r.channel(key)); err != nil {
		r.log.Warn("unsubscribe room channel failed", zap.String("room", key), zap.Error(err))
	}
}

// Broadcast publishes evt; every subscribed instance, this one included, delivers it from Run.
// When publishing fails the event is still delivered to local members.
func (r *RedisRegistry) Broadcast(ctx context.Context, key string, evt chat.ChatEvent) error {
	payload, err := json.Marshal(envelope{Key: key, Event: evt})
	if err != nil {
		return fmt.Errorf("%w: encode envelope: %w", ErrDelivery, err)
	}

	if err := r.client.Publish(ctx, r.channel(key), payload).Err(); err != nil {
		r.metrics.DeliveryFailed(metrics.PathRemote)
		r.log.Warn("publish failed, delivering locally only", zap.String("room", key), zap.Error(err))
		if localErr := r.local.Broadcast(ctx, key, evt); localErr != nil {
			return localErr
		}
		return fmt.Errorf("%w: publish %s: %w", ErrDelivery, key, err)
	}
	return nil
}

// Run consumes the room channels until ctx is done.
func (r *RedisRegistry) Run(ctx context.Context) error {
	ch := r.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.dispatch(ctx, msg)
		}
	}
}

func (r *RedisRegistry) dispatch(ctx context.Context, msg *redis.Message) {
	var env envelope
	if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
		r.log.Warn("drop malformed room envelope", zap.String("channel", msg.Channel), zap.Error(err))
		return
	}
	if r.channel(env.Key) != msg.Channel {
		r.log.Warn("drop envelope for foreign room", zap.String("channel", msg.Channel), zap.String("room", env.Key))
		return
	}
	if err := r.local.Broadcast(ctx, env.Key, env.Event); err != nil {
		r.log.Debug("remote event partially delivered", zap.String("room", env.Key), zap.Error(err))
	}
}

// Close releases the subscription.
func (r *RedisRegistry) Close() error {
	return r.pubsub.Close()
}
