package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"househunter/internal/logger"
	"househunter/internal/metrics"
)

const redisChannelPrefix = "househunter:"

// RedisLayer fans events out across server instances through Redis
// pub/sub. Each instance holds one Redis subscription per topic that has
// at least one local member.
type RedisLayer struct {
	client *redis.Client
	groups *groups

	mu   sync.Mutex
	subs map[Topic]*redis.PubSub

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ Layer = (*RedisLayer)(nil)

func NewRedisLayer(client *redis.Client) *RedisLayer {
	ctx, cancel := context.WithCancel(context.Background())
	return &RedisLayer{
		client: client,
		groups: newGroups(),
		subs:   make(map[Topic]*redis.PubSub),
		ctx:    ctx,
		cancel: cancel,
	}
}

func channelName(t Topic) string {
	return redisChannelPrefix + t.String()
}

// Join registers s on t. The first local member opens the Redis
// subscription and waits for the server to confirm it, so an event
// published right after Join returns is not lost.
func (l *RedisLayer) Join(ctx context.Context, t Topic, s Subscriber) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.subs[t]; ok {
		l.groups.add(t, s)
		return nil
	}

	pubsub := l.client.Subscribe(l.ctx, channelName(t))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("subscribe %s: %w", t, err)
	}
	l.subs[t] = pubsub
	l.groups.add(t, s)

	l.wg.Add(1)
	go l.receive(t, pubsub)
	return nil
}

func (l *RedisLayer) Leave(t Topic, s Subscriber) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.groups.remove(t, s) {
		return
	}
	if pubsub, ok := l.subs[t]; ok {
		_ = pubsub.Close()
		delete(l.subs, t)
	}
}

func (l *RedisLayer) Publish(ctx context.Context, t Topic, ev Event) error {
	data, err := Encode(ev)
	if err != nil {
		return err
	}
	if err := l.client.Publish(ctx, channelName(t), data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", t, err)
	}
	metrics.EventsPublished.WithLabelValues(string(ev.Kind())).Inc()
	return nil
}

func (l *RedisLayer) receive(t Topic, pubsub *redis.PubSub) {
	defer l.wg.Done()
	log := logger.GetLogger().With(zap.String("topic", t.String()))

	ch := pubsub.Channel()
	for {
		select {
		case <-l.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			ev, err := Decode([]byte(msg.Payload))
			if err != nil {
				log.Warn("dropping undecodable event", zap.Error(err))
				continue
			}
			l.groups.deliver(t, ev)
		}
	}
}

// Close drops every subscription and waits for the receive loops to exit.
// The Redis client itself belongs to the caller.
func (l *RedisLayer) Close() error {
	l.cancel()

	l.mu.Lock()
	var errs []error
	for t, pubsub := range l.subs {
		if err := pubsub.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", t, err))
		}
		delete(l.subs, t)
	}
	l.mu.Unlock()

	l.wg.Wait()
	return errors.Join(errs...)
}
