package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"courieropt/internal/model"
)

// RedisBroker implements EventBroker over Redis Pub/Sub so every API
// instance sees location events published by any other.
type RedisBroker struct {
	rdb *redis.Client
	log *zap.Logger

	mu   sync.Mutex
	subs map[chan model.LocationEvent]*redisSub
}

type redisSub struct {
	ps   *redis.PubSub
	done chan struct{}
}

func NewRedisBroker(url string, log *zap.Logger) (*RedisBroker, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return newRedisBroker(redis.NewClient(opt), log), nil
}

func newRedisBroker(rdb *redis.Client, log *zap.Logger) *RedisBroker {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisBroker{rdb: rdb, log: log, subs: map[chan model.LocationEvent]*redisSub{}}
}

func (b *RedisBroker) Subscribe(orderID string) chan model.LocationEvent {
	ch := make(chan model.LocationEvent, 16)
	ctx := context.Background()
	ps := b.rdb.Subscribe(ctx, Topic(orderID))
	// initial consume to ensure subscription
	if _, err := ps.Receive(ctx); err != nil {
		b.log.Warn("redis subscribe", zap.String("order", orderID), zap.Error(err))
	}
	sub := &redisSub{ps: ps, done: make(chan struct{})}
	b.mu.Lock()
	b.subs[ch] = sub
	b.mu.Unlock()
	go func() {
		defer close(sub.done)
		defer close(ch)
		for msg := range ps.Channel() {
			var evt model.LocationEvent
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				b.log.Debug("drop malformed event", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			select {
			case ch <- evt:
			default:
			}
		}
	}()
	return ch
}

// Unsubscribe closes the Redis subscription; ch is closed once the reader exits.
func (b *RedisBroker) Unsubscribe(_ string, ch chan model.LocationEvent) {
	b.mu.Lock()
	sub, ok := b.subs[ch]
	delete(b.subs, ch)
	b.mu.Unlock()
	if !ok {
		return
	}
	_ = sub.ps.Close()
	<-sub.done
}

func (b *RedisBroker) Publish(ctx context.Context, orderID string, evt model.LocationEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode location event: %w", err)
	}
	if err := b.rdb.Publish(ctx, Topic(orderID), data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", Topic(orderID), err)
	}
	return nil
}

func (b *RedisBroker) Close() error {
	b.mu.Lock()
	subs := make([]*redisSub, 0, len(b.subs))
	for ch, s := range b.subs {
		subs = append(subs, s)
		delete(b.subs, ch)
	}
	b.mu.Unlock()
	for _, s := range subs {
		_ = s.ps.Close()
		<-s.done
	}
	return b.rdb.Close()
}
