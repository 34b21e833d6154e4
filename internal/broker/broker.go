package broker

import (
	"context"
	"sync"

	"courieropt/internal/model"
)

// EventBroker fans location events out to the subscribers of an order.
type EventBroker interface {
	Subscribe(orderID string) chan model.LocationEvent
	Unsubscribe(orderID string, ch chan model.LocationEvent)
	Publish(ctx context.Context, orderID string, evt model.LocationEvent) error
	Close() error
}

// Topic is the channel name location events for an order travel on.
func Topic(orderID string) string { return "order/" + orderID + "/location" }

// Broker is the in-process EventBroker. Slow subscribers drop events rather
// than block publishers.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan model.LocationEvent]struct{} // topic -> set of channels
}

func NewBroker() *Broker {
	return &Broker{subs: map[string]map[chan model.LocationEvent]struct{}{}}
}

func (b *Broker) Subscribe(orderID string) chan model.LocationEvent {
	ch := make(chan model.LocationEvent, 8)
	t := Topic(orderID)
	b.mu.Lock()
	if b.subs[t] == nil {
		b.subs[t] = map[chan model.LocationEvent]struct{}{}
	}
	b.subs[t][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(orderID string, ch chan model.LocationEvent) {
	t := Topic(orderID)
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.subs[t]
	if _, ok := m[ch]; !ok {
		return
	}
	delete(m, ch)
	if len(m) == 0 {
		delete(b.subs, t)
	}
	close(ch)
}

func (b *Broker) Publish(_ context.Context, orderID string, evt model.LocationEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[Topic(orderID)] {
		select {
		case ch <- evt:
		default:
		}
	}
	return nil
}

// Subscribers reports how many channels listen on an order.
func (b *Broker) Subscribers(orderID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[Topic(orderID)])
}

// Close drops and closes every subscription.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for t, m := range b.subs {
		for ch := range m {
			close(ch)
		}
		delete(b.subs, t)
	}
	return nil
}
