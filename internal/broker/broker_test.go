package broker

import (
	"context"
	"testing"
	"time"

	"go.uber.org/goleak"

	"courieropt/internal/model"
)

func TestBrokerPublishSubscribe(t *testing.T) {
	defer goleak.VerifyNone(t)
	b := NewBroker()
	ch := b.Subscribe("o1")
	other := b.Subscribe("o2")

	evt := model.LocationEvent{OrderID: "o1", PartnerID: "p1", Lat: 1, Lng: 2, Timestamp: time.Now()}
	if err := b.Publish(context.Background(), "o1", evt); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case got := <-ch:
		if got.PartnerID != "p1" || got.Lat != 1 {
			t.Fatalf("bad payload: %+v", got)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
	select {
	case got := <-other:
		t.Fatalf("o2 subscriber got %+v", got)
	default:
	}

	b.Unsubscribe("o1", ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after unsubscribe")
	}
	b.Unsubscribe("o1", ch) // second call is a no-op
	if n := b.Subscribers("o1"); n != 0 {
		t.Fatalf("want 0 subscribers, got %d", n)
	}

	_ = b.Close()
	if _, ok := <-other; ok {
		t.Fatal("close should close remaining subscriptions")
	}
}

func TestBrokerDropsWhenSubscriberIsSlow(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe("o1")
	for i := 0; i < 20; i++ {
		_ = b.Publish(context.Background(), "o1", model.LocationEvent{OrderID: "o1"})
	}
	if len(ch) != cap(ch) {
		t.Fatalf("want full buffer %d, got %d", cap(ch), len(ch))
	}
	b.Unsubscribe("o1", ch)
}

func TestTopic(t *testing.T) {
	if got := Topic("42"); got != "order/42/location" {
		t.Fatalf("got %s", got)
	}
}
