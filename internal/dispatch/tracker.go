package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"courieropt/internal/broker"
	"courieropt/internal/config"
	"courieropt/internal/metrics"
	"courieropt/internal/model"
	"courieropt/internal/store"
)

// Tracker records partner positions and forwards them to the customers
// following each of the partner's active orders.
type Tracker struct {
	store  store.Store
	events broker.EventBroker
	log    *zap.Logger
	limit  rate.Limit
	burst  int
	now    func() time.Time

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewTracker(st store.Store, events broker.EventBroker, cfg config.DispatchConfig, log *zap.Logger) *Tracker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracker{
		store:    st,
		events:   events,
		log:      log,
		limit:    rate.Limit(cfg.LocationRate),
		burst:    cfg.LocationBurst,
		now:      time.Now,
		limiters: map[string]*rate.Limiter{},
	}
}

func (t *Tracker) limiter(partnerID string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.limiters[partnerID]
	if !ok {
		l = rate.NewLimiter(t.limit, t.burst)
		t.limiters[partnerID] = l
	}
	return l
}

// UpdateLocation stores the partner's position with a history row and
// publishes it on the topic of every PICK_UP order of that partner. It
// returns the number of orders notified.
func (t *Tracker) UpdateLocation(ctx context.Context, partnerID string, loc model.LocationUpdate) (int, error) {
	if !t.limiter(partnerID).Allow() {
		metrics.LocationUpdates.WithLabelValues("rate_limited").Inc()
		return 0, fmt.Errorf("partner %s: %w", partnerID, ErrRateLimited)
	}
	at := t.now().UTC()
	if err := t.store.UpdatePartnerLocation(ctx, partnerID, model.GeoPoint{Lat: loc.Lat, Lng: loc.Lng}, at); err != nil {
		metrics.LocationUpdates.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("update location: %w", err)
	}
	orders, err := t.store.ListPartnerOrders(ctx, partnerID, model.OrderPickUp)
	if err != nil {
		metrics.LocationUpdates.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("list orders of %s: %w", partnerID, err)
	}
	sent := 0
	var errs []error
	for _, o := range orders {
		evt := model.LocationEvent{OrderID: o.ID, PartnerID: partnerID, Lat: loc.Lat, Lng: loc.Lng, Timestamp: at}
		if err := t.events.Publish(ctx, o.ID, evt); err != nil {
			errs = append(errs, err)
			continue
		}
		sent++
		t.log.Debug("broadcast location", zap.String("order", o.ID), zap.String("topic", broker.Topic(o.ID)))
	}
	metrics.LocationUpdates.WithLabelValues("accepted").Inc()
	if err := errors.Join(errs...); err != nil {
		return sent, fmt.Errorf("broadcast location of %s: %w", partnerID, err)
	}
	return sent, nil
}

// RouteInfo returns the partner's latest coordinates and the delivery
// coordinates of an order. The partner position falls back to the newest
// history row when the partner record has none.
func (t *Tracker) RouteInfo(ctx context.Context, orderID string) (model.RouteInfo, error) {
	o, err := t.store.GetOrder(ctx, orderID)
	if err != nil {
		return model.RouteInfo{}, fmt.Errorf("get order %s: %w", orderID, err)
	}
	if o.Delivery == nil {
		return model.RouteInfo{}, fmt.Errorf("order %s delivery: %w", orderID, ErrNoLocation)
	}
	if o.PartnerID == "" {
		return model.RouteInfo{}, fmt.Errorf("route info %s: %w", orderID, ErrNoPartner)
	}
	p, err := t.store.GetPartner(ctx, o.PartnerID)
	if err != nil {
		return model.RouteInfo{}, fmt.Errorf("get partner %s: %w", o.PartnerID, err)
	}
	info := model.RouteInfo{
		OrderID:   o.ID,
		PartnerID: p.ID,
		Status:    o.Status,
		Delivery:  o.Delivery,
		Partner:   p.Location,
	}
	if p.Location != nil {
		at := p.UpdatedAt
		info.LocatedAt = &at
		return info, nil
	}
	last, err := t.store.LatestPartnerLocation(ctx, p.ID)
	if errors.Is(err, store.ErrNotFound) {
		return model.RouteInfo{}, fmt.Errorf("partner %s: %w", p.ID, ErrNoLocation)
	}
	if err != nil {
		return model.RouteInfo{}, fmt.Errorf("latest location of %s: %w", p.ID, err)
	}
	info.Partner = &model.GeoPoint{Lat: last.Lat, Lng: last.Lng}
	info.LocatedAt = &last.RecordedAt
	return info, nil
}

// Subscribe follows the location events of one order until cancel is called.
func (t *Tracker) Subscribe(orderID string) (<-chan model.LocationEvent, func()) {
	ch := t.events.Subscribe(orderID)
	return ch, func() { t.events.Unsubscribe(orderID, ch) }
}
