package dispatch

import (
	"context"
	"fmt"
	"math"
	"time"

	"courieropt/internal/config"
	"courieropt/internal/model"
	"courieropt/internal/opt"
	"courieropt/internal/store"
)

// ETAEstimator predicts pickup and delivery times from the kitchen prep
// time and the partner's straight-line distance to the customer.
type ETAEstimator struct {
	store store.Store
	cfg   config.DispatchConfig
	now   func() time.Time
}

func NewETAEstimator(st store.Store, cfg config.DispatchConfig) *ETAEstimator {
	return &ETAEstimator{store: st, cfg: cfg, now: time.Now}
}

// Estimate fails with store.ErrNotFound for an unknown order and ErrNoPartner
// when nobody is assigned yet.
func (e *ETAEstimator) Estimate(ctx context.Context, orderID string) (model.ETA, error) {
	o, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return model.ETA{}, fmt.Errorf("get order %s: %w", orderID, err)
	}
	if o.PartnerID == "" {
		return model.ETA{}, fmt.Errorf("eta %s: %w", orderID, ErrNoPartner)
	}
	p, err := e.store.GetPartner(ctx, o.PartnerID)
	if err != nil {
		return model.ETA{}, fmt.Errorf("get partner %s: %w", o.PartnerID, err)
	}
	return e.estimate(o, p), nil
}

func (e *ETAEstimator) estimate(o model.Order, p model.Partner) model.ETA {
	ready := o.Status.Rank() >= model.OrderReady.Rank()
	prep := e.cfg.PrepMinutes
	if ready {
		prep = 0
	}

	km := 0.0
	if o.Delivery != nil && p.Location != nil {
		from := opt.Location{Lat: p.Location.Lat, Lng: p.Location.Lng}
		km = from.DistanceTo(opt.Location{Lat: o.Delivery.Lat, Lng: o.Delivery.Lng}) / 1000
	}
	travel := 0.0
	if km > 0 {
		travel = km / e.cfg.SpeedKmh * 60 * e.cfg.TrafficFactor
	}

	now := e.now()
	pickup := now
	switch {
	case !ready:
		pickup = now.Add(minutes(prep))
	case o.PickedUpAt != nil:
		pickup = *o.PickedUpAt
	}
	return model.ETA{
		OrderID:             o.ID,
		PrepMinutes:         prep,
		TravelMinutes:       travel,
		DistanceKm:          km,
		EstimatedPickupAt:   pickup,
		EstimatedDeliveryAt: pickup.Add(time.Duration(math.Round(travel)) * time.Minute),
	}
}

func minutes(m float64) time.Duration { return time.Duration(m * float64(time.Minute)) }
