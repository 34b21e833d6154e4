package store

import (
	"context"
	"errors"
	"time"

	"courieropt/internal/model"
)

// Store is the persistence interface used by the dispatch service and the API server.
type Store interface {
	// Orders
	ListOrdersByStatus(ctx context.Context, status model.OrderStatus) ([]model.Order, error)
	ListPartnerOrders(ctx context.Context, partnerID string, status model.OrderStatus) ([]model.Order, error)
	GetOrder(ctx context.Context, id string) (model.Order, error)
	UpsertOrder(ctx context.Context, o model.Order) (model.Order, error)
	// AssignOrder sets an order's partner and status in one write.
	AssignOrder(ctx context.Context, orderID, partnerID string, status model.OrderStatus) error

	// Partners
	ListPartnersByStatus(ctx context.Context, status model.PartnerStatus) ([]model.Partner, error)
	GetPartner(ctx context.Context, id string) (model.Partner, error)
	UpsertPartner(ctx context.Context, p model.Partner) (model.Partner, error)

	// Location tracking
	// UpdatePartnerLocation moves the partner and appends a history sample.
	UpdatePartnerLocation(ctx context.Context, partnerID string, loc model.GeoPoint, at time.Time) error
	LatestPartnerLocation(ctx context.Context, partnerID string) (model.LocationSample, error)

	// Solve history
	RecordSolveRun(ctx context.Context, run model.SolveRun) (model.SolveRun, error)
	ListSolveRuns(ctx context.Context, kind string, limit int) ([]model.SolveRun, error)

	Ping(ctx context.Context) error
	Close() error
}

var ErrNotFound = errors.New("not found")
