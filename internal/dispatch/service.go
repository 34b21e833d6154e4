package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"courieropt/internal/config"
	"courieropt/internal/model"
	"courieropt/internal/store"
)

var (
	ErrNoPartner   = errors.New("order has no partner")
	ErrNoLocation  = errors.New("no location available")
	ErrRateLimited = errors.New("location update rate limited")
)

// Problem ids with this prefix belong to store-driven solves and are refused
// for caller snapshots.
const storeProblemPrefix = "store:"

// AssignmentProblemID is the problem id store-driven assignment runs share,
// so concurrent triggers join one solve.
const AssignmentProblemID = storeProblemPrefix + "assignment"

// RouteProblemID is the problem id of the store-driven route solve of a partner.
func RouteProblemID(partnerID string) string { return storeProblemPrefix + "route:" + partnerID }

// ReservedProblemID reports whether id is taken by the store-driven flows.
func ReservedProblemID(id string) bool { return strings.HasPrefix(id, storeProblemPrefix) }

// Service drives the planner from the store: it reads orders and partners,
// solves, and writes accepted assignments back.
type Service struct {
	store    store.Store
	planner  *Planner
	dispatch config.DispatchConfig
	workers  int
	log      *zap.Logger
}

func NewService(st store.Store, planner *Planner, cfg config.Config, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: st, planner: planner, dispatch: cfg.Dispatch, workers: cfg.Solver.Workers, log: log}
}

func (s *Service) Planner() *Planner { return s.planner }

func point(g *model.GeoPoint) (lat, lon *float64) {
	if g == nil {
		return nil, nil
	}
	la, lo := g.Lat, g.Lng
	return &la, &lo
}

// BuildAssignmentProblem snapshots READY orders without a partner and the
// ONLINE partners. A partner's current load is its number of PICK_UP orders.
func (s *Service) BuildAssignmentProblem(ctx context.Context) (model.AssignmentProblem, error) {
	ready, err := s.store.ListOrdersByStatus(ctx, model.OrderReady)
	if err != nil {
		return model.AssignmentProblem{}, fmt.Errorf("list ready orders: %w", err)
	}
	partners, err := s.store.ListPartnersByStatus(ctx, model.PartnerOnline)
	if err != nil {
		return model.AssignmentProblem{}, fmt.Errorf("list online partners: %w", err)
	}
	active, err := s.store.ListOrdersByStatus(ctx, model.OrderPickUp)
	if err != nil {
		return model.AssignmentProblem{}, fmt.Errorf("list active orders: %w", err)
	}
	load := map[string]int{}
	for _, o := range active {
		if o.PartnerID != "" {
			load[o.PartnerID]++
		}
	}

	prob := model.AssignmentProblem{}
	for _, p := range partners {
		lat, lon := point(p.Location)
		prob.Partners = append(prob.Partners, model.PartnerSnapshot{
			PartnerID:   p.ID,
			Lat:         lat,
			Lon:         lon,
			Online:      p.Status == model.PartnerOnline && p.Active,
			CurrentLoad: load[p.ID],
			MaxCapacity: s.dispatch.DefaultMaxCapacity,
		})
	}
	for _, o := range ready {
		if o.PartnerID != "" {
			continue
		}
		lat, lon := point(o.Delivery)
		prob.Orders = append(prob.Orders, model.OrderSnapshot{OrderID: o.ID, Lat: lat, Lon: lon})
	}
	return prob, nil
}

// AssignReadyOrders solves the current assignment problem and persists every
// accepted placement as PICK_UP. It returns order id -> partner id for the
// orders that were written. Placements outside the problem just built, or
// onto a partner that was not offered online, are never persisted.
func (s *Service) AssignReadyOrders(ctx context.Context) (model.AssignmentResult, error) {
	prob, err := s.BuildAssignmentProblem(ctx)
	if err != nil {
		return model.AssignmentResult{}, err
	}
	if len(prob.Orders) == 0 || len(prob.Partners) == 0 {
		s.log.Info("nothing to assign", zap.Int("orders", len(prob.Orders)), zap.Int("partners", len(prob.Partners)))
	}
	res, err := s.planner.OptimizeAssignment(ctx, AssignmentProblemID, prob)
	if err != nil {
		return model.AssignmentResult{}, err
	}

	offered := make(map[string]bool, len(prob.Orders))
	for _, o := range prob.Orders {
		offered[o.OrderID] = true
	}
	online := make(map[string]bool, len(prob.Partners))
	for _, p := range prob.Partners {
		online[p.PartnerID] = p.Online
	}

	applied := make(map[string]string, len(res.Assignments))
	placed := make(map[string]bool, len(res.Assignments))
	ids := make([]string, 0, len(res.Assignments))
	for id := range res.Assignments {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, orderID := range ids {
		partnerID := res.Assignments[orderID]
		if !offered[orderID] || !online[partnerID] {
			s.log.Warn("drop placement outside the problem", zap.String("order", orderID), zap.String("partner", partnerID))
			continue
		}
		if err := s.store.AssignOrder(ctx, orderID, partnerID, model.OrderPickUp); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				s.log.Warn("skip vanished assignment", zap.String("order", orderID), zap.String("partner", partnerID))
				continue
			}
			return model.AssignmentResult{}, fmt.Errorf("persist assignment %s: %w", orderID, err)
		}
		applied[orderID] = partnerID
		placed[orderID] = true
		s.log.Debug("assigned order", zap.String("order", orderID), zap.String("partner", partnerID))
	}
	res.Assignments = applied
	res.Unassigned = nil
	for _, o := range prob.Orders {
		if !placed[o.OrderID] {
			res.Unassigned = append(res.Unassigned, o.OrderID)
		}
	}
	s.log.Info("assignments applied", zap.Int("applied", len(applied)), zap.String("score", res.Score.Text))
	return res, nil
}

// BuildRouteProblem snapshots a partner's PICK_UP orders as one vehicle
// route. Capacity equals the number of orders; the start is the partner's
// location or the origin when unknown.
func (s *Service) BuildRouteProblem(ctx context.Context, partnerID string) (model.RouteProblem, error) {
	p, err := s.store.GetPartner(ctx, partnerID)
	if err != nil {
		return model.RouteProblem{}, fmt.Errorf("get partner %s: %w", partnerID, err)
	}
	orders, err := s.store.ListPartnerOrders(ctx, partnerID, model.OrderPickUp)
	if err != nil {
		return model.RouteProblem{}, fmt.Errorf("list orders of %s: %w", partnerID, err)
	}
	prob := model.RouteProblem{
		Vehicle: model.VehicleSnapshot{VehicleID: p.ID, PartnerID: p.ID, Capacity: len(orders)},
		Stops:   make([]model.OrderSnapshot, 0, len(orders)),
	}
	if p.Location != nil {
		prob.Vehicle.StartLat, prob.Vehicle.StartLon = p.Location.Lat, p.Location.Lng
	}
	for _, o := range orders {
		lat, lon := point(o.Delivery)
		prob.Stops = append(prob.Stops, model.OrderSnapshot{OrderID: o.ID, Lat: lat, Lon: lon})
	}
	return prob, nil
}

// PlanPartnerRoute orders the partner's PICK_UP stops under
// RouteProblemID(partnerID).
func (s *Service) PlanPartnerRoute(ctx context.Context, partnerID string) (model.RoutePlan, error) {
	prob, err := s.BuildRouteProblem(ctx, partnerID)
	if err != nil {
		return model.RoutePlan{}, err
	}
	if len(prob.Stops) == 0 {
		s.log.Info("no stops to plan", zap.String("partner", partnerID))
	}
	return s.planner.OptimizeRoute(ctx, RouteProblemID(partnerID), prob)
}

// PlanAllRoutes plans every partner that has PICK_UP orders, at most
// solver.workers at a time. Routes and failures are sorted by partner id.
// Only cancellation of ctx fails the whole batch.
func (s *Service) PlanAllRoutes(ctx context.Context) (model.RouteBatch, error) {
	active, err := s.store.ListOrdersByStatus(ctx, model.OrderPickUp)
	if err != nil {
		return model.RouteBatch{}, fmt.Errorf("list active orders: %w", err)
	}
	seen := map[string]bool{}
	var partners []string
	for _, o := range active {
		if o.PartnerID != "" && !seen[o.PartnerID] {
			seen[o.PartnerID] = true
			partners = append(partners, o.PartnerID)
		}
	}
	sort.Strings(partners)

	var (
		mu    sync.Mutex
		batch = model.RouteBatch{Routes: make([]model.RoutePlan, 0, len(partners))}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(s.workers, 1))
	for _, id := range partners {
		g.Go(func() error {
			plan, err := s.PlanPartnerRoute(gctx, id)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				s.log.Warn("plan partner route", zap.String("partner", id), zap.Error(err))
				mu.Lock()
				batch.Failures = append(batch.Failures, model.RouteFailure{PartnerID: id, Error: err.Error()})
				mu.Unlock()
				return nil
			}
			mu.Lock()
			batch.Routes = append(batch.Routes, plan)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return model.RouteBatch{}, fmt.Errorf("plan all routes: %w", err)
	}
	sort.Slice(batch.Routes, func(i, j int) bool { return batch.Routes[i].PartnerID < batch.Routes[j].PartnerID })
	sort.Slice(batch.Failures, func(i, j int) bool { return batch.Failures[i].PartnerID < batch.Failures[j].PartnerID })
	return batch, nil
}
