package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"courieropt/internal/broker"
	"courieropt/internal/config"
	"courieropt/internal/model"
	"courieropt/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Solver.AssignmentTimeLimit = 300 * time.Millisecond
	cfg.Solver.RouteTimeLimit = 300 * time.Millisecond
	cfg.Solver.UnimprovedStepLimit = 300
	cfg.Solver.Seed = 7
	cfg.Solver.Workers = 2
	return cfg
}

func f(v float64) *float64 { return &v }

type fixture struct {
	store   *store.Memory
	planner *Planner
	service *Service
}

func newFixture(t *testing.T, opts ...func(*config.Config)) *fixture {
	t.Helper()
	cfg := testConfig()
	for _, o := range opts {
		o(&cfg)
	}
	st := store.NewMemory()
	log := zaptest.NewLogger(t)
	p := NewPlanner(cfg.Solver, st, log)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, p.Close(ctx))
	})
	return &fixture{store: st, planner: p, service: NewService(st, p, cfg, log)}
}

func (fx *fixture) partner(t *testing.T, id string, status model.PartnerStatus, active bool, loc *model.GeoPoint) {
	t.Helper()
	_, err := fx.store.UpsertPartner(context.Background(), model.Partner{ID: id, Status: status, Active: active, Location: loc})
	require.NoError(t, err)
}

func (fx *fixture) order(t *testing.T, id string, status model.OrderStatus, partnerID string, loc *model.GeoPoint) {
	t.Helper()
	_, err := fx.store.UpsertOrder(context.Background(), model.Order{ID: id, Status: status, PartnerID: partnerID, Delivery: loc})
	require.NoError(t, err)
}

func TestPlannerEmptyInputSkipsSolve(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	res, err := fx.planner.OptimizeAssignment(ctx, "empty", model.AssignmentProblem{
		Partners: []model.PartnerSnapshot{{PartnerID: "p1", Online: true, MaxCapacity: 3}},
	})
	require.NoError(t, err)
	assert.Empty(t, res.Assignments)
	assert.Empty(t, res.RunID)

	res, err = fx.planner.OptimizeAssignment(ctx, "no-partners", model.AssignmentProblem{
		Orders: []model.OrderSnapshot{{OrderID: "o1"}},
	})
	require.NoError(t, err)
	assert.Empty(t, res.Assignments)
	assert.Equal(t, []string{"o1"}, res.Unassigned)

	plan, err := fx.planner.OptimizeRoute(ctx, "p1", model.RouteProblem{Vehicle: model.VehicleSnapshot{PartnerID: "p1"}})
	require.NoError(t, err)
	assert.Empty(t, plan.Stops)
	assert.Equal(t, "p1", plan.VehicleID)

	runs, err := fx.store.ListSolveRuns(ctx, "", 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestPlannerAssignsNearestPartner(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	res, err := fx.planner.OptimizeAssignment(ctx, "near", model.AssignmentProblem{
		Partners: []model.PartnerSnapshot{
			{PartnerID: "a", Lat: f(0), Lon: f(0), Online: true, MaxCapacity: 3},
			{PartnerID: "b", Lat: f(0), Lon: f(1), Online: true, MaxCapacity: 3},
		},
		Orders: []model.OrderSnapshot{
			{OrderID: "o1", Lat: f(0), Lon: f(0.001)},
			{OrderID: "o2", Lat: f(0), Lon: f(0.999)},
			{OrderID: "o3", Lat: f(0), Lon: f(1.001)},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"o1": "a", "o2": "b", "o3": "b"}, res.Assignments)
	assert.True(t, res.Score.Feasible)
	assert.NotEmpty(t, res.RunID)
	assert.Len(t, res.Constraints, 5)

	runs, err := fx.store.ListSolveRuns(ctx, KindAssignment, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "near", runs[0].ProblemID)
	assert.Equal(t, res.RunID, runs[0].RunID)
	assert.Equal(t, res.Score.Soft, runs[0].Soft)
}

func TestPlannerRejectsBrokenProblem(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.planner.OptimizeAssignment(context.Background(), "bad", model.AssignmentProblem{
		Partners: []model.PartnerSnapshot{{PartnerID: "a", Online: true, MaxCapacity: 0}},
		Orders:   []model.OrderSnapshot{{OrderID: "o1"}},
	})
	assert.Error(t, err)
}

func TestPlannerJobStatusUnknown(t *testing.T) {
	fx := newFixture(t)
	_, _, err := fx.planner.JobStatus(KindRoute, "nobody")
	assert.Error(t, err)
	_, _, err = fx.planner.JobStatus("weird", "x")
	assert.Error(t, err)
	assert.Error(t, fx.planner.CancelJob(KindAssignment, "nobody"))
	assert.Empty(t, fx.planner.Jobs()[KindAssignment])
}

func TestAssignReadyOrdersPersists(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.partner(t, "p1", model.PartnerOnline, true, &model.GeoPoint{Lat: 0, Lng: 0})
	fx.partner(t, "p2", model.PartnerOffline, true, &model.GeoPoint{Lat: 0, Lng: 0.001})
	fx.order(t, "o1", model.OrderReady, "", &model.GeoPoint{Lat: 0, Lng: 0.002})
	fx.order(t, "o2", model.OrderReady, "", &model.GeoPoint{Lat: 0, Lng: 0.003})
	fx.order(t, "o3", model.OrderPreparing, "", &model.GeoPoint{Lat: 0, Lng: 0.004})

	res, err := fx.service.AssignReadyOrders(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"o1": "p1", "o2": "p1"}, res.Assignments)

	for _, id := range []string{"o1", "o2"} {
		o, err := fx.store.GetOrder(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, model.OrderPickUp, o.Status)
		assert.Equal(t, "p1", o.PartnerID)
	}
	o3, err := fx.store.GetOrder(ctx, "o3")
	require.NoError(t, err)
	assert.Equal(t, model.OrderPreparing, o3.Status)

	// nothing left to assign
	res, err = fx.service.AssignReadyOrders(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Assignments)
}

func TestAssignRespectsCurrentLoad(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.partner(t, "p1", model.PartnerOnline, true, &model.GeoPoint{})
	for _, id := range []string{"a1", "a2", "a3"} {
		fx.order(t, id, model.OrderPickUp, "p1", &model.GeoPoint{})
	}
	fx.order(t, "o1", model.OrderReady, "", &model.GeoPoint{})

	prob, err := fx.service.BuildAssignmentProblem(ctx)
	require.NoError(t, err)
	require.Len(t, prob.Partners, 1)
	assert.Equal(t, 3, prob.Partners[0].CurrentLoad)

	res, err := fx.service.AssignReadyOrders(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Assignments)
	assert.Equal(t, []string{"o1"}, res.Unassigned)
	assert.False(t, res.Score.Feasible)
}

func TestPlanPartnerRouteStraightLine(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.partner(t, "p1", model.PartnerOnline, true, &model.GeoPoint{Lat: 0, Lng: 0})
	fx.order(t, "far", model.OrderPickUp, "p1", &model.GeoPoint{Lat: 0, Lng: 0.03})
	fx.order(t, "near", model.OrderPickUp, "p1", &model.GeoPoint{Lat: 0, Lng: 0.01})
	fx.order(t, "mid", model.OrderPickUp, "p1", &model.GeoPoint{Lat: 0, Lng: 0.02})
	fx.order(t, "other", model.OrderReady, "", &model.GeoPoint{Lat: 0, Lng: 0.05})

	plan, err := fx.service.PlanPartnerRoute(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, plan.Stops, 3)
	var got []string
	for i, s := range plan.Stops {
		got = append(got, s.OrderID)
		assert.Equal(t, i+1, s.Sequence)
	}
	assert.Equal(t, []string{"near", "mid", "far"}, got)
	assert.True(t, plan.Score.Feasible)

	_, err = fx.service.PlanPartnerRoute(ctx, "ghost")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPlanAllRoutes(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.partner(t, "p1", model.PartnerOnline, true, nil)
	fx.partner(t, "p2", model.PartnerBusy, true, &model.GeoPoint{Lat: 1, Lng: 1})
	fx.partner(t, "p3", model.PartnerOnline, true, nil)
	fx.order(t, "o1", model.OrderPickUp, "p2", &model.GeoPoint{Lat: 1, Lng: 1.01})
	fx.order(t, "o2", model.OrderPickUp, "p1", nil)
	fx.order(t, "o3", model.OrderPickUp, "p2", &model.GeoPoint{Lat: 1, Lng: 1.02})

	// o4 points at a partner that is not in the store
	fx.order(t, "o4", model.OrderPickUp, "gone", &model.GeoPoint{Lat: 2, Lng: 2})

	batch, err := fx.service.PlanAllRoutes(ctx)
	require.NoError(t, err)
	plans := batch.Routes
	require.Len(t, plans, 2)
	assert.Equal(t, "p1", plans[0].PartnerID)
	assert.Len(t, plans[0].Stops, 1)
	assert.Nil(t, plans[0].Stops[0].Lat)
	assert.Equal(t, "p2", plans[1].PartnerID)
	assert.Equal(t, "o1", plans[1].Stops[0].OrderID)

	require.Len(t, batch.Failures, 1)
	assert.Equal(t, "gone", batch.Failures[0].PartnerID)
	assert.Contains(t, batch.Failures[0].Error, store.ErrNotFound.Error())
}

func TestPlanAllRoutesCancelled(t *testing.T) {
	fx := newFixture(t)
	fx.partner(t, "p1", model.PartnerOnline, true, nil)
	fx.order(t, "o1", model.OrderPickUp, "p1", nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := fx.service.PlanAllRoutes(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStoreProblemIDsAreReserved(t *testing.T) {
	assert.True(t, ReservedProblemID(AssignmentProblemID))
	assert.True(t, ReservedProblemID(RouteProblemID("p1")))
	assert.False(t, ReservedProblemID("p1"))
	assert.False(t, ReservedProblemID("assignment"))
}

func TestAssignReadyOrdersIgnoresForeignPlacements(t *testing.T) {
	fx := newFixture(t, func(c *config.Config) { c.Solver.UnimprovedStepLimit = 0 })
	ctx := context.Background()
	fx.partner(t, "p1", model.PartnerOnline, true, &model.GeoPoint{Lat: 0, Lng: 0})
	fx.partner(t, "p2", model.PartnerOffline, true, &model.GeoPoint{Lat: 0, Lng: 0.01})
	fx.order(t, "o1", model.OrderReady, "", &model.GeoPoint{Lat: 0, Lng: 0.01})
	fx.order(t, "done", model.OrderDelivered, "", &model.GeoPoint{Lat: 0, Lng: 0.01})
	// p1 is already full, so no placement of o1 is acceptable either way
	for _, id := range []string{"a1", "a2", "a3"} {
		fx.order(t, id, model.OrderPickUp, "p1", &model.GeoPoint{})
	}

	// A long solve under the store id whose facts disagree with the store:
	// p2 is online and "done" is still open.
	snapshot := model.AssignmentProblem{
		TimeLimitMs: 800,
		Partners: []model.PartnerSnapshot{
			{PartnerID: "p2", Lat: f(0), Lon: f(0.01), Online: true, MaxCapacity: 3},
			{PartnerID: "p3", Lat: f(0), Lon: f(5), Online: true, MaxCapacity: 3},
		},
		Orders: []model.OrderSnapshot{
			{OrderID: "o1", Lat: f(0), Lon: f(0.01)},
			{OrderID: "done", Lat: f(0), Lon: f(0.01)},
		},
	}
	errc := make(chan error, 1)
	go func() {
		_, err := fx.planner.OptimizeAssignment(ctx, AssignmentProblemID, snapshot)
		errc <- err
	}()

	// poll the running job until it has a best solution
	require.Eventually(t, func() bool {
		_, best, err := fx.planner.JobStatus(KindAssignment, AssignmentProblemID)
		return err == nil && best != nil
	}, 700*time.Millisecond, 10*time.Millisecond)
	info, best, err := fx.planner.JobStatus(KindAssignment, AssignmentProblemID)
	require.NoError(t, err)
	assert.Equal(t, AssignmentProblemID, info.ID)
	require.IsType(t, model.AssignmentResult{}, best)

	res, err := fx.service.AssignReadyOrders(ctx)
	require.NoError(t, err)
	require.NoError(t, <-errc)
	assert.Empty(t, res.Assignments)
	assert.Equal(t, []string{"o1"}, res.Unassigned)

	o1, err := fx.store.GetOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, model.OrderReady, o1.Status)
	assert.Empty(t, o1.PartnerID)
	done, err := fx.store.GetOrder(ctx, "done")
	require.NoError(t, err)
	assert.Equal(t, model.OrderDelivered, done.Status)
	assert.Empty(t, done.PartnerID)
}

func TestETA(t *testing.T) {
	cfg := testConfig().Dispatch
	st := store.NewMemory()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	est := NewETAEstimator(st, cfg)
	est.now = func() time.Time { return now }

	_, err := st.UpsertPartner(ctx, model.Partner{ID: "p1", Status: model.PartnerOnline, Location: &model.GeoPoint{Lat: 0, Lng: 0}})
	require.NoError(t, err)
	// 0.18 degrees of longitude at the equator is about 20km
	_, err = st.UpsertOrder(ctx, model.Order{ID: "cooking", Status: model.OrderPreparing, PartnerID: "p1", Delivery: &model.GeoPoint{Lat: 0, Lng: 0.18}})
	require.NoError(t, err)
	picked := now.Add(-5 * time.Minute)
	_, err = st.UpsertOrder(ctx, model.Order{ID: "riding", Status: model.OrderPickUp, PartnerID: "p1", PickedUpAt: &picked, Delivery: &model.GeoPoint{Lat: 0, Lng: 0.18}})
	require.NoError(t, err)
	_, err = st.UpsertOrder(ctx, model.Order{ID: "orphan", Status: model.OrderReady})
	require.NoError(t, err)

	eta, err := est.Estimate(ctx, "cooking")
	require.NoError(t, err)
	assert.Equal(t, 15.0, eta.PrepMinutes)
	assert.InDelta(t, 20.0, eta.DistanceKm, 0.1)
	assert.InDelta(t, 20.0/18*60*1.2, eta.TravelMinutes, 0.5)
	assert.Equal(t, now.Add(15*time.Minute), eta.EstimatedPickupAt)
	assert.Equal(t, eta.EstimatedPickupAt.Add(80*time.Minute), eta.EstimatedDeliveryAt)

	eta, err = est.Estimate(ctx, "riding")
	require.NoError(t, err)
	assert.Zero(t, eta.PrepMinutes)
	assert.Equal(t, picked, eta.EstimatedPickupAt)

	_, err = est.Estimate(ctx, "orphan")
	assert.ErrorIs(t, err, ErrNoPartner)
	_, err = est.Estimate(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestTrackerBroadcastsToActiveOrders(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	b := broker.NewBroker()
	defer b.Close()
	cfg := testConfig().Dispatch
	cfg.LocationBurst = 1
	cfg.LocationRate = 0.001
	tr := NewTracker(st, b, cfg, zaptest.NewLogger(t))

	_, err := st.UpsertPartner(ctx, model.Partner{ID: "p1", Status: model.PartnerOnline})
	require.NoError(t, err)
	_, err = st.UpsertOrder(ctx, model.Order{ID: "o1", Status: model.OrderPickUp, PartnerID: "p1"})
	require.NoError(t, err)
	_, err = st.UpsertOrder(ctx, model.Order{ID: "o2", Status: model.OrderDelivered, PartnerID: "p1"})
	require.NoError(t, err)

	ch1, cancel1 := tr.Subscribe("o1")
	defer cancel1()
	ch2, cancel2 := tr.Subscribe("o2")
	defer cancel2()

	sent, err := tr.UpdateLocation(ctx, "p1", model.LocationUpdate{Lat: 3, Lng: 4})
	require.NoError(t, err)
	assert.Equal(t, 1, sent)

	select {
	case evt := <-ch1:
		assert.Equal(t, "o1", evt.OrderID)
		assert.Equal(t, "p1", evt.PartnerID)
		assert.Equal(t, 3.0, evt.Lat)
	case <-time.After(time.Second):
		t.Fatal("no event for active order")
	}
	select {
	case evt := <-ch2:
		t.Fatalf("unexpected event %+v", evt)
	default:
	}

	_, err = tr.UpdateLocation(ctx, "p1", model.LocationUpdate{Lat: 5, Lng: 6})
	assert.ErrorIs(t, err, ErrRateLimited)

	// other partners have their own budget
	_, err = tr.UpdateLocation(ctx, "ghost", model.LocationUpdate{})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestTrackerRouteInfo(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	tr := NewTracker(st, broker.NewBroker(), testConfig().Dispatch, nil)

	_, err := st.UpsertPartner(ctx, model.Partner{ID: "p1", Status: model.PartnerOnline})
	require.NoError(t, err)
	_, err = st.UpsertOrder(ctx, model.Order{ID: "o1", Status: model.OrderPickUp, PartnerID: "p1", Delivery: &model.GeoPoint{Lat: 1, Lng: 1}})
	require.NoError(t, err)
	_, err = st.UpsertOrder(ctx, model.Order{ID: "nodrop", Status: model.OrderPickUp, PartnerID: "p1"})
	require.NoError(t, err)
	_, err = st.UpsertOrder(ctx, model.Order{ID: "free", Status: model.OrderReady, Delivery: &model.GeoPoint{}})
	require.NoError(t, err)

	_, err = tr.RouteInfo(ctx, "o1")
	assert.ErrorIs(t, err, ErrNoLocation)
	_, err = tr.RouteInfo(ctx, "nodrop")
	assert.ErrorIs(t, err, ErrNoLocation)
	_, err = tr.RouteInfo(ctx, "free")
	assert.ErrorIs(t, err, ErrNoPartner)

	_, err = tr.UpdateLocation(ctx, "p1", model.LocationUpdate{Lat: 2, Lng: 2})
	require.NoError(t, err)
	info, err := tr.RouteInfo(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, &model.GeoPoint{Lat: 2, Lng: 2}, info.Partner)
	assert.Equal(t, &model.GeoPoint{Lat: 1, Lng: 1}, info.Delivery)
	assert.NotNil(t, info.LocatedAt)
}
