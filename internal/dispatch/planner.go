package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"courieropt/internal/config"
	"courieropt/internal/metrics"
	"courieropt/internal/model"
	"courieropt/internal/opt"
	"courieropt/internal/store"
)

const (
	KindAssignment = "assignment"
	KindRoute      = "route"
)

type (
	AssignmentRun = opt.Result[*opt.AssignmentSolution]
	RouteRun      = opt.Result[*opt.RoutePlanSolution]
)

// Planner turns snapshots into solver problems, runs them through the solve
// managers and projects the best solutions back into plain results.
type Planner struct {
	solver config.SolverConfig
	runs   store.Store
	log    *zap.Logger

	assignments *opt.Manager[AssignmentRun]
	routes      *opt.Manager[RouteRun]
}

// NewPlanner starts one manager per problem kind. runs may be nil, in which
// case solve history is not persisted.
func NewPlanner(cfg config.SolverConfig, runs store.Store, log *zap.Logger) *Planner {
	if log == nil {
		log = zap.NewNop()
	}
	opts := func(name string) opt.ManagerOptions {
		return opt.ManagerOptions{
			Name:      name,
			Workers:   cfg.Workers,
			QueueSize: cfg.QueueSize,
			Duplicate: cfg.DuplicatePolicy(),
			Logger:    log,
		}
	}
	return &Planner{
		solver:      cfg,
		runs:        runs,
		log:         log,
		assignments: opt.NewManager[AssignmentRun](opts(KindAssignment)),
		routes:      opt.NewManager[RouteRun](opts(KindRoute)),
	}
}

func (p *Planner) Close(ctx context.Context) error {
	return errors.Join(p.assignments.Close(ctx), p.routes.Close(ctx))
}

func snapshotLocation(lat, lon *float64) *opt.Location {
	if lat == nil || lon == nil {
		return nil
	}
	return &opt.Location{Lat: *lat, Lng: *lon}
}

func (p *Planner) budget(ms int, fallback time.Duration) time.Duration {
	if ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}

// OptimizeAssignment solves prob under problemID and blocks until the result
// is ready or ctx is done. No orders or no partners yields an empty result
// without a solve.
func (p *Planner) OptimizeAssignment(ctx context.Context, problemID string, prob model.AssignmentProblem) (model.AssignmentResult, error) {
	if len(prob.Orders) == 0 || len(prob.Partners) == 0 {
		res := model.AssignmentResult{Assignments: map[string]string{}}
		for _, o := range prob.Orders {
			res.Unassigned = append(res.Unassigned, o.OrderID)
		}
		return res, nil
	}
	partners := make([]opt.PartnerFact, len(prob.Partners))
	for i, ps := range prob.Partners {
		partners[i] = opt.PartnerFact{
			ID:          ps.PartnerID,
			Location:    snapshotLocation(ps.Lat, ps.Lon),
			Online:      ps.Online,
			CurrentLoad: ps.CurrentLoad,
			MaxCapacity: ps.MaxCapacity,
		}
	}
	entities := make([]opt.AssignmentEntity, len(prob.Orders))
	for i, o := range prob.Orders {
		entities[i] = opt.AssignmentEntity{OrderID: o.OrderID, Location: snapshotLocation(o.Lat, o.Lon)}
	}
	sol, err := opt.NewAssignmentSolution(partners, entities, prob.AllowUnassigned || p.solver.AllowUnassigned)
	if err != nil {
		return model.AssignmentResult{}, fmt.Errorf("build assignment problem: %w", err)
	}

	cfg := p.solver.OptConfig(p.budget(prob.TimeLimitMs, p.solver.AssignmentTimeLimit))
	cfg.Logger = p.log.With(zap.String("kind", KindAssignment), zap.String("problem", problemID))
	job, err := p.assignments.Submit(problemID, func(ctx context.Context, progress func(AssignmentRun, opt.Score)) (AssignmentRun, opt.Score, error) {
		res := opt.SolveAssignment(ctx, sol, cfg, func(best *opt.AssignmentSolution, sc opt.Score) {
			progress(AssignmentRun{Best: best, Score: sc}, sc)
		})
		p.record(ctx, KindAssignment, problemID, res.Score, res.Metrics, res.Termination)
		return res, res.Score, nil
	})
	if err != nil {
		return model.AssignmentResult{}, fmt.Errorf("submit assignment %s: %w", problemID, err)
	}
	run, _, err := job.Wait(ctx)
	if err != nil {
		p.observeFailure(KindAssignment, err)
		return model.AssignmentResult{}, fmt.Errorf("solve assignment %s: %w", problemID, err)
	}
	return projectAssignment(job.RunID(), run), nil
}

func projectAssignment(runID string, run AssignmentRun) model.AssignmentResult {
	assigned, unassigned := run.Best.Assignments()
	return model.AssignmentResult{
		RunID:       runID,
		Assignments: assigned,
		Unassigned:  unassigned,
		Score:       scoreSummary(run.Score),
		Constraints: constraintSummaries(opt.ExplainAssignment(run.Best)),
		Iterations:  run.Metrics.Iterations,
		Termination: string(run.Termination),
	}
}

// OptimizeRoute sequences the stops of one vehicle. No stops yields an empty
// plan without a solve.
func (p *Planner) OptimizeRoute(ctx context.Context, problemID string, prob model.RouteProblem) (model.RoutePlan, error) {
	vs := prob.Vehicle
	if vs.VehicleID == "" {
		vs.VehicleID = vs.PartnerID
	}
	empty := model.RoutePlan{PartnerID: vs.PartnerID, VehicleID: vs.VehicleID, Stops: []model.RouteStop{}}
	if len(prob.Stops) == 0 {
		return empty, nil
	}
	vehicles := []opt.Vehicle{{
		ID:        vs.VehicleID,
		PartnerID: vs.PartnerID,
		Start:     opt.Location{Lat: vs.StartLat, Lng: vs.StartLon},
		Capacity:  vs.Capacity,
	}}
	stops := make([]opt.Stop, len(prob.Stops))
	for i, s := range prob.Stops {
		stops[i] = opt.Stop{OrderID: s.OrderID, Location: snapshotLocation(s.Lat, s.Lon)}
	}
	sol, err := opt.NewRoutePlanSolution(vehicles, stops)
	if err != nil {
		return model.RoutePlan{}, fmt.Errorf("build route problem: %w", err)
	}

	limit := p.budget(prob.TimeLimitMs, p.solver.RouteTimeLimit)
	if limit < config.MinRouteTimeLimit {
		limit = config.MinRouteTimeLimit
	}
	cfg := p.solver.OptConfig(limit)
	cfg.Logger = p.log.With(zap.String("kind", KindRoute), zap.String("problem", problemID))
	job, err := p.routes.Submit(problemID, func(ctx context.Context, progress func(RouteRun, opt.Score)) (RouteRun, opt.Score, error) {
		res := opt.SolveRoutePlan(ctx, sol, cfg, func(best *opt.RoutePlanSolution, sc opt.Score) {
			progress(RouteRun{Best: best, Score: sc}, sc)
		})
		p.record(ctx, KindRoute, problemID, res.Score, res.Metrics, res.Termination)
		return res, res.Score, nil
	})
	if err != nil {
		return model.RoutePlan{}, fmt.Errorf("submit route %s: %w", problemID, err)
	}
	run, _, err := job.Wait(ctx)
	if err != nil {
		p.observeFailure(KindRoute, err)
		return model.RoutePlan{}, fmt.Errorf("solve route %s: %w", problemID, err)
	}
	return projectRoute(job.RunID(), run), nil
}

func projectRoute(runID string, run RouteRun) model.RoutePlan {
	best := run.Best
	v := best.Vehicles[0]
	plan := model.RoutePlan{
		RunID:       runID,
		PartnerID:   v.PartnerID,
		VehicleID:   v.ID,
		Stops:       []model.RouteStop{},
		Score:       scoreSummary(run.Score),
		Constraints: constraintSummaries(opt.ExplainRoutePlan(best)),
		Iterations:  run.Metrics.Iterations,
		Termination: string(run.Termination),
	}
	for i, idx := range best.Sequence(0) {
		s := best.Stops[idx]
		rs := model.RouteStop{OrderID: s.OrderID, Sequence: i + 1}
		if s.Location != nil {
			lat, lng := s.Location.Lat, s.Location.Lng
			rs.Lat, rs.Lng = &lat, &lng
		}
		plan.Stops = append(plan.Stops, rs)
	}
	return plan
}

// JobStatus reports the in-flight solve for kind and id along with the
// projection of its best solution so far. best is nil until the job has
// constructed a first solution.
func (p *Planner) JobStatus(kind, id string) (opt.JobInfo, any, error) {
	switch kind {
	case KindAssignment:
		run, _, err := p.assignments.BestSolution(id)
		if err != nil {
			return opt.JobInfo{}, nil, fmt.Errorf("job %s/%s: %w", kind, id, err)
		}
		j, ok := p.assignments.Job(id)
		if !ok {
			return opt.JobInfo{}, nil, fmt.Errorf("%w: %s/%s", opt.ErrJobNotFound, kind, id)
		}
		if run.Best == nil {
			return j.Info(), nil, nil
		}
		return j.Info(), projectAssignment(j.RunID(), run), nil
	case KindRoute:
		run, _, err := p.routes.BestSolution(id)
		if err != nil {
			return opt.JobInfo{}, nil, fmt.Errorf("job %s/%s: %w", kind, id, err)
		}
		j, ok := p.routes.Job(id)
		if !ok {
			return opt.JobInfo{}, nil, fmt.Errorf("%w: %s/%s", opt.ErrJobNotFound, kind, id)
		}
		if run.Best == nil {
			return j.Info(), nil, nil
		}
		return j.Info(), projectRoute(j.RunID(), run), nil
	}
	return opt.JobInfo{}, nil, fmt.Errorf("%w: unknown kind %q", opt.ErrJobNotFound, kind)
}

// CancelJob asks the in-flight solve for kind and id to stop early.
func (p *Planner) CancelJob(kind, id string) error {
	switch kind {
	case KindAssignment:
		return p.assignments.Cancel(id)
	case KindRoute:
		return p.routes.Cancel(id)
	}
	return fmt.Errorf("%w: unknown kind %q", opt.ErrJobNotFound, kind)
}

// Jobs lists the in-flight solves of both kinds.
func (p *Planner) Jobs() map[string][]opt.JobInfo {
	return map[string][]opt.JobInfo{
		KindAssignment: p.assignments.Jobs(),
		KindRoute:      p.routes.Jobs(),
	}
}

func (p *Planner) observeFailure(kind string, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}
	metrics.SolveJobs.WithLabelValues(kind, "error").Inc()
}

// record runs once per solve, inside the job, whatever number of callers joined it.
func (p *Planner) record(ctx context.Context, kind, problemID string, sc opt.Score, m opt.Metrics, term opt.Termination) {
	outcome := "feasible"
	if !sc.Feasible() {
		outcome = "infeasible"
	}
	metrics.ObserveSolve(kind, outcome, m.Elapsed.Seconds(), m.Iterations, sc.Hard, sc.Soft)
	if p.runs == nil {
		return
	}
	_, err := p.runs.RecordSolveRun(context.WithoutCancel(ctx), model.SolveRun{
		Kind:        kind,
		ProblemID:   problemID,
		RunID:       opt.RunIDFromContext(ctx),
		Hard:        sc.Hard,
		Soft:        sc.Soft,
		Feasible:    sc.Feasible(),
		Iterations:  m.Iterations,
		ElapsedMs:   m.Elapsed.Milliseconds(),
		Termination: string(term),
	})
	if err != nil {
		p.log.Warn("record solve run", zap.String("kind", kind), zap.String("problem", problemID), zap.Error(err))
	}
}

func scoreSummary(sc opt.Score) model.ScoreSummary {
	return model.ScoreSummary{Hard: sc.Hard, Soft: sc.Soft, Feasible: sc.Feasible(), Text: sc.String()}
}

func constraintSummaries(totals []opt.ConstraintTotal) []model.ConstraintSummary {
	out := make([]model.ConstraintSummary, 0, len(totals))
	for _, t := range totals {
		out = append(out, model.ConstraintSummary{
			Name: t.Name, Level: t.Level, Matches: t.Matches, Hard: t.Score.Hard, Soft: t.Score.Soft,
		})
	}
	return out
}
