package opt

import (
	"context"
	"math/rand"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Model is a solution the driver can improve with moves of type M,
// snapshotting it as S.
type Model[M any, S any] interface {
	Construct()
	Score() Score
	Propose(rng *rand.Rand) (M, bool)
	Delta(M) (Score, error)
	Apply(M) error
	Snapshot() S
}

// Phase is the driver lifecycle state.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseInitializing
	PhaseImproving
	PhaseTerminated
)

func (p Phase) String() string {
	switch p {
	case PhaseInitializing:
		return "initializing"
	case PhaseImproving:
		return "improving"
	case PhaseTerminated:
		return "terminated"
	}
	return "idle"
}

// Termination says why a run stopped.
type Termination string

const (
	TerminatedTimeLimit      Termination = "time_limit"
	TerminatedIterationLimit Termination = "iteration_limit"
	TerminatedUnimproved     Termination = "unimproved_limit"
	TerminatedCancelled      Termination = "cancelled"
	TerminatedNoMoves        Termination = "no_moves"
)

// Config tunes one driver run. Zero values fall back to the defaults below.
type Config struct {
	TimeLimit           time.Duration
	IterationLimit      int
	UnimprovedStepLimit int
	SampleSize          int

	Acceptor           AcceptorKind
	LateAcceptanceSize int
	StartTemperature   float64
	Cooling            float64
	HardWeight         float64

	Seed   int64
	Logger *zap.Logger
}

const (
	DefaultTimeLimit          = 2 * time.Second
	DefaultSampleSize         = 8
	DefaultLateAcceptanceSize = 400
	DefaultStartTemperature   = 50
	DefaultCooling            = 0.995

	snapshotEvery = 50
)

func (c Config) withDefaults() Config {
	if c.TimeLimit <= 0 && c.IterationLimit <= 0 && c.UnimprovedStepLimit <= 0 {
		c.TimeLimit = DefaultTimeLimit
	}
	if c.SampleSize <= 0 {
		c.SampleSize = DefaultSampleSize
	}
	if c.Acceptor == "" {
		c.Acceptor = AcceptLateAcceptance
	}
	if c.LateAcceptanceSize <= 0 {
		c.LateAcceptanceSize = DefaultLateAcceptanceSize
	}
	if c.StartTemperature <= 0 {
		c.StartTemperature = DefaultStartTemperature
	}
	if c.Cooling <= 0 || c.Cooling >= 1 {
		c.Cooling = DefaultCooling
	}
	if c.Seed == 0 {
		c.Seed = time.Now().UnixNano()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

func (c Config) newAcceptor() Acceptor {
	switch c.Acceptor {
	case AcceptSimulatedAnnealing:
		return &SimulatedAnnealing{StartTemperature: c.StartTemperature, Cooling: c.Cooling, HardWeight: c.HardWeight}
	case AcceptHillClimbing:
		return hillClimbing{}
	}
	return &LateAcceptance{Size: c.LateAcceptanceSize}
}

// ScoreSnapshot records best and current score at an iteration.
type ScoreSnapshot struct {
	Iteration int   `json:"iteration"`
	Best      Score `json:"best"`
	Current   Score `json:"current"`
}

type Metrics struct {
	Iterations     int             `json:"iterations"`
	MovesEvaluated int             `json:"movesEvaluated"`
	Improvements   int             `json:"improvements"`
	AcceptedWorse  int             `json:"acceptedWorse"`
	Rejected       int             `json:"rejected"`
	InitialScore   Score           `json:"initialScore"`
	BestScore      Score           `json:"bestScore"`
	FinalScore     Score           `json:"finalScore"`
	Elapsed        time.Duration   `json:"elapsed"`
	Snapshots      []ScoreSnapshot `json:"snapshots,omitempty"`
}

// Result is the outcome of a run: the best solution ever seen, not the
// last accepted one. Best may be infeasible; check Score.Feasible.
type Result[S any] struct {
	Best        S           `json:"best"`
	Score       Score       `json:"score"`
	Metrics     Metrics     `json:"metrics"`
	Termination Termination `json:"termination"`
}

// Driver runs construction followed by local search on one model. A driver
// is single-use and owns its model for the duration of Run.
type Driver[M any, S any] struct {
	cfg    Config
	model  Model[M, S]
	phase  atomic.Int32
	onBest func(S, Score)
}

func NewDriver[M any, S any](model Model[M, S], cfg Config) *Driver[M, S] {
	return &Driver[M, S]{cfg: cfg.withDefaults(), model: model}
}

// OnBestSolution registers fn to receive a snapshot every time the best score improves.
func (d *Driver[M, S]) OnBestSolution(fn func(S, Score)) { d.onBest = fn }

func (d *Driver[M, S]) Phase() Phase { return Phase(d.phase.Load()) }

func (d *Driver[M, S]) setPhase(p Phase) {
	d.phase.Store(int32(p))
	d.cfg.Logger.Debug("solver phase", zap.Stringer("phase", p))
}

func (d *Driver[M, S]) publish(s S, sc Score) {
	if d.onBest != nil {
		d.onBest(s, sc)
	}
}

// Run searches until a limit is hit or ctx is done and returns the best
// solution found. Cancellation is not an error.
func (d *Driver[M, S]) Run(ctx context.Context) Result[S] {
	cfg := d.cfg
	start := time.Now()
	var deadline time.Time
	if cfg.TimeLimit > 0 {
		deadline = start.Add(cfg.TimeLimit)
	}
	rng := rand.New(rand.NewSource(cfg.Seed))

	d.setPhase(PhaseInitializing)
	d.model.Construct()
	current := d.model.Score()
	best := current
	bestSol := d.model.Snapshot()
	d.publish(bestSol, best)
	m := Metrics{InitialScore: current, BestScore: best}

	d.setPhase(PhaseImproving)
	acc := cfg.newAcceptor()
	acc.Start(current)
	var reason Termination
	unimproved := 0
	for {
		if ctx.Err() != nil {
			reason = TerminatedCancelled
			break
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			reason = TerminatedTimeLimit
			break
		}
		if cfg.IterationLimit > 0 && m.Iterations >= cfg.IterationLimit {
			reason = TerminatedIterationLimit
			break
		}
		if cfg.UnimprovedStepLimit > 0 && unimproved >= cfg.UnimprovedStepLimit {
			reason = TerminatedUnimproved
			break
		}
		m.Iterations++

		var (
			move  M
			delta Score
			found bool
		)
		for i := 0; i < cfg.SampleSize; i++ {
			mv, ok := d.model.Propose(rng)
			if !ok {
				continue
			}
			dl, err := d.model.Delta(mv)
			if err != nil {
				continue
			}
			m.MovesEvaluated++
			if !found || dl.BetterThan(delta) {
				move, delta, found = mv, dl, true
			}
		}
		if !found {
			reason = TerminatedNoMoves
			break
		}

		next := current.Add(delta)
		if next.BetterThan(current) || acc.Accept(current, next, rng) {
			if err := d.model.Apply(move); err != nil {
				cfg.Logger.Warn("apply move", zap.Error(err))
				m.Rejected++
				unimproved++
			} else {
				if !next.BetterThan(current) {
					m.AcceptedWorse++
				}
				current = d.model.Score()
				if current.BetterThan(best) {
					best = current
					bestSol = d.model.Snapshot()
					m.Improvements++
					unimproved = 0
					d.publish(bestSol, best)
				} else {
					unimproved++
				}
			}
		} else {
			m.Rejected++
			unimproved++
		}
		acc.StepEnded(current)

		if m.Iterations%snapshotEvery == 0 {
			m.Snapshots = append(m.Snapshots, ScoreSnapshot{Iteration: m.Iterations, Best: best, Current: current})
		}
	}

	m.BestScore = best
	m.FinalScore = current
	m.Elapsed = time.Since(start)
	d.setPhase(PhaseTerminated)
	cfg.Logger.Info("solver terminated",
		zap.String("reason", string(reason)),
		zap.Int("iterations", m.Iterations),
		zap.Stringer("best", best),
		zap.Duration("elapsed", m.Elapsed))
	return Result[S]{Best: bestSol, Score: best, Metrics: m, Termination: reason}
}

// SolveAssignment constructs and improves sol in place and returns the best snapshot.
func SolveAssignment(ctx context.Context, sol *AssignmentSolution, cfg Config, onBest func(*AssignmentSolution, Score)) Result[*AssignmentSolution] {
	d := NewDriver[ChangeMove, *AssignmentSolution](newAssignmentModel(sol), cfg)
	d.OnBestSolution(onBest)
	return d.Run(ctx)
}

// SolveRoutePlan constructs and improves sol in place and returns the best snapshot.
func SolveRoutePlan(ctx context.Context, sol *RoutePlanSolution, cfg Config, onBest func(*RoutePlanSolution, Score)) Result[*RoutePlanSolution] {
	d := NewDriver[RouteMove, *RoutePlanSolution](newRouteModel(sol), cfg)
	d.OnBestSolution(onBest)
	return d.Run(ctx)
}
