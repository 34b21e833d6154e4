package opt

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestBestScoreNeverRegresses(t *testing.T) {
	for _, kind := range []AcceptorKind{AcceptLateAcceptance, AcceptSimulatedAnnealing} {
		rng := rand.New(rand.NewSource(21))
		sol := newRoutePlan(t, rng, 3, 25, 6)
		var seen []Score
		d := NewDriver[RouteMove, *RoutePlanSolution](newRouteModel(sol), Config{
			IterationLimit:   3000,
			Acceptor:         kind,
			StartTemperature: 5000,
			Seed:             8,
			Logger:           zaptest.NewLogger(t),
		})
		d.OnBestSolution(func(s *RoutePlanSolution, sc Score) {
			require.Equal(t, sc, ScoreRoutePlan(s))
			seen = append(seen, sc)
		})
		res := d.Run(context.Background())

		require.NotEmpty(t, seen)
		for i := 1; i < len(seen); i++ {
			assert.True(t, seen[i].BetterThan(seen[i-1]), "%s: best went %s -> %s", kind, seen[i-1], seen[i])
		}
		assert.Equal(t, seen[len(seen)-1], res.Score)
		assert.Equal(t, ScoreRoutePlan(res.Best), res.Score)
		require.NoError(t, res.Best.Validate())

		for i := 1; i < len(res.Metrics.Snapshots); i++ {
			prev, cur := res.Metrics.Snapshots[i-1], res.Metrics.Snapshots[i]
			assert.GreaterOrEqual(t, cur.Best.Compare(prev.Best), 0)
			assert.GreaterOrEqual(t, cur.Best.Compare(cur.Current), 0)
		}
		assert.Equal(t, TerminatedIterationLimit, res.Termination)
		assert.Equal(t, 3000, res.Metrics.Iterations)
		assert.Equal(t, PhaseTerminated, d.Phase())
	}
}

func TestCancelledRunReturnsConstructedSolution(t *testing.T) {
	sol := newRoutePlan(t, rand.New(rand.NewSource(5)), 2, 6, 10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := SolveRoutePlan(ctx, sol, Config{TimeLimit: time.Minute}, nil)
	assert.Equal(t, TerminatedCancelled, res.Termination)
	assert.Zero(t, res.Metrics.Iterations)
	assert.True(t, res.Score.Feasible())
	total := 0
	for v := range res.Best.Vehicles {
		total += len(res.Best.Sequence(v))
	}
	assert.Equal(t, 6, total)
}

func TestTimeLimitStopsRun(t *testing.T) {
	sol := newRoutePlan(t, rand.New(rand.NewSource(6)), 2, 10, 10)
	start := time.Now()
	res := SolveRoutePlan(context.Background(), sol, Config{TimeLimit: 50 * time.Millisecond}, nil)
	assert.Equal(t, TerminatedTimeLimit, res.Termination)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestUnimprovedLimit(t *testing.T) {
	sol := newRoutePlan(t, rand.New(rand.NewSource(6)), 1, 5, 10)
	res := SolveRoutePlan(context.Background(), sol, Config{UnimprovedStepLimit: 200, Acceptor: AcceptHillClimbing, Seed: 4}, nil)
	assert.Equal(t, TerminatedUnimproved, res.Termination)
}

func TestNoMovesTerminatesImmediately(t *testing.T) {
	sol, err := NewRoutePlanSolution([]Vehicle{{ID: "v", Capacity: 1}}, []Stop{{OrderID: "a", Location: loc(0, 0.01)}})
	require.NoError(t, err)
	res := SolveRoutePlan(context.Background(), sol, Config{TimeLimit: time.Minute}, nil)
	assert.Equal(t, TerminatedNoMoves, res.Termination)
	assert.Equal(t, []int{0}, res.Best.Sequence(0))
}

func TestLateAcceptance(t *testing.T) {
	a := &LateAcceptance{Size: 2}
	a.Start(Score{Soft: -10})
	rng := rand.New(rand.NewSource(1))

	assert.True(t, a.Accept(Score{Soft: -5}, Score{Soft: -8}, rng), "no worse than the late score")
	assert.False(t, a.Accept(Score{Soft: -5}, Score{Soft: -11}, rng))
	a.StepEnded(Score{Soft: -5})
	a.StepEnded(Score{Soft: -5})
	assert.False(t, a.Accept(Score{Soft: -5}, Score{Soft: -8}, rng))
	assert.True(t, a.Accept(Score{Soft: -5}, Score{Soft: -5}, rng))
}

func TestSimulatedAnnealingCoolsDown(t *testing.T) {
	a := &SimulatedAnnealing{StartTemperature: 1e6, Cooling: 0.5}
	a.Start(Score{})
	rng := rand.New(rand.NewSource(1))
	assert.True(t, a.Accept(Score{}, Score{Soft: -1}, rng))
	for i := 0; i < 200; i++ {
		a.StepEnded(Score{})
	}
	assert.False(t, a.Accept(Score{}, Score{Soft: -1}, rng))
	assert.True(t, a.Accept(Score{Soft: -1}, Score{}, rng))
}

func TestParseAcceptorKind(t *testing.T) {
	k, err := ParseAcceptorKind("")
	require.NoError(t, err)
	assert.Equal(t, AcceptLateAcceptance, k)
	_, err = ParseAcceptorKind("tabu")
	assert.Error(t, err)
}
