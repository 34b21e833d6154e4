package opt

import "math/rand"

const proposeAttempts = 10

// routeModel adapts a RoutePlanSolution to the search driver.
type routeModel struct {
	sol    *RoutePlanSolution
	scorer *RouteScorer
}

func newRouteModel(sol *RoutePlanSolution) *routeModel {
	return &routeModel{sol: sol, scorer: NewRouteScorer(sol)}
}

func (m *routeModel) Score() Score { return m.scorer.Score() }

// Construct inserts every unassigned stop, in stop order, at the chain
// position with the cheapest delta.
func (m *routeModel) Construct() {
	if len(m.sol.Vehicles) == 0 {
		return
	}
	for s := range m.sol.Stops {
		if m.sol.vehicle[s] != Unassigned {
			continue
		}
		var (
			best      RouteMove
			bestDelta Score
		)
		for _, to := range m.sol.PossiblePredecessors() {
			mv := RelocateMove{Stop: s, To: to}
			d, err := m.scorer.Delta(mv)
			if err != nil {
				continue
			}
			if best == nil || d.BetterThan(bestDelta) {
				best, bestDelta = mv, d
			}
		}
		if best != nil {
			_ = m.scorer.Apply(best)
		}
	}
}

func (m *routeModel) randomTarget(rng *rand.Rand) Standstill {
	nv, ns := len(m.sol.Vehicles), len(m.sol.Stops)
	k := rng.Intn(nv + ns)
	if k < nv {
		return VehicleAt(k)
	}
	return StopAt(k - nv)
}

// Propose draws a relocate, swap or tail-chain move, retrying a few times
// until the draw is structurally legal.
func (m *routeModel) Propose(rng *rand.Rand) (RouteMove, bool) {
	ns := len(m.sol.Stops)
	if ns == 0 || len(m.sol.Vehicles) == 0 {
		return nil, false
	}
	for attempt := 0; attempt < proposeAttempts; attempt++ {
		var mv RouteMove
		switch k := rng.Intn(10); {
		case k < 5:
			mv = RelocateMove{Stop: rng.Intn(ns), To: m.randomTarget(rng)}
		case k < 8:
			if ns < 2 {
				continue
			}
			mv = SwapMove{A: rng.Intn(ns), B: rng.Intn(ns)}
		default:
			mv = TailChainMove{Stop: rng.Intn(ns), To: m.randomTarget(rng)}
		}
		if _, err := mv.compile(m.sol, m.scorer.buf); err == nil {
			return mv, true
		}
	}
	return nil, false
}

func (m *routeModel) Delta(mv RouteMove) (Score, error) { return m.scorer.Delta(mv) }

func (m *routeModel) Apply(mv RouteMove) error { return m.scorer.Apply(mv) }

func (m *routeModel) Snapshot() *RoutePlanSolution { return m.sol.Clone() }
