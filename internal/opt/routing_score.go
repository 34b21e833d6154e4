package opt

// routeRule is one row of the routing rule table. Stop rules score a stop
// given its predecessor and vehicle; vehicle rules score a vehicle by the
// number of stops on its chain.
type routeRule struct {
	name    string
	level   Level
	stop    func(r *RoutePlanSolution, stop int, prev Standstill, vehicle int) int64
	vehicle func(v *Vehicle, stops int) int64
}

var routeRules = [...]routeRule{
	{
		name:  "Vehicle capacity",
		level: LevelHard,
		vehicle: func(v *Vehicle, stops int) int64 {
			if stops > v.Capacity {
				return 1
			}
			return 0
		},
	},
	{
		name:  "All stops assigned",
		level: LevelHard,
		stop: func(_ *RoutePlanSolution, _ int, _ Standstill, vehicle int) int64 {
			if vehicle == Unassigned {
				return 1
			}
			return 0
		},
	},
	{
		name:  "Minimize travel distance",
		level: LevelSoft,
		stop: func(r *RoutePlanSolution, stop int, prev Standstill, _ int) int64 {
			return distancePenalty(r.locationOf(prev), r.Stops[stop].Location)
		},
	},
}

func stopScore(r *RoutePlanSolution, stop int, prev Standstill, vehicle int) Score {
	var s Score
	for i := range routeRules {
		rule := &routeRules[i]
		if rule.stop != nil {
			s = s.Add(rule.level.penalize(rule.stop(r, stop, prev, vehicle)))
		}
	}
	return s
}

func vehicleScore(v *Vehicle, stops int) Score {
	var s Score
	if stops == 0 {
		return s
	}
	for i := range routeRules {
		rule := &routeRules[i]
		if rule.vehicle != nil {
			s = s.Add(rule.level.penalize(rule.vehicle(v, stops)))
		}
	}
	return s
}

func stopCounts(r *RoutePlanSolution) []int {
	counts := make([]int, len(r.Vehicles))
	for _, v := range r.vehicle {
		if v != Unassigned {
			counts[v]++
		}
	}
	return counts
}

// ScoreRoutePlan recomputes the score of r from scratch.
func ScoreRoutePlan(r *RoutePlanSolution) Score {
	var s Score
	for i := range r.Stops {
		s = s.Add(stopScore(r, i, r.prev[i], r.vehicle[i]))
	}
	for i, n := range stopCounts(r) {
		s = s.Add(vehicleScore(&r.Vehicles[i], n))
	}
	return s
}

// ExplainRoutePlan breaks the score of r down per rule.
func ExplainRoutePlan(r *RoutePlanSolution) []ConstraintTotal {
	out := make([]ConstraintTotal, len(routeRules))
	counts := stopCounts(r)
	for i := range routeRules {
		rule := &routeRules[i]
		t := ConstraintTotal{Name: rule.name, Level: rule.level.String()}
		if rule.stop != nil {
			for j := range r.Stops {
				if n := rule.stop(r, j, r.prev[j], r.vehicle[j]); n != 0 {
					t.Matches++
					t.Score = t.Score.Add(rule.level.penalize(n))
				}
			}
		} else {
			for j, c := range counts {
				if c == 0 {
					continue
				}
				if n := rule.vehicle(&r.Vehicles[j], c); n != 0 {
					t.Matches++
					t.Score = t.Score.Add(rule.level.penalize(n))
				}
			}
		}
		out[i] = t
	}
	return out
}

type vehicleDelta struct {
	vehicle int
	diff    int
}

// RouteScorer keeps the running score and per-vehicle stop counts so a move
// only re-scores the stops it changes and the vehicles they leave or join.
type RouteScorer struct {
	sol     *RoutePlanSolution
	counts  []int
	total   Score
	buf     []stopChange
	touched []vehicleDelta
}

func NewRouteScorer(r *RoutePlanSolution) *RouteScorer {
	sc := &RouteScorer{sol: r}
	sc.Reset()
	return sc
}

// Reset rebuilds the caches from the solution.
func (sc *RouteScorer) Reset() {
	sc.counts = stopCounts(sc.sol)
	sc.total = ScoreRoutePlan(sc.sol)
	sc.sol.Score = sc.total
}

func (sc *RouteScorer) Score() Score { return sc.total }

func (sc *RouteScorer) touch(v, diff int) {
	if v == Unassigned {
		return
	}
	for i := range sc.touched {
		if sc.touched[i].vehicle == v {
			sc.touched[i].diff += diff
			return
		}
	}
	sc.touched = append(sc.touched, vehicleDelta{vehicle: v, diff: diff})
}

func (sc *RouteScorer) delta(changes []stopChange) Score {
	var d Score
	sc.touched = sc.touched[:0]
	r := sc.sol
	for _, c := range changes {
		oldPrev, oldVeh := r.prev[c.stop], r.vehicle[c.stop]
		d = d.Add(stopScore(r, c.stop, c.prev, c.vehicle)).Sub(stopScore(r, c.stop, oldPrev, oldVeh))
		if oldVeh != c.vehicle {
			sc.touch(oldVeh, -1)
			sc.touch(c.vehicle, 1)
		}
	}
	for _, t := range sc.touched {
		if t.diff == 0 {
			continue
		}
		v, n := &r.Vehicles[t.vehicle], sc.counts[t.vehicle]
		d = d.Add(vehicleScore(v, n+t.diff)).Sub(vehicleScore(v, n))
	}
	return d
}

// Delta returns the score change m would cause without mutating the solution.
func (sc *RouteScorer) Delta(m RouteMove) (Score, error) {
	changes, err := m.compile(sc.sol, sc.buf)
	if err != nil {
		return Score{}, err
	}
	sc.buf = changes
	return sc.delta(changes), nil
}

// Apply performs m and updates the running score.
func (sc *RouteScorer) Apply(m RouteMove) error {
	changes, err := m.compile(sc.sol, sc.buf)
	if err != nil {
		return err
	}
	sc.buf = changes
	d := sc.delta(changes)
	for _, t := range sc.touched {
		sc.counts[t.vehicle] += t.diff
	}
	sc.sol.apply(changes)
	sc.total = sc.total.Add(d)
	sc.sol.Score = sc.total
	return nil
}
