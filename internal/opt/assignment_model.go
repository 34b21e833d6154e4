package opt

import "math/rand"

// assignmentModel adapts an AssignmentSolution to the search driver.
type assignmentModel struct {
	sol    *AssignmentSolution
	scorer *AssignmentScorer
}

func newAssignmentModel(sol *AssignmentSolution) *assignmentModel {
	return &assignmentModel{sol: sol, scorer: NewAssignmentScorer(sol)}
}

func (m *assignmentModel) Score() Score { return m.scorer.Score() }

// Construct places every unassigned entity, in entity order, on the partner
// with the cheapest delta. Staying unassigned competes only when allowed.
func (m *assignmentModel) Construct() {
	if len(m.sol.Partners) == 0 {
		return
	}
	for i := range m.sol.Entities {
		if m.sol.Entities[i].partner != Unassigned {
			continue
		}
		best := ChangeMove{Entity: i, Partner: Unassigned}
		var bestDelta Score
		found := m.sol.AllowUnassigned
		for p := range m.sol.Partners {
			mv := ChangeMove{Entity: i, Partner: p}
			d, err := m.scorer.Delta(mv)
			if err != nil {
				continue
			}
			if !found || d.BetterThan(bestDelta) {
				best, bestDelta, found = mv, d, true
			}
		}
		if best.Partner != Unassigned {
			_ = m.scorer.Apply(best)
		}
	}
}

// Propose draws a random entity and a random different value for it.
func (m *assignmentModel) Propose(rng *rand.Rand) (ChangeMove, bool) {
	n := len(m.sol.Entities)
	if n == 0 {
		return ChangeMove{}, false
	}
	options := len(m.sol.Partners)
	if m.sol.AllowUnassigned {
		options++
	}
	if options < 2 {
		// A lone value can only differ from an unassigned entity.
		i := rng.Intn(n)
		if options == 1 && m.sol.Entities[i].partner == Unassigned && len(m.sol.Partners) == 1 {
			return ChangeMove{Entity: i, Partner: 0}, true
		}
		return ChangeMove{}, false
	}
	i := rng.Intn(n)
	cur := m.sol.Entities[i].partner
	if cur == Unassigned {
		cur = len(m.sol.Partners)
	}
	k := rng.Intn(options - 1)
	if k >= cur {
		k++
	}
	if k == len(m.sol.Partners) {
		k = Unassigned
	}
	return ChangeMove{Entity: i, Partner: k}, true
}

func (m *assignmentModel) Delta(mv ChangeMove) (Score, error) { return m.scorer.Delta(mv) }

func (m *assignmentModel) Apply(mv ChangeMove) error { return m.scorer.Apply(mv) }

func (m *assignmentModel) Snapshot() *AssignmentSolution { return m.sol.Clone() }
