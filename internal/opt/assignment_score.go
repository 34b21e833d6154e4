package opt

import "fmt"

// assignmentRule is one row of the assignment rule table. Exactly one of
// entity or partner is set: entity rules score a single order against its
// partner (nil when unassigned), partner rules score a partner group by the
// number of orders newly assigned to it.
type assignmentRule struct {
	name    string
	level   Level
	entity  func(e *AssignmentEntity, p *PartnerFact) int64
	partner func(p *PartnerFact, assigned int) int64
}

var assignmentRules = [...]assignmentRule{
	{
		name:  "No offline partner",
		level: LevelHard,
		entity: func(_ *AssignmentEntity, p *PartnerFact) int64 {
			if p != nil && !p.Online {
				return 1
			}
			return 0
		},
	},
	{
		name:  "Respect partner capacity",
		level: LevelHard,
		partner: func(p *PartnerFact, assigned int) int64 {
			if p.CurrentLoad+assigned > p.MaxCapacity {
				return 1
			}
			return 0
		},
	},
	{
		name:  "Minimize distance",
		level: LevelSoft,
		entity: func(e *AssignmentEntity, p *PartnerFact) int64 {
			if p == nil {
				return 0
			}
			return distancePenalty(p.Location, e.Location)
		},
	},
	{
		name:  "Balance workload",
		level: LevelSoft,
		partner: func(p *PartnerFact, assigned int) int64 {
			load := int64(p.CurrentLoad + assigned)
			return load * load
		},
	},
	{
		name:  "Assign every order",
		level: LevelHard,
		entity: func(_ *AssignmentEntity, p *PartnerFact) int64 {
			if p == nil {
				return 1
			}
			return 0
		},
	},
}

func entityScore(e *AssignmentEntity, p *PartnerFact) Score {
	var s Score
	for i := range assignmentRules {
		r := &assignmentRules[i]
		if r.entity != nil {
			s = s.Add(r.level.penalize(r.entity(e, p)))
		}
	}
	return s
}

// partnerScore is zero for a partner without newly assigned orders.
func partnerScore(p *PartnerFact, assigned int) Score {
	var s Score
	if assigned == 0 {
		return s
	}
	for i := range assignmentRules {
		r := &assignmentRules[i]
		if r.partner != nil {
			s = s.Add(r.level.penalize(r.partner(p, assigned)))
		}
	}
	return s
}

func assignedCounts(sol *AssignmentSolution) []int {
	counts := make([]int, len(sol.Partners))
	for i := range sol.Entities {
		if p := sol.Entities[i].partner; p != Unassigned {
			counts[p]++
		}
	}
	return counts
}

// ScoreAssignment recomputes the score of sol from scratch.
func ScoreAssignment(sol *AssignmentSolution) Score {
	var s Score
	for i := range sol.Entities {
		e := &sol.Entities[i]
		s = s.Add(entityScore(e, sol.partnerAt(e.partner)))
	}
	for i, n := range assignedCounts(sol) {
		s = s.Add(partnerScore(&sol.Partners[i], n))
	}
	return s
}

// ExplainAssignment breaks the score of sol down per rule.
func ExplainAssignment(sol *AssignmentSolution) []ConstraintTotal {
	out := make([]ConstraintTotal, len(assignmentRules))
	counts := assignedCounts(sol)
	for i := range assignmentRules {
		r := &assignmentRules[i]
		t := ConstraintTotal{Name: r.name, Level: r.level.String()}
		if r.entity != nil {
			for j := range sol.Entities {
				e := &sol.Entities[j]
				if n := r.entity(e, sol.partnerAt(e.partner)); n != 0 {
					t.Matches++
					t.Score = t.Score.Add(r.level.penalize(n))
				}
			}
		} else {
			for j, c := range counts {
				if c == 0 {
					continue
				}
				if n := r.partner(&sol.Partners[j], c); n != 0 {
					t.Matches++
					t.Score = t.Score.Add(r.level.penalize(n))
				}
			}
		}
		out[i] = t
	}
	return out
}

// ChangeMove reassigns one entity. Partner may be Unassigned when the
// solution allows unassigned orders.
type ChangeMove struct {
	Entity  int
	Partner int
}

func (m ChangeMove) String() string { return fmt.Sprintf("entity %d -> partner %d", m.Entity, m.Partner) }

// AssignmentScorer keeps the running score of a solution and the number of
// entities per partner so a move only re-scores the entity and the two
// partner groups it touches.
type AssignmentScorer struct {
	sol    *AssignmentSolution
	counts []int
	total  Score
}

func NewAssignmentScorer(sol *AssignmentSolution) *AssignmentScorer {
	sc := &AssignmentScorer{sol: sol}
	sc.Reset()
	return sc
}

// Reset rebuilds the caches from the solution.
func (sc *AssignmentScorer) Reset() {
	sc.counts = assignedCounts(sc.sol)
	sc.total = ScoreAssignment(sc.sol)
	sc.sol.Score = sc.total
}

func (sc *AssignmentScorer) Score() Score { return sc.total }

func (sc *AssignmentScorer) check(m ChangeMove) error {
	if m.Entity < 0 || m.Entity >= len(sc.sol.Entities) {
		return fmt.Errorf("%w: entity %d out of range", ErrIllegalMove, m.Entity)
	}
	if m.Partner == Unassigned {
		if !sc.sol.AllowUnassigned {
			return fmt.Errorf("%w: unassign not allowed", ErrIllegalMove)
		}
		return nil
	}
	if m.Partner < 0 || m.Partner >= len(sc.sol.Partners) {
		return fmt.Errorf("%w: partner index %d", ErrUnknownPartner, m.Partner)
	}
	return nil
}

// Delta returns the score change m would cause without mutating the solution.
func (sc *AssignmentScorer) Delta(m ChangeMove) (Score, error) {
	if err := sc.check(m); err != nil {
		return Score{}, err
	}
	e := &sc.sol.Entities[m.Entity]
	from, to := e.partner, m.Partner
	if from == to {
		return Score{}, nil
	}
	d := entityScore(e, sc.sol.partnerAt(to)).Sub(entityScore(e, sc.sol.partnerAt(from)))
	if from != Unassigned {
		p, n := &sc.sol.Partners[from], sc.counts[from]
		d = d.Add(partnerScore(p, n-1)).Sub(partnerScore(p, n))
	}
	if to != Unassigned {
		p, n := &sc.sol.Partners[to], sc.counts[to]
		d = d.Add(partnerScore(p, n+1)).Sub(partnerScore(p, n))
	}
	return d, nil
}

// Apply performs m and updates the running score.
func (sc *AssignmentScorer) Apply(m ChangeMove) error {
	d, err := sc.Delta(m)
	if err != nil {
		return err
	}
	if from := sc.sol.Entities[m.Entity].partner; from != Unassigned {
		sc.counts[from]--
	}
	if m.Partner != Unassigned {
		sc.counts[m.Partner]++
	}
	sc.sol.assign(m.Entity, m.Partner)
	sc.total = sc.total.Add(d)
	sc.sol.Score = sc.total
	return nil
}
