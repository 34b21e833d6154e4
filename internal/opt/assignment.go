package opt

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidProblem reports a malformed problem detected before solving.
	ErrInvalidProblem = errors.New("invalid problem")
	// ErrUnknownPartner reports a reference to a partner missing from the fact list.
	ErrUnknownPartner = errors.New("unknown partner")
	// ErrUnknownVehicle reports a reference to a vehicle missing from the fact list.
	ErrUnknownVehicle = errors.New("unknown vehicle")
	// ErrIllegalMove reports a move that would break structural invariants.
	ErrIllegalMove = errors.New("illegal move")
)

// Unassigned marks an entity or stop without a partner or vehicle.
const Unassigned = -1

// PartnerFact is a delivery partner as seen by the assignment solver. Immutable during a solve.
type PartnerFact struct {
	ID          string    `json:"id"`
	Location    *Location `json:"location,omitempty"`
	Online      bool      `json:"online"`
	CurrentLoad int       `json:"currentLoad"`
	MaxCapacity int       `json:"maxCapacity"`
}

// AssignmentEntity is one order waiting for a partner.
type AssignmentEntity struct {
	OrderID  string    `json:"orderId"`
	Location *Location `json:"location,omitempty"`
	// PartnerID is the assigned partner, empty when unassigned.
	PartnerID string `json:"partnerId,omitempty"`

	partner int
}

// Partner returns the index of the assigned partner or Unassigned.
func (e *AssignmentEntity) Partner() int { return e.partner }

// AssignmentSolution holds the partner facts, the order entities and the score
// of the current assignment.
type AssignmentSolution struct {
	Partners []PartnerFact      `json:"partners"`
	Entities []AssignmentEntity `json:"entities"`
	// AllowUnassigned lets the solver leave an order without partner.
	AllowUnassigned bool  `json:"allowUnassigned"`
	Score           Score `json:"score"`

	partnerIdx map[string]int
}

// NewAssignmentSolution validates the facts and resolves any pre-set partner
// references. A reference to a partner outside the list fails with ErrUnknownPartner.
func NewAssignmentSolution(partners []PartnerFact, entities []AssignmentEntity, allowUnassigned bool) (*AssignmentSolution, error) {
	s := &AssignmentSolution{
		Partners:        append([]PartnerFact(nil), partners...),
		Entities:        append([]AssignmentEntity(nil), entities...),
		AllowUnassigned: allowUnassigned,
		partnerIdx:      make(map[string]int, len(partners)),
	}
	for i, p := range s.Partners {
		if p.ID == "" {
			return nil, fmt.Errorf("%w: partner %d has empty id", ErrInvalidProblem, i)
		}
		if _, dup := s.partnerIdx[p.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate partner %q", ErrInvalidProblem, p.ID)
		}
		if p.MaxCapacity <= 0 {
			return nil, fmt.Errorf("%w: partner %q max capacity must be > 0", ErrInvalidProblem, p.ID)
		}
		if p.CurrentLoad < 0 {
			return nil, fmt.Errorf("%w: partner %q current load must be >= 0", ErrInvalidProblem, p.ID)
		}
		s.partnerIdx[p.ID] = i
	}
	seen := make(map[string]struct{}, len(s.Entities))
	for i := range s.Entities {
		e := &s.Entities[i]
		if _, dup := seen[e.OrderID]; dup {
			return nil, fmt.Errorf("%w: duplicate order %q", ErrInvalidProblem, e.OrderID)
		}
		seen[e.OrderID] = struct{}{}
		e.partner = Unassigned
		if e.PartnerID == "" {
			continue
		}
		idx, ok := s.partnerIdx[e.PartnerID]
		if !ok {
			return nil, fmt.Errorf("%w: order %q references %q", ErrUnknownPartner, e.OrderID, e.PartnerID)
		}
		e.partner = idx
	}
	return s, nil
}

// PartnerIndex returns the position of a partner id in the fact list.
func (s *AssignmentSolution) PartnerIndex(id string) (int, bool) {
	i, ok := s.partnerIdx[id]
	return i, ok
}

func (s *AssignmentSolution) partnerAt(i int) *PartnerFact {
	if i == Unassigned {
		return nil
	}
	return &s.Partners[i]
}

func (s *AssignmentSolution) assign(entity, partner int) {
	e := &s.Entities[entity]
	e.partner = partner
	if partner == Unassigned {
		e.PartnerID = ""
		return
	}
	e.PartnerID = s.Partners[partner].ID
}

// Clone returns a copy that shares the immutable partner facts.
func (s *AssignmentSolution) Clone() *AssignmentSolution {
	c := *s
	c.Entities = append([]AssignmentEntity(nil), s.Entities...)
	return &c
}

// Assignments projects the solution into order id -> partner id for every
// order whose placement is individually feasible: the partner is online and
// the order fits within the partner's remaining capacity. Capacity is granted
// in entity order. Orders that do not qualify are returned separately.
func (s *AssignmentSolution) Assignments() (assigned map[string]string, unassigned []string) {
	assigned = make(map[string]string, len(s.Entities))
	room := make([]int, len(s.Partners))
	for i, p := range s.Partners {
		room[i] = p.MaxCapacity - p.CurrentLoad
	}
	for i := range s.Entities {
		e := &s.Entities[i]
		p := s.partnerAt(e.partner)
		if p == nil || !p.Online || room[e.partner] <= 0 {
			unassigned = append(unassigned, e.OrderID)
			continue
		}
		room[e.partner]--
		assigned[e.OrderID] = p.ID
	}
	return assigned, unassigned
}
