package opt

import (
	"fmt"
)

// StandstillKind tags what a Standstill points at.
type StandstillKind uint8

const (
	KindNone StandstillKind = iota
	KindVehicle
	KindStop
)

// Standstill is a chain position: either a vehicle (chain head) or a stop.
// The zero value points nowhere.
type Standstill struct {
	Kind  StandstillKind `json:"kind"`
	Index int            `json:"index"`
}

func VehicleAt(i int) Standstill { return Standstill{Kind: KindVehicle, Index: i} }

func StopAt(i int) Standstill { return Standstill{Kind: KindStop, Index: i} }

func (s Standstill) IsNone() bool { return s.Kind == KindNone }

func (s Standstill) String() string {
	switch s.Kind {
	case KindVehicle:
		return fmt.Sprintf("vehicle[%d]", s.Index)
	case KindStop:
		return fmt.Sprintf("stop[%d]", s.Index)
	}
	return "none"
}

// Vehicle is the chain head for one partner's route.
type Vehicle struct {
	ID        string   `json:"id"`
	PartnerID string   `json:"partnerId"`
	Start     Location `json:"start"`
	// Capacity is the maximum number of stops.
	Capacity int `json:"capacity"`
}

// Stop is one order to visit.
type Stop struct {
	OrderID  string    `json:"orderId"`
	Location *Location `json:"location,omitempty"`
}

// RoutePlanSolution is an arena of vehicles and stops linked into chains.
// prev and vehicle are the planning variables; the successor slices are
// caches kept in sync by every mutation.
type RoutePlanSolution struct {
	Vehicles []Vehicle `json:"vehicles"`
	Stops    []Stop    `json:"stops"`
	Score    Score     `json:"score"`

	prev      []Standstill
	vehicle   []int
	firstStop []int
	nextStop  []int
}

// NewRoutePlanSolution validates the facts and returns a solution with every
// stop unassigned.
func NewRoutePlanSolution(vehicles []Vehicle, stops []Stop) (*RoutePlanSolution, error) {
	r := &RoutePlanSolution{
		Vehicles:  append([]Vehicle(nil), vehicles...),
		Stops:     append([]Stop(nil), stops...),
		prev:      make([]Standstill, len(stops)),
		vehicle:   make([]int, len(stops)),
		firstStop: make([]int, len(vehicles)),
		nextStop:  make([]int, len(stops)),
	}
	vehicleIDs := make(map[string]struct{}, len(vehicles))
	for i, v := range r.Vehicles {
		if v.ID == "" {
			return nil, fmt.Errorf("%w: vehicle %d has empty id", ErrInvalidProblem, i)
		}
		if _, dup := vehicleIDs[v.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate vehicle %q", ErrInvalidProblem, v.ID)
		}
		if v.Capacity < 0 {
			return nil, fmt.Errorf("%w: vehicle %q capacity must be >= 0", ErrInvalidProblem, v.ID)
		}
		vehicleIDs[v.ID] = struct{}{}
		r.firstStop[i] = -1
	}
	seen := make(map[string]struct{}, len(stops))
	for i, s := range r.Stops {
		if _, dup := seen[s.OrderID]; dup {
			return nil, fmt.Errorf("%w: duplicate stop %q", ErrInvalidProblem, s.OrderID)
		}
		seen[s.OrderID] = struct{}{}
		r.vehicle[i] = Unassigned
		r.nextStop[i] = -1
	}
	return r, nil
}

// Prev returns the chain predecessor of stop i.
func (r *RoutePlanSolution) Prev(i int) Standstill { return r.prev[i] }

// VehicleOf returns the vehicle serving stop i or Unassigned.
func (r *RoutePlanSolution) VehicleOf(i int) int { return r.vehicle[i] }

// Next returns the stop following s, or -1.
func (r *RoutePlanSolution) Next(s Standstill) int {
	switch s.Kind {
	case KindVehicle:
		return r.firstStop[s.Index]
	case KindStop:
		return r.nextStop[s.Index]
	}
	return -1
}

func (r *RoutePlanSolution) setNext(s Standstill, stop int) {
	switch s.Kind {
	case KindVehicle:
		r.firstStop[s.Index] = stop
	case KindStop:
		r.nextStop[s.Index] = stop
	}
}

func (r *RoutePlanSolution) locationOf(s Standstill) *Location {
	switch s.Kind {
	case KindVehicle:
		return &r.Vehicles[s.Index].Start
	case KindStop:
		return r.Stops[s.Index].Location
	}
	return nil
}

func (r *RoutePlanSolution) vehicleOfStandstill(s Standstill) int {
	switch s.Kind {
	case KindVehicle:
		return s.Index
	case KindStop:
		return r.vehicle[s.Index]
	}
	return Unassigned
}

func (r *RoutePlanSolution) validStop(i int) bool { return i >= 0 && i < len(r.Stops) }

// isTarget reports whether s can be a chain predecessor: a vehicle or an assigned stop.
func (r *RoutePlanSolution) isTarget(s Standstill) bool {
	switch s.Kind {
	case KindVehicle:
		return s.Index >= 0 && s.Index < len(r.Vehicles)
	case KindStop:
		return r.validStop(s.Index) && r.vehicle[s.Index] != Unassigned
	}
	return false
}

// PossiblePredecessors lists every vehicle followed by every assigned stop.
func (r *RoutePlanSolution) PossiblePredecessors() []Standstill {
	out := make([]Standstill, 0, len(r.Vehicles)+len(r.Stops))
	for i := range r.Vehicles {
		out = append(out, VehicleAt(i))
	}
	for i := range r.Stops {
		if r.vehicle[i] != Unassigned {
			out = append(out, StopAt(i))
		}
	}
	return out
}

// AppendStop links an unassigned stop at the end of a vehicle's chain.
func (r *RoutePlanSolution) AppendStop(vehicle, stop int) error {
	if vehicle < 0 || vehicle >= len(r.Vehicles) {
		return fmt.Errorf("%w: vehicle index %d", ErrUnknownVehicle, vehicle)
	}
	if !r.validStop(stop) {
		return fmt.Errorf("%w: stop index %d", ErrInvalidProblem, stop)
	}
	if r.vehicle[stop] != Unassigned {
		return fmt.Errorf("%w: stop %q already on vehicle %d", ErrIllegalMove, r.Stops[stop].OrderID, r.vehicle[stop])
	}
	tail := VehicleAt(vehicle)
	for n := r.Next(tail); n != -1; n = r.nextStop[n] {
		tail = StopAt(n)
	}
	r.apply([]stopChange{{stop: stop, prev: tail, vehicle: vehicle}})
	return nil
}

// Sequence walks a vehicle's chain and returns its stop indices in visit order.
func (r *RoutePlanSolution) Sequence(vehicle int) []int {
	var out []int
	for n := r.firstStop[vehicle]; n != -1 && len(out) <= len(r.Stops); n = r.nextStop[n] {
		out = append(out, n)
	}
	return out
}

// Validate checks that every chain is acyclic, visits each stop at most once,
// and that every stop's vehicle matches the root of its chain.
func (r *RoutePlanSolution) Validate() error {
	owner := make([]int, len(r.Stops))
	for i := range owner {
		owner[i] = Unassigned
	}
	for v := range r.Vehicles {
		at := VehicleAt(v)
		for n := r.firstStop[v]; n != -1; n = r.nextStop[n] {
			if !r.validStop(n) {
				return fmt.Errorf("vehicle %q: successor %d out of range", r.Vehicles[v].ID, n)
			}
			if owner[n] != Unassigned {
				return fmt.Errorf("vehicle %q: stop %q revisited (already on vehicle %d)", r.Vehicles[v].ID, r.Stops[n].OrderID, owner[n])
			}
			owner[n] = v
			if r.prev[n] != at {
				return fmt.Errorf("stop %q: predecessor %s, chain says %s", r.Stops[n].OrderID, r.prev[n], at)
			}
			if r.vehicle[n] != v {
				return fmt.Errorf("stop %q: vehicle %d, chain root %d", r.Stops[n].OrderID, r.vehicle[n], v)
			}
			at = StopAt(n)
		}
	}
	for i := range r.Stops {
		if owner[i] != Unassigned {
			continue
		}
		if !r.prev[i].IsNone() || r.vehicle[i] != Unassigned {
			return fmt.Errorf("stop %q: detached from every chain but has predecessor %s vehicle %d", r.Stops[i].OrderID, r.prev[i], r.vehicle[i])
		}
		if r.nextStop[i] != -1 {
			return fmt.Errorf("stop %q: unassigned but has successor %d", r.Stops[i].OrderID, r.nextStop[i])
		}
	}
	return nil
}

// Clone returns a deep copy of the mutable state; vehicle and stop facts are shared.
func (r *RoutePlanSolution) Clone() *RoutePlanSolution {
	c := *r
	c.prev = append([]Standstill(nil), r.prev...)
	c.vehicle = append([]int(nil), r.vehicle...)
	c.firstStop = append([]int(nil), r.firstStop...)
	c.nextStop = append([]int(nil), r.nextStop...)
	return &c
}

// stopChange is the new predecessor and vehicle of one stop.
type stopChange struct {
	stop    int
	prev    Standstill
	vehicle int
}

// apply writes a complete change list. Old successor links pointing at a
// changed stop are cleared first so the caches never hold a stale edge.
func (r *RoutePlanSolution) apply(changes []stopChange) {
	for _, c := range changes {
		if old := r.prev[c.stop]; !old.IsNone() && r.Next(old) == c.stop {
			r.setNext(old, -1)
		}
	}
	for _, c := range changes {
		r.prev[c.stop] = c.prev
		r.vehicle[c.stop] = c.vehicle
		if !c.prev.IsNone() {
			r.setNext(c.prev, c.stop)
		}
	}
}
