package opt

import "fmt"

// RouteMove is a structural change to the chains of a RoutePlanSolution.
// A move compiles to the full list of stops whose predecessor or vehicle
// changes; scoring and mutation both consume that list.
type RouteMove interface {
	compile(r *RoutePlanSolution, buf []stopChange) ([]stopChange, error)
	fmt.Stringer
}

// RelocateMove detaches Stop, re-links its neighbours and inserts it after To.
type RelocateMove struct {
	Stop int
	To   Standstill
}

// SwapMove exchanges the chain positions of two stops.
type SwapMove struct {
	A, B int
}

// TailChainMove moves Stop together with all of its descendants after To.
type TailChainMove struct {
	Stop int
	To   Standstill
}

func (m RelocateMove) String() string  { return fmt.Sprintf("relocate %d after %s", m.Stop, m.To) }
func (m SwapMove) String() string      { return fmt.Sprintf("swap %d <-> %d", m.A, m.B) }
func (m TailChainMove) String() string { return fmt.Sprintf("tail %d after %s", m.Stop, m.To) }

func illegal(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrIllegalMove}, args...)...)
}

func (m RelocateMove) compile(r *RoutePlanSolution, buf []stopChange) ([]stopChange, error) {
	s := m.Stop
	if !r.validStop(s) {
		return nil, illegal("stop %d out of range", s)
	}
	if !r.isTarget(m.To) {
		return nil, illegal("%s is not a chain position", m.To)
	}
	if m.To == StopAt(s) {
		return nil, illegal("stop %d cannot follow itself", s)
	}
	if r.prev[s] == m.To {
		return nil, illegal("stop %d already follows %s", s, m.To)
	}
	pa, ns, nt := r.prev[s], r.nextStop[s], r.Next(m.To)
	buf = append(buf[:0], stopChange{stop: s, prev: m.To, vehicle: r.vehicleOfStandstill(m.To)})
	if ns != -1 {
		buf = append(buf, stopChange{stop: ns, prev: pa, vehicle: r.vehicle[ns]})
	}
	if nt != -1 {
		buf = append(buf, stopChange{stop: nt, prev: StopAt(s), vehicle: r.vehicle[nt]})
	}
	return buf, nil
}

func (m SwapMove) compile(r *RoutePlanSolution, buf []stopChange) ([]stopChange, error) {
	a, b := m.A, m.B
	if !r.validStop(a) || !r.validStop(b) {
		return nil, illegal("stops %d, %d out of range", a, b)
	}
	if a == b {
		return nil, illegal("stop %d swapped with itself", a)
	}
	va, vb := r.vehicle[a], r.vehicle[b]
	if va == Unassigned && vb == Unassigned {
		return nil, illegal("stops %d and %d are both unassigned", a, b)
	}
	pa, pb := r.prev[a], r.prev[b]
	na, nb := r.nextStop[a], r.nextStop[b]
	buf = buf[:0]
	switch {
	case pb == StopAt(a):
		buf = append(buf,
			stopChange{stop: b, prev: pa, vehicle: va},
			stopChange{stop: a, prev: StopAt(b), vehicle: va})
		if nb != -1 {
			buf = append(buf, stopChange{stop: nb, prev: StopAt(a), vehicle: vb})
		}
	case pa == StopAt(b):
		buf = append(buf,
			stopChange{stop: a, prev: pb, vehicle: vb},
			stopChange{stop: b, prev: StopAt(a), vehicle: vb})
		if na != -1 {
			buf = append(buf, stopChange{stop: na, prev: StopAt(b), vehicle: va})
		}
	default:
		buf = append(buf,
			stopChange{stop: a, prev: pb, vehicle: vb},
			stopChange{stop: b, prev: pa, vehicle: va})
		if na != -1 {
			buf = append(buf, stopChange{stop: na, prev: StopAt(b), vehicle: va})
		}
		if nb != -1 {
			buf = append(buf, stopChange{stop: nb, prev: StopAt(a), vehicle: vb})
		}
	}
	return buf, nil
}

func (m TailChainMove) compile(r *RoutePlanSolution, buf []stopChange) ([]stopChange, error) {
	s := m.Stop
	if !r.validStop(s) {
		return nil, illegal("stop %d out of range", s)
	}
	if r.vehicle[s] == Unassigned {
		return nil, illegal("stop %d has no chain", s)
	}
	if !r.isTarget(m.To) {
		return nil, illegal("%s is not a chain position", m.To)
	}
	if r.prev[s] == m.To {
		return nil, illegal("stop %d already follows %s", s, m.To)
	}
	last := s
	for n := s; n != -1; n = r.nextStop[n] {
		if m.To == StopAt(n) {
			return nil, illegal("%s is inside the tail of stop %d", m.To, s)
		}
		last = n
	}
	vt := r.vehicleOfStandstill(m.To)
	nt := r.Next(m.To)
	buf = append(buf[:0], stopChange{stop: s, prev: m.To, vehicle: vt})
	if vt != r.vehicle[s] {
		for n := r.nextStop[s]; n != -1; n = r.nextStop[n] {
			buf = append(buf, stopChange{stop: n, prev: r.prev[n], vehicle: vt})
		}
	}
	if nt != -1 {
		buf = append(buf, stopChange{stop: nt, prev: StopAt(last), vehicle: r.vehicle[nt]})
	}
	return buf, nil
}
