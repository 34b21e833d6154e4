package opt

import (
	"fmt"
	"math"
	"math/rand"
)

// AcceptorKind selects the policy for non-improving moves.
type AcceptorKind string

const (
	AcceptLateAcceptance     AcceptorKind = "late_acceptance"
	AcceptSimulatedAnnealing AcceptorKind = "simulated_annealing"
	AcceptHillClimbing       AcceptorKind = "hill_climbing"
)

// ParseAcceptorKind accepts the config spelling of an acceptor.
func ParseAcceptorKind(s string) (AcceptorKind, error) {
	switch k := AcceptorKind(s); k {
	case AcceptLateAcceptance, AcceptSimulatedAnnealing, AcceptHillClimbing:
		return k, nil
	case "":
		return AcceptLateAcceptance, nil
	}
	return "", fmt.Errorf("unknown acceptor %q", s)
}

// Acceptor decides on moves that do not strictly improve the current score.
// Implementations are stateful and owned by one driver run.
type Acceptor interface {
	Start(initial Score)
	Accept(current, candidate Score, rng *rand.Rand) bool
	StepEnded(current Score)
}

// LateAcceptance accepts a candidate that is no worse than the current score
// or than the score Size steps ago.
type LateAcceptance struct {
	Size    int
	history []Score
	step    int
}

func (a *LateAcceptance) Start(initial Score) {
	if a.Size <= 0 {
		a.Size = 1
	}
	a.history = make([]Score, a.Size)
	for i := range a.history {
		a.history[i] = initial
	}
	a.step = 0
}

func (a *LateAcceptance) Accept(current, candidate Score, _ *rand.Rand) bool {
	late := a.history[a.step%a.Size]
	return candidate.Compare(late) >= 0 || candidate.Compare(current) >= 0
}

func (a *LateAcceptance) StepEnded(current Score) {
	a.history[a.step%a.Size] = current
	a.step++
}

// SimulatedAnnealing accepts a worse candidate with probability
// exp(-delta/temperature). Scores are folded to one number with HardWeight
// per hard point; the temperature decays by Cooling every step.
type SimulatedAnnealing struct {
	StartTemperature float64
	Cooling          float64
	HardWeight       float64
	temp             float64
}

func (a *SimulatedAnnealing) Start(Score) {
	a.temp = a.StartTemperature
	if a.temp <= 0 {
		a.temp = 1
	}
	if a.Cooling <= 0 || a.Cooling >= 1 {
		a.Cooling = 0.995
	}
	if a.HardWeight <= 0 {
		a.HardWeight = 1000
	}
}

func (a *SimulatedAnnealing) Accept(current, candidate Score, rng *rand.Rand) bool {
	d := current.Sub(candidate)
	delta := float64(d.Hard)*a.HardWeight + float64(d.Soft)
	if delta <= 0 {
		return true
	}
	return rng.Float64() < math.Exp(-delta/(a.temp+1e-9))
}

func (a *SimulatedAnnealing) StepEnded(Score) { a.temp *= a.Cooling }

// hillClimbing accepts sideways moves only.
type hillClimbing struct{}

func (hillClimbing) Start(Score) {}

func (hillClimbing) Accept(current, candidate Score, _ *rand.Rand) bool {
	return candidate.Compare(current) >= 0
}

func (hillClimbing) StepEnded(Score) {}
