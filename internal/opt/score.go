package opt

import "fmt"

// Score is a two-level penalty score. Both levels are zero or negative;
// a higher hard level always wins, soft breaks ties.
type Score struct {
	Hard int64 `json:"hard"`
	Soft int64 `json:"soft"`
}

func (s Score) Add(o Score) Score { return Score{Hard: s.Hard + o.Hard, Soft: s.Soft + o.Soft} }

func (s Score) Sub(o Score) Score { return Score{Hard: s.Hard - o.Hard, Soft: s.Soft - o.Soft} }

// Compare returns -1, 0 or 1 when s is worse than, equal to or better than o.
func (s Score) Compare(o Score) int {
	switch {
	case s.Hard < o.Hard:
		return -1
	case s.Hard > o.Hard:
		return 1
	case s.Soft < o.Soft:
		return -1
	case s.Soft > o.Soft:
		return 1
	}
	return 0
}

func (s Score) BetterThan(o Score) bool { return s.Compare(o) > 0 }

// Feasible reports whether no hard rule is violated.
func (s Score) Feasible() bool { return s.Hard >= 0 }

func (s Score) String() string { return fmt.Sprintf("%dhard/%dsoft", s.Hard, s.Soft) }

// Level is the score level a rule penalizes.
type Level int

const (
	LevelHard Level = iota
	LevelSoft
)

func (l Level) String() string {
	if l == LevelHard {
		return "hard"
	}
	return "soft"
}

// penalize turns a non-negative penalty into a score contribution.
func (l Level) penalize(n int64) Score {
	if l == LevelHard {
		return Score{Hard: -n}
	}
	return Score{Soft: -n}
}

// ConstraintTotal is the aggregate contribution of one rule to a score.
type ConstraintTotal struct {
	Name    string `json:"name"`
	Level   string `json:"level"`
	Matches int    `json:"matches"`
	Score   Score  `json:"score"`
}
