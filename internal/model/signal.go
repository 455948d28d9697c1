package model

// Signal summarizes evidence quality at a gate. Signals form a closed set;
// gate evaluation and pivot dispatch switch over them exhaustively.
type Signal string

const (
	// Desirability
	SignalNoInterest       Signal = "no_interest"
	SignalWeakInterest     Signal = "weak_interest"
	SignalStrongCommitment Signal = "strong_commitment"

	// Feasibility
	SignalRed    Signal = "red"
	SignalOrange Signal = "orange"
	SignalGreen  Signal = "green"

	// Viability
	SignalUnderwater Signal = "underwater"
	SignalMarginal   Signal = "marginal"
	SignalProfitable Signal = "profitable"
)

// severity is a total order within each phase's signal set; higher is worse.
// Used for the most-severe tie-break when multiple sub-signals qualify.
var severity = map[Signal]int{
	SignalStrongCommitment: 0,
	SignalWeakInterest:     1,
	SignalNoInterest:       2,

	SignalGreen:  0,
	SignalOrange: 1,
	SignalRed:    2,

	SignalProfitable: 0,
	SignalMarginal:   1,
	SignalUnderwater: 2,
}

func (s Signal) Severity() int {
	return severity[s]
}

func (s Signal) Valid() bool {
	_, ok := severity[s]
	return ok
}
