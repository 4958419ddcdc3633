package domain

// Signal is the graded duplicate-likelihood classification.
// Values include SignalLow, SignalMedium, and SignalHigh.
type Signal string

const (
	SignalLow    Signal = "LOW"
	SignalMedium Signal = "MEDIUM"
	SignalHigh   Signal = "HIGH"
)

// Rank orders signals so callers can compare them.
func (s Signal) Rank() int {
	switch s {
	case SignalHigh:
		return 2
	case SignalMedium:
		return 1
	default:
		return 0
	}
}

// Action is what a dedup session did with a candidate.
type Action string

const (
	ActionNone  Action = "none"
	ActionWarn  Action = "warn"
	ActionAbort Action = "abort"
)

// Outcome is the terminal state of a candidate after evaluation.
// Every candidate starts as OutcomePending and moves to exactly one other state.
type Outcome string

const (
	OutcomePending          Outcome = "PENDING"
	OutcomeUnique           Outcome = "UNIQUE"
	OutcomeDuplicateWarned  Outcome = "DUPLICATE_WARNED"
	OutcomeDuplicateAborted Outcome = "DUPLICATE_ABORTED"
)

// Action maps an outcome to the action reported to callers.
func (o Outcome) Action() Action {
	switch o {
	case OutcomeDuplicateWarned:
		return ActionWarn
	case OutcomeDuplicateAborted:
		return ActionAbort
	default:
		return ActionNone
	}
}
