package domain

import "fmt"

// TriggerState lifecycle: Draft -> Open <-> Paused -> Executed;
// Open/Paused -> Vacated. Executed and Vacated are terminal.
//
// Stored values (stable, never renumbered):
//
//	0 draft, 1 open, 2 paused, 3 executed, 4 vacated
type TriggerState int

const (
	TriggerDraft    TriggerState = 0
	TriggerOpen     TriggerState = 1
	TriggerPaused   TriggerState = 2
	TriggerExecuted TriggerState = 3
	TriggerVacated  TriggerState = 4
)

func (s TriggerState) String() string {
	switch s {
	case TriggerDraft:
		return "draft"
	case TriggerOpen:
		return "open"
	case TriggerPaused:
		return "paused"
	case TriggerExecuted:
		return "executed"
	case TriggerVacated:
		return "vacated"
	}
	return fmt.Sprintf("trigger-state(%d)", int(s))
}

// PledgeState lifecycle: Open -> Executed or Open -> Vacated, both terminal.
//
// Stored values (stable): 0 open, 1 executed, 2 vacated
type PledgeState int

const (
	PledgeOpen     PledgeState = 0
	PledgeExecuted PledgeState = 1
	PledgeVacated  PledgeState = 2
)

func (s PledgeState) String() string {
	switch s {
	case PledgeOpen:
		return "open"
	case PledgeExecuted:
		return "executed"
	case PledgeVacated:
		return "vacated"
	}
	return fmt.Sprintf("pledge-state(%d)", int(s))
}

// ExecutionProblem records the terminal disposition of a pledge execution.
// EmailUnconfirmed and FiltersExcludedAll are normal zero-contribution
// outcomes, not errors.
//
// Stored values (stable): 0 none, 1 email-unconfirmed, 2 filters-excluded-all,
// 3 transaction-failed, 4 voided
type ExecutionProblem int

const (
	ProblemNone               ExecutionProblem = 0
	ProblemEmailUnconfirmed   ExecutionProblem = 1
	ProblemFiltersExcludedAll ExecutionProblem = 2
	ProblemTransactionFailed  ExecutionProblem = 3
	ProblemVoided             ExecutionProblem = 4
)

func (p ExecutionProblem) String() string {
	switch p {
	case ProblemNone:
		return "no-problem"
	case ProblemEmailUnconfirmed:
		return "email-unconfirmed"
	case ProblemFiltersExcludedAll:
		return "filters-excluded-all"
	case ProblemTransactionFailed:
		return "transaction-failed"
	case ProblemVoided:
		return "voided"
	}
	return fmt.Sprintf("execution-problem(%d)", int(p))
}

// Incumbent/challenger split directives on a pledge.
const (
	SplitChallengersOnly = -1
	SplitBoth            = 0
	SplitIncumbentsOnly  = 1
)
