package negotiation

import "fmt"

// Outcome tells what a trigger did. Expected collisions are outcomes,
// not errors.
type Outcome int

const (
	OutcomeNone Outcome = iota

	// Descriptions
	OutcomeAccepted
	OutcomeIgnored
	OutcomeRolledBack

	// Inbound candidates
	OutcomeApplied
	OutcomeBuffered
	OutcomeSuppressed
	OutcomeDropped

	// Outbound triggers
	OutcomeSent
	OutcomeQueued
	OutcomeSkipped
	OutcomeDeferred
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNone:
		return "none"
	case OutcomeAccepted:
		return "accepted"
	case OutcomeIgnored:
		return "ignored"
	case OutcomeRolledBack:
		return "rolled_back"
	case OutcomeApplied:
		return "applied"
	case OutcomeBuffered:
		return "buffered"
	case OutcomeSuppressed:
		return "suppressed"
	case OutcomeDropped:
		return "dropped"
	case OutcomeSent:
		return "sent"
	case OutcomeQueued:
		return "queued"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeDeferred:
		return "deferred"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Result is delivered once per trigger.
type Result struct {
	Outcome Outcome
	Err     error
}
