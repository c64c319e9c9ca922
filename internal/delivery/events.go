package delivery

import "fmt"

// EventKind classifies what a participant reports to its run coordinator.
type EventKind int

const (
	// ProposalReceived fires when the first step of a plan is a receive and
	// it completes.
	ProposalReceived EventKind = iota
	StepCompleted
	// Buffered fires when a message completed ahead of the cursor.
	Buffered
	// Drained fires when a buffered message is consumed by the cursor.
	Drained
	ParticipantDone
)

func (k EventKind) String() string {
	switch k {
	case ProposalReceived:
		return "proposal_received"
	case StepCompleted:
		return "step_completed"
	case Buffered:
		return "buffered"
	case Drained:
		return "drained"
	case ParticipantDone:
		return "participant_done"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is one state change. Step is the cursor when the event was recorded.
type Event struct {
	Kind        EventKind
	Participant int
	Peer        int
	Phase       int
	Step        int
}

// Sink receives events. Implementations must not call back into the
// participant synchronously.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(ev Event) { f(ev) }
