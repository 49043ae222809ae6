package core

import "fmt"

// EvalPhase is one state of the Evaluation Orchestrator's state machine.
type EvalPhase string

const (
	EvalPhaseAdmitted      EvalPhase = "admitted"
	EvalPhaseCloning       EvalPhase = "cloning"
	EvalPhaseDiscovery     EvalPhase = "discovery"
	EvalPhaseContext       EvalPhase = "context"
	EvalPhaseEvaluating    EvalPhase = "evaluating"
	EvalPhaseAggregating   EvalPhase = "aggregating"
	EvalPhaseDeduplicating EvalPhase = "deduplicating"
	EvalPhaseCurating      EvalPhase = "curating"
	EvalPhaseFinalizing    EvalPhase = "finalizing"
	EvalPhaseCompleted     EvalPhase = "completed"
	EvalPhaseFailed        EvalPhase = "failed"
	EvalPhaseCancelled     EvalPhase = "cancelled"
)

// evalPhaseOrder is the linear, non-branching path an evaluation job walks
// absent failure/cancellation.
var evalPhaseOrder = []EvalPhase{
	EvalPhaseAdmitted, EvalPhaseCloning, EvalPhaseDiscovery, EvalPhaseContext,
	EvalPhaseEvaluating, EvalPhaseAggregating, EvalPhaseDeduplicating,
	EvalPhaseCurating, EvalPhaseFinalizing, EvalPhaseCompleted,
}

// EvalStateMachine tracks one job's current phase and enforces the legal
// transition set: forward one step along evalPhaseOrder, or to failed/
// cancelled from any non-terminal phase.
type EvalStateMachine struct {
	current EvalPhase
}

// NewEvalStateMachine starts a state machine in the admitted phase.
func NewEvalStateMachine() *EvalStateMachine {
	return &EvalStateMachine{current: EvalPhaseAdmitted}
}

// Current returns the phase the machine is presently in.
func (m *EvalStateMachine) Current() EvalPhase { return m.current }

// Transition moves to next, rejecting anything that isn't the immediate
// successor in evalPhaseOrder or one of the two terminal escapes.
func (m *EvalStateMachine) Transition(next EvalPhase) error {
	if m.IsTerminal() {
		return fmt.Errorf("cannot transition out of terminal phase %s", m.current)
	}
	if next == EvalPhaseFailed || next == EvalPhaseCancelled {
		m.current = next
		return nil
	}
	for i, p := range evalPhaseOrder {
		if p == m.current {
			if i+1 < len(evalPhaseOrder) && evalPhaseOrder[i+1] == next {
				m.current = next
				return nil
			}
			break
		}
	}
	return fmt.Errorf("illegal evaluation phase transition: %s -> %s", m.current, next)
}

// IsTerminal reports whether the machine has reached a terminal phase.
func (m *EvalStateMachine) IsTerminal() bool {
	switch m.current {
	case EvalPhaseCompleted, EvalPhaseFailed, EvalPhaseCancelled:
		return true
	default:
		return false
	}
}
