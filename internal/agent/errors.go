package agent

import "fmt"

// ErrorKind classifies turn failures the way callers branch on them.
type ErrorKind string

const (
	KindTransport  ErrorKind = "transport"
	KindProtocol   ErrorKind = "protocol"
	KindPermission ErrorKind = "permission"
	KindVeto       ErrorKind = "veto"
	KindBudget     ErrorKind = "budget"
	KindCancelled  ErrorKind = "cancelled"
	KindInvariant  ErrorKind = "invariant"
)

// LoopError is a typed turn failure. Most failures stay inside the turn
// as error parts; a LoopError escapes only when the whole turn could not
// proceed (veto, budget, cancellation).
type LoopError struct {
	Kind   ErrorKind
	Reason string
	Err    error
}

func (e *LoopError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("agent loop: %s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("agent loop: %s: %s", e.Kind, e.Reason)
}

func (e *LoopError) Unwrap() error { return e.Err }
