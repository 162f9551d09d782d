package router

import "errors"

// Sentinel errors surfaced by the router. Guardrail refusals and rate
// limits are not errors; they ride on the FinalResponse so partial
// success always beats total failure.
var (
	// ErrSessionBusy means another top-level request is in flight for
	// the session. Request handling per session is single-flighted.
	ErrSessionBusy = errors.New("session has a request in flight")

	// ErrApprovalPending means the session is parked awaiting a human
	// decision and accepts only the approval response.
	ErrApprovalPending = errors.New("session is awaiting an approval decision")

	// ErrNoPendingApproval is returned by ResolveApproval when the
	// session has nothing parked.
	ErrNoPendingApproval = errors.New("no approval is pending")

	// ErrUnknownApproval is returned when the supplied approval id does
	// not match the parked action.
	ErrUnknownApproval = errors.New("approval id does not match the pending action")
)
