package types

// Decision is the outcome of policy evaluation for a proposed operation.
type Decision string

const (
	DecisionAllowed        Decision = "ALLOWED"
	DecisionDenied         Decision = "DENIED"
	DecisionPendingConfirm Decision = "PENDING_CONFIRM"
)

// Result is the execution outcome recorded on a receipt.
type Result string

const (
	ResultOK             Result = "OK"
	ResultError          Result = "ERROR"
	ResultPendingConfirm Result = "PENDING_CONFIRM"
)
