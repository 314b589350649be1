package types

import "time"

// Change records one state mutation performed by an operation.
type Change struct {
	EntityType string         `json:"entity_type"` // "file", "commit", "push", ...
	EntityID   string         `json:"entity_id"`
	Action     string         `json:"action"` // "created", "updated", "deleted", "executed"
	Before     map[string]any `json:"before,omitempty"`
	After      map[string]any `json:"after,omitempty"`
}

// UndoStep describes the call that would reverse a recorded change.
type UndoStep struct {
	Tool        string         `json:"tool"`
	Args        map[string]any `json:"args"`
	Description string         `json:"description,omitempty"`
}

// OpError is a structured execution error captured on a receipt.
// Timeout marks executions that were forcibly terminated at their bound.
type OpError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Timeout bool   `json:"timeout,omitempty"`
}

// Receipt is an immutable audit record of one authorization decision and
// its execution outcome. Receipts are append-only: an undo execution
// appends a new receipt referencing the original via UndoneReceiptID,
// it never mutates history.
type Receipt struct {
	ReceiptID string         `json:"receipt_id"`
	Timestamp time.Time      `json:"timestamp"`
	Tool      string         `json:"tool"`
	Args      map[string]any `json:"args"`

	Decision Decision `json:"decision"`
	Reason   string   `json:"reason,omitempty"`
	Result   Result   `json:"result"`

	Changes       []Change   `json:"changes"`
	Undo          []UndoStep `json:"undo"`
	UndoSupported bool       `json:"undo_supported"`

	Stdout   string   `json:"stdout,omitempty"`
	Stderr   string   `json:"stderr,omitempty"`
	ExitCode *int     `json:"exit_code,omitempty"`
	Error    *OpError `json:"error,omitempty"`

	DryRun bool `json:"dry_run,omitempty"`

	// Set on receipts produced by replaying another receipt's undo steps.
	UndoneReceiptID string `json:"undone_receipt_id,omitempty"`
}

// ReceiptQuery selects receipts from the ledger. Zero values mean "no filter".
type ReceiptQuery struct {
	Tool     string
	Decision *Decision
	Result   *Result
	Since    *time.Time
	Until    *time.Time
	Limit    int
	Offset   int
}

// ConfirmationToken is a short-lived, single-use credential authorizing one
// specific previously proposed operation. Only the confirmation ledger may
// flip Used.
type ConfirmationToken struct {
	TokenID   string    `json:"token_id"`
	Tool      string    `json:"tool"`
	ArgsJSON  string    `json:"args_json"`
	Preview   string    `json:"preview,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Used      bool      `json:"used"`
}
