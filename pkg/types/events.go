package types

import "time"

// Event is a lightweight notification published to stream subscribers when
// the gateway makes a decision or records a receipt. Events mirror the
// receipt ledger; they are not the audit record themselves.
type Event struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Type      string         `json:"type"` // "decision", "receipt_recorded", "token_issued", "token_consumed", "undo_executed"
	ReceiptID string         `json:"receipt_id,omitempty"`
	Tool      string         `json:"tool,omitempty"`
	Decision  Decision       `json:"decision,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}
