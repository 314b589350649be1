package types

// ToolRequest is the envelope a caller submits to propose an operation.
// Confirmation resubmission uses the identical shape with Confirm=true and
// the previously issued token; Tool and Args must match the issuing call.
type ToolRequest struct {
	Tool              string         `json:"tool"`
	Args              map[string]any `json:"args"`
	Confirm           bool           `json:"confirm,omitempty"`
	ConfirmationToken string         `json:"confirmation_token,omitempty"`
	DryRun            bool           `json:"dry_run,omitempty"`
	Timeout           string         `json:"timeout,omitempty"` // duration string, caps execution
}

// ToolResponse is the envelope returned for every request. ReceiptID is
// always set: the receipt is persisted before the response is written.
type ToolResponse struct {
	Success           bool           `json:"success"`
	Data              map[string]any `json:"data,omitempty"`
	Error             string         `json:"error,omitempty"`
	Status            Decision       `json:"status,omitempty"`
	ConfirmationToken string         `json:"confirmation_token,omitempty"`
	Preview           string         `json:"preview,omitempty"`
	ReceiptID         string         `json:"receipt_id"`
}
