package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/opsgate/opsgate/internal/store"
	"github.com/opsgate/opsgate/pkg/types"
)

// ErrUndoNotSupported is returned when a receipt carries no usable undo
// steps.
var ErrUndoNotSupported = fmt.Errorf("receipt does not support undo")

// Undo replays a receipt's undo steps through the normal decision pipeline.
// Steps that themselves require confirmation surface their token to the
// caller, who retries the undo with it. The replayed execution appends a
// fresh receipt referencing the original; history is never rewritten.
func (g *Gateway) Undo(ctx context.Context, receiptID, confirmationToken string) (types.ToolResponse, error) {
	original, err := g.recorder.Get(ctx, receiptID)
	if err != nil {
		return types.ToolResponse{}, err
	}
	if !original.UndoSupported || len(original.Undo) == 0 {
		return types.ToolResponse{}, fmt.Errorf("%w: %s", ErrUndoNotSupported, receiptID)
	}
	if original.DryRun {
		return types.ToolResponse{}, fmt.Errorf("%w: dry-run receipts change nothing", ErrUndoNotSupported)
	}

	var last types.ToolResponse
	for i, step := range original.Undo {
		req := types.ToolRequest{
			Tool:    step.Tool,
			Args:    step.Args,
			Confirm: true,
		}
		// The caller's token applies to the first pending step only; any
		// later step needing confirmation issues its own.
		if i == 0 && confirmationToken != "" {
			req.ConfirmationToken = confirmationToken
		}

		resp, execErr := g.execute(ctx, req, receiptID)
		if execErr != nil {
			return types.ToolResponse{}, execErr
		}
		if resp.Status == types.DecisionPendingConfirm {
			return resp, nil
		}
		if !resp.Success {
			return resp, nil
		}
		last = resp
	}

	if last.Data == nil {
		last.Data = map[string]any{}
	}
	last.Data["undone_receipt_id"] = receiptID
	return last, nil
}

// IsNotFound reports whether err means the referenced receipt does not
// exist.
func IsNotFound(err error) bool {
	return errors.Is(err, store.ErrReceiptNotFound)
}
