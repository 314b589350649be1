// Package ledger centralizes receipt recording. Every decision the gateway
// makes passes through the Recorder before a response is written, so the
// audit trail can never run behind what callers have been told.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/opsgate/opsgate/internal/events"
	"github.com/opsgate/opsgate/internal/store"
	"github.com/opsgate/opsgate/pkg/types"
)

// Recorder appends receipts to the backing store and publishes matching
// events. It stamps id and timestamp if the caller left them empty.
type Recorder struct {
	receipts store.ReceiptStore
	broker   *events.Broker
	logger   *slog.Logger
	now      func() time.Time
}

func NewRecorder(receipts store.ReceiptStore, broker *events.Broker, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		receipts: receipts,
		broker:   broker,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Record persists the receipt and returns it with id and timestamp filled
// in. An append failure is returned to the caller: a decision that cannot
// be recorded must not be acted upon.
func (rec *Recorder) Record(ctx context.Context, r types.Receipt) (types.Receipt, error) {
	if r.ReceiptID == "" {
		r.ReceiptID = uuid.NewString()
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = rec.now()
	}
	if r.Changes == nil {
		r.Changes = []types.Change{}
	}
	if r.Undo == nil {
		r.Undo = []types.UndoStep{}
	}

	if err := rec.receipts.AppendReceipt(ctx, r); err != nil {
		return types.Receipt{}, fmt.Errorf("append receipt: %w", err)
	}

	rec.logger.Info("receipt recorded",
		"receipt_id", r.ReceiptID,
		"tool", r.Tool,
		"decision", string(r.Decision),
		"result", string(r.Result),
		"reason", r.Reason,
	)

	if rec.broker != nil {
		fields := map[string]any{"result": string(r.Result)}
		if r.Reason != "" {
			fields["reason"] = r.Reason
		}
		if r.DryRun {
			fields["dry_run"] = true
		}
		if r.UndoneReceiptID != "" {
			fields["undone_receipt_id"] = r.UndoneReceiptID
		}
		rec.broker.Publish(events.NewEvent("receipt_recorded", r.ReceiptID, r.Tool, r.Decision, fields))
	}
	return r, nil
}

// Query passes through to the backing store.
func (rec *Recorder) Query(ctx context.Context, q types.ReceiptQuery) ([]types.Receipt, error) {
	return rec.receipts.QueryReceipts(ctx, q)
}

// Get passes through to the backing store.
func (rec *Recorder) Get(ctx context.Context, receiptID string) (types.Receipt, error) {
	return rec.receipts.GetReceipt(ctx, receiptID)
}
