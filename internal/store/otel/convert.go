package otel

import (
	"fmt"

	"github.com/opsgate/opsgate/pkg/types"
	otellog "go.opentelemetry.io/otel/log"
)

// convertToLogRecord converts a receipt to an OTEL log Record. The record
// is intended for use with Logger.Emit().
func convertToLogRecord(r types.Receipt) otellog.Record {
	var rec otellog.Record

	rec.SetTimestamp(r.Timestamp)
	rec.SetBody(otellog.StringValue(receiptBody(r)))
	rec.SetSeverity(receiptSeverity(r))
	rec.SetSeverityText(receiptSeverity(r).String())
	rec.AddAttributes(receiptAttributes(r)...)

	return rec
}

func receiptBody(r types.Receipt) string {
	return fmt.Sprintf("%s [%s/%s]", r.Tool, r.Decision, r.Result)
}

func receiptSeverity(r types.Receipt) otellog.Severity {
	switch {
	case r.Decision == types.DecisionDenied:
		return otellog.SeverityWarn
	case r.Result == types.ResultError:
		return otellog.SeverityError
	default:
		return otellog.SeverityInfo
	}
}

// receiptAttributes builds OTEL log attributes under the opsgate.*
// namespace. Args and outputs stay out of attributes: they may carry
// payloads that do not belong in a telemetry pipeline.
func receiptAttributes(r types.Receipt) []otellog.KeyValue {
	attrs := []otellog.KeyValue{
		otellog.String("opsgate.receipt_id", r.ReceiptID),
		otellog.String("opsgate.tool", r.Tool),
		otellog.String("opsgate.decision", string(r.Decision)),
		otellog.String("opsgate.result", string(r.Result)),
		otellog.Bool("opsgate.undo_supported", r.UndoSupported),
	}
	if r.Reason != "" {
		attrs = append(attrs, otellog.String("opsgate.reason", r.Reason))
	}
	if r.DryRun {
		attrs = append(attrs, otellog.Bool("opsgate.dry_run", true))
	}
	if r.UndoneReceiptID != "" {
		attrs = append(attrs, otellog.String("opsgate.undone_receipt_id", r.UndoneReceiptID))
	}
	if r.ExitCode != nil {
		attrs = append(attrs, otellog.Int("opsgate.exit_code", *r.ExitCode))
	}
	if r.Error != nil {
		attrs = append(attrs, otellog.String("opsgate.error_code", r.Error.Code))
		if r.Error.Timeout {
			attrs = append(attrs, otellog.Bool("opsgate.timeout", true))
		}
	}
	return attrs
}
