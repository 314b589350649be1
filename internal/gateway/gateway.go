// Package gateway is the authorization core: it evaluates every proposed
// operation against policy, defers conditionally destructive ones behind
// confirmation tokens, dispatches authorized ones to their runners and
// records a receipt before any response leaves the process.
package gateway

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/opsgate/opsgate/internal/confirm"
	"github.com/opsgate/opsgate/internal/events"
	"github.com/opsgate/opsgate/internal/ledger"
	"github.com/opsgate/opsgate/internal/metrics"
	"github.com/opsgate/opsgate/internal/ops"
	"github.com/opsgate/opsgate/internal/policy"
	"github.com/opsgate/opsgate/pkg/types"
)

type Gateway struct {
	registry *ops.Registry
	eval     *policy.Evaluator
	confirms *confirm.Ledger
	recorder *ledger.Recorder
	broker   *events.Broker
	metrics  *metrics.Collector
	limits   ops.Limits
	logger   *slog.Logger
}

func New(registry *ops.Registry, eval *policy.Evaluator, confirms *confirm.Ledger, recorder *ledger.Recorder, broker *events.Broker, collector *metrics.Collector, limits ops.Limits, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		registry: registry,
		eval:     eval,
		confirms: confirms,
		recorder: recorder,
		broker:   broker,
		metrics:  collector,
		limits:   limits,
		logger:   logger,
	}
}

// Execute runs one request through the full decision pipeline. The returned
// error means the gateway itself failed (store unavailable); policy denials
// and execution failures are reported in the response with a receipt.
func (g *Gateway) Execute(ctx context.Context, req types.ToolRequest) (types.ToolResponse, error) {
	return g.execute(ctx, req, "")
}

func (g *Gateway) execute(ctx context.Context, req types.ToolRequest, undoneReceiptID string) (types.ToolResponse, error) {
	if req.Args == nil {
		req.Args = map[string]any{}
	}

	runner, ok := g.registry.Lookup(req.Tool)
	if !ok {
		return g.deny(ctx, req, policy.ReasonUnknownTool, undoneReceiptID)
	}

	target, err := runner.PolicyTarget(req.Args)
	if err != nil {
		return g.deny(ctx, req, policy.ReasonInvalidArgs, undoneReceiptID)
	}

	verdict := g.evaluate(runner.Kind(), target, req.DryRun)
	g.publishDecision(req, verdict)

	if verdict.Decision == types.DecisionPendingConfirm {
		if req.Confirm && req.ConfirmationToken != "" {
			v, vErr := g.confirms.Validate(ctx, req.ConfirmationToken, req.Tool, req.Args)
			if vErr != nil {
				return types.ToolResponse{}, fmt.Errorf("validate token: %w", vErr)
			}
			if !v.OK {
				g.metrics.IncTokenRejected()
				return g.deny(ctx, req, v.Reason, undoneReceiptID)
			}
			g.metrics.IncTokenConsumed()
			if g.broker != nil {
				g.broker.Publish(events.NewEvent("token_consumed", "", req.Tool, types.DecisionAllowed, map[string]any{
					"token_id": req.ConfirmationToken,
				}))
			}
			verdict = policy.Verdict{Decision: types.DecisionAllowed, Reason: policy.ReasonConfirmed}
		} else {
			return g.pendConfirmation(ctx, req, runner, verdict, undoneReceiptID)
		}
	}

	if verdict.Decision == types.DecisionDenied {
		return g.deny(ctx, req, verdict.Reason, undoneReceiptID)
	}

	if req.DryRun {
		return g.recordDryRun(ctx, req, runner, verdict, undoneReceiptID)
	}

	execCtx, cancel := context.WithTimeout(ctx, g.limits.ChooseTimeout(req.Timeout))
	defer cancel()
	outcome := runner.Run(execCtx, req.Args)

	r := types.Receipt{
		Tool:            req.Tool,
		Args:            req.Args,
		Decision:        verdict.Decision,
		Reason:          verdict.Reason,
		Changes:         outcome.Changes,
		Undo:            outcome.Undo,
		UndoSupported:   outcome.UndoSupported,
		Stdout:          outcome.Stdout,
		Stderr:          outcome.Stderr,
		ExitCode:        outcome.ExitCode,
		Error:           outcome.Err,
		UndoneReceiptID: undoneReceiptID,
	}
	if outcome.Err != nil {
		r.Result = types.ResultError
	} else {
		r.Result = types.ResultOK
	}

	r, err = g.recorder.Record(ctx, r)
	if err != nil {
		return types.ToolResponse{}, err
	}
	g.metrics.IncReceipt(req.Tool, string(r.Decision))
	if undoneReceiptID != "" && outcome.Err == nil {
		g.metrics.IncUndo()
		if g.broker != nil {
			g.broker.Publish(events.NewEvent("undo_executed", r.ReceiptID, req.Tool, r.Decision, map[string]any{
				"undone_receipt_id": undoneReceiptID,
			}))
		}
	}

	resp := types.ToolResponse{
		Success:   outcome.Err == nil,
		Data:      outcome.Data,
		ReceiptID: r.ReceiptID,
	}
	if outcome.Err != nil {
		resp.Error = outcome.Err.Message
	}
	return resp, nil
}

func (g *Gateway) evaluate(kind ops.Kind, target string, dryRun bool) policy.Verdict {
	switch kind {
	case ops.KindFileWrite:
		return g.eval.EvaluateFileWrite(target)
	case ops.KindFileDelete:
		return g.eval.EvaluateFileDelete(target)
	case ops.KindShell:
		return g.eval.EvaluateShell(target, dryRun)
	case ops.KindVCS:
		return g.eval.EvaluateVCS(target)
	default:
		return policy.Verdict{Decision: types.DecisionDenied, Reason: policy.ReasonUnknownTool}
	}
}

func (g *Gateway) publishDecision(req types.ToolRequest, verdict policy.Verdict) {
	if g.broker == nil {
		return
	}
	g.broker.Publish(events.NewEvent("decision", "", req.Tool, verdict.Decision, map[string]any{
		"reason":  verdict.Reason,
		"dry_run": req.DryRun,
	}))
}

// deny records a terminal DENIED receipt and reports the reason category,
// never internals, back to the caller.
func (g *Gateway) deny(ctx context.Context, req types.ToolRequest, reason, undoneReceiptID string) (types.ToolResponse, error) {
	r, err := g.recorder.Record(ctx, types.Receipt{
		Tool:            req.Tool,
		Args:            req.Args,
		Decision:        types.DecisionDenied,
		Reason:          reason,
		Result:          types.ResultError,
		DryRun:          req.DryRun,
		UndoneReceiptID: undoneReceiptID,
	})
	if err != nil {
		return types.ToolResponse{}, err
	}
	g.metrics.IncReceipt(req.Tool, string(types.DecisionDenied))
	return types.ToolResponse{
		Success:   false,
		Error:     "denied: " + reason,
		ReceiptID: r.ReceiptID,
	}, nil
}

// pendConfirmation issues a token bound to this exact call and records the
// deferred decision.
func (g *Gateway) pendConfirmation(ctx context.Context, req types.ToolRequest, runner ops.Runner, verdict policy.Verdict, undoneReceiptID string) (types.ToolResponse, error) {
	preview := runner.Preview(req.Args)
	tok, err := g.confirms.Issue(ctx, req.Tool, req.Args, preview)
	if err != nil {
		return types.ToolResponse{}, fmt.Errorf("issue token: %w", err)
	}
	g.metrics.IncTokenIssued()
	if g.broker != nil {
		g.broker.Publish(events.NewEvent("token_issued", "", req.Tool, types.DecisionPendingConfirm, map[string]any{
			"token_id":   tok.TokenID,
			"expires_at": tok.ExpiresAt,
		}))
	}

	r, err := g.recorder.Record(ctx, types.Receipt{
		Tool:            req.Tool,
		Args:            req.Args,
		Decision:        types.DecisionPendingConfirm,
		Reason:          verdict.Reason,
		Result:          types.ResultPendingConfirm,
		DryRun:          req.DryRun,
		UndoneReceiptID: undoneReceiptID,
	})
	if err != nil {
		return types.ToolResponse{}, err
	}
	g.metrics.IncReceipt(req.Tool, string(types.DecisionPendingConfirm))

	return types.ToolResponse{
		Success:           false,
		Status:            types.DecisionPendingConfirm,
		ConfirmationToken: tok.TokenID,
		Preview:           preview,
		ReceiptID:         r.ReceiptID,
	}, nil
}

// recordDryRun records an OK receipt with no changes and no undo: nothing
// executed, so there is nothing to reverse.
func (g *Gateway) recordDryRun(ctx context.Context, req types.ToolRequest, runner ops.Runner, verdict policy.Verdict, undoneReceiptID string) (types.ToolResponse, error) {
	preview := runner.Preview(req.Args)
	r, err := g.recorder.Record(ctx, types.Receipt{
		Tool:            req.Tool,
		Args:            req.Args,
		Decision:        verdict.Decision,
		Reason:          verdict.Reason,
		Result:          types.ResultOK,
		DryRun:          true,
		UndoneReceiptID: undoneReceiptID,
	})
	if err != nil {
		return types.ToolResponse{}, err
	}
	g.metrics.IncReceipt(req.Tool, string(verdict.Decision))
	return types.ToolResponse{
		Success:   true,
		Data:      map[string]any{"dry_run": true, "preview": preview},
		ReceiptID: r.ReceiptID,
	}, nil
}
