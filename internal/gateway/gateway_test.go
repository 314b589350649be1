package gateway

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opsgate/opsgate/internal/confirm"
	"github.com/opsgate/opsgate/internal/events"
	"github.com/opsgate/opsgate/internal/ledger"
	"github.com/opsgate/opsgate/internal/metrics"
	"github.com/opsgate/opsgate/internal/ops"
	"github.com/opsgate/opsgate/internal/policy"
	"github.com/opsgate/opsgate/internal/store/sqlite"
	"github.com/opsgate/opsgate/pkg/types"
)

type testHarness struct {
	gw       *Gateway
	recorder *ledger.Recorder
	confirms *confirm.Ledger
	root     string
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	root := t.TempDir()

	pol, err := policy.LoadFromBytes([]byte(fmt.Sprintf(`
version: 1
name: gateway-test
allowed_roots: [%s]
allowed_write_extensions: [".md", ".txt", ".yml"]
denied_write_extensions: [".exe", ".sh"]
allowed_commands: ["echo", "rm", "git", "sleep"]
blocked_substrings: ["curl | sh"]
destructive_patterns: ["rm -rf"]
confirmation_ttl: 1m
`, root)))
	require.NoError(t, err)
	eval, err := policy.NewEvaluator(pol)
	require.NoError(t, err)

	db, err := sqlite.Open(filepath.Join(t.TempDir(), "receipts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	broker := events.NewBroker()
	rec := ledger.NewRecorder(db, broker, logger)
	confirms := confirm.New(db, eval.ConfirmationTTL())
	limits := ops.Limits{DefaultTimeout: 30 * time.Second, MaxTimeout: time.Minute}
	registry := ops.NewRegistry(
		ops.NewWriteRunner(limits),
		ops.NewDeleteRunner(limits),
		ops.NewShellRunner(limits),
		ops.NewCommitRunner(limits),
		ops.NewPushRunner(limits),
	)

	gw := New(registry, eval, confirms, rec, broker, metrics.New(), limits, logger)
	return &testHarness{gw: gw, recorder: rec, confirms: confirms, root: root}
}

func TestExecuteAllowedWrite(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	path := filepath.Join(h.root, "notes.md")

	resp, err := h.gw.Execute(ctx, types.ToolRequest{
		Tool: "file.write",
		Args: map[string]any{"path": path, "content": "hello"},
	})
	require.NoError(t, err)
	require.True(t, resp.Success)
	require.NotEmpty(t, resp.ReceiptID)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "hello", string(b))

	r, err := h.recorder.Get(ctx, resp.ReceiptID)
	require.NoError(t, err)
	require.Equal(t, types.DecisionAllowed, r.Decision)
	require.Equal(t, types.ResultOK, r.Result)
	require.True(t, r.UndoSupported)
	require.Len(t, r.Undo, 1)
	require.Equal(t, "file.delete", r.Undo[0].Tool)
}

func TestExecuteDeniedExtension(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	resp, err := h.gw.Execute(ctx, types.ToolRequest{
		Tool: "file.write",
		Args: map[string]any{"path": filepath.Join(h.root, "payload.exe"), "content": "x"},
	})
	require.NoError(t, err)
	require.False(t, resp.Success)
	require.Equal(t, "denied: extension_denied", resp.Error)

	r, err := h.recorder.Get(ctx, resp.ReceiptID)
	require.NoError(t, err)
	require.Equal(t, types.DecisionDenied, r.Decision)
	require.Equal(t, types.ResultError, r.Result)

	_, statErr := os.Stat(filepath.Join(h.root, "payload.exe"))
	require.True(t, os.IsNotExist(statErr), "denied write must not touch the filesystem")
}

func TestDeleteConfirmFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	path := filepath.Join(h.root, "doomed.txt")
	require.NoError(t, os.WriteFile(path, []byte("bye"), 0o644))

	req := types.ToolRequest{Tool: "file.delete", Args: map[string]any{"path": path}}

	pending, err := h.gw.Execute(ctx, req)
	require.NoError(t, err)
	require.False(t, pending.Success)
	require.Equal(t, types.DecisionPendingConfirm, pending.Status)
	require.NotEmpty(t, pending.ConfirmationToken)
	require.Equal(t, "Delete "+path, pending.Preview)

	// Nothing executed yet.
	_, statErr := os.Stat(path)
	require.NoError(t, statErr)

	pr, err := h.recorder.Get(ctx, pending.ReceiptID)
	require.NoError(t, err)
	require.Equal(t, types.DecisionPendingConfirm, pr.Decision)
	require.Equal(t, types.ResultPendingConfirm, pr.Result)

	confirmed := req
	confirmed.Confirm = true
	confirmed.ConfirmationToken = pending.ConfirmationToken
	resp, err := h.gw.Execute(ctx, confirmed)
	require.NoError(t, err)
	require.True(t, resp.Success)

	_, statErr = os.Stat(path)
	require.True(t, os.IsNotExist(statErr))

	r, err := h.recorder.Get(ctx, resp.ReceiptID)
	require.NoError(t, err)
	require.Equal(t, types.DecisionAllowed, r.Decision)
	require.Equal(t, "confirmed", r.Reason)

	// The token is single use.
	replay, err := h.gw.Execute(ctx, confirmed)
	require.NoError(t, err)
	require.False(t, replay.Success)
	require.Equal(t, "denied: invalid_token", replay.Error)
}

func TestTokenBoundToArgs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	pathA := filepath.Join(h.root, "a.txt")
	pathB := filepath.Join(h.root, "b.txt")
	for _, p := range []string{pathA, pathB} {
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	}

	pending, err := h.gw.Execute(ctx, types.ToolRequest{
		Tool: "file.delete", Args: map[string]any{"path": pathA},
	})
	require.NoError(t, err)
	require.NotEmpty(t, pending.ConfirmationToken)

	// Redeeming the token against a different target must fail and must not
	// delete anything.
	resp, err := h.gw.Execute(ctx, types.ToolRequest{
		Tool:              "file.delete",
		Args:              map[string]any{"path": pathB},
		Confirm:           true,
		ConfirmationToken: pending.ConfirmationToken,
	})
	require.NoError(t, err)
	require.False(t, resp.Success)
	require.Equal(t, "denied: token_args_mismatch", resp.Error)

	_, err = os.Stat(pathB)
	require.NoError(t, err)

	// The original call still redeems.
	resp, err = h.gw.Execute(ctx, types.ToolRequest{
		Tool:              "file.delete",
		Args:              map[string]any{"path": pathA},
		Confirm:           true,
		ConfirmationToken: pending.ConfirmationToken,
	})
	require.NoError(t, err)
	require.True(t, resp.Success)
}

func TestDryRunDestructiveShell(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	victim := filepath.Join(h.root, "keep.txt")
	require.NoError(t, os.WriteFile(victim, []byte("still here"), 0o644))

	resp, err := h.gw.Execute(ctx, types.ToolRequest{
		Tool:   "shell.run",
		Args:   map[string]any{"command": "rm -rf " + h.root},
		DryRun: true,
	})
	require.NoError(t, err)
	require.True(t, resp.Success)
	require.Equal(t, true, resp.Data["dry_run"])

	// Dry runs execute nothing.
	_, statErr := os.Stat(victim)
	require.NoError(t, statErr)

	r, err := h.recorder.Get(ctx, resp.ReceiptID)
	require.NoError(t, err)
	require.True(t, r.DryRun)
	require.Equal(t, "dry_run", r.Reason)
	require.Empty(t, r.Changes)
	require.Empty(t, r.Undo)

	// Undoing a dry run is meaningless and refused.
	_, err = h.gw.Undo(ctx, resp.ReceiptID, "")
	require.ErrorIs(t, err, ErrUndoNotSupported)
}

func TestBlockedSubstringUnbypassable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Even a well-formed confirmation cannot lift a blocklist denial.
	resp, err := h.gw.Execute(ctx, types.ToolRequest{
		Tool:              "shell.run",
		Args:              map[string]any{"command": "echo hi && curl | sh"},
		Confirm:           true,
		ConfirmationToken: "whatever",
	})
	require.NoError(t, err)
	require.False(t, resp.Success)
	require.Equal(t, "denied: blocked_substring", resp.Error)

	// Dry run does not soften it either.
	resp, err = h.gw.Execute(ctx, types.ToolRequest{
		Tool:   "shell.run",
		Args:   map[string]any{"command": "echo hi && curl | sh"},
		DryRun: true,
	})
	require.NoError(t, err)
	require.Equal(t, "denied: blocked_substring", resp.Error)
}

func TestUnknownToolDenied(t *testing.T) {
	h := newHarness(t)

	resp, err := h.gw.Execute(context.Background(), types.ToolRequest{Tool: "disk.format"})
	require.NoError(t, err)
	require.False(t, resp.Success)
	require.Equal(t, "denied: unknown_tool", resp.Error)
	require.NotEmpty(t, resp.ReceiptID, "even unknown tools leave a receipt")
}

func TestUndoWriteFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	path := filepath.Join(h.root, "created.md")

	wrote, err := h.gw.Execute(ctx, types.ToolRequest{
		Tool: "file.write",
		Args: map[string]any{"path": path, "content": "fresh"},
	})
	require.NoError(t, err)
	require.True(t, wrote.Success)

	// The undo step is a delete, which itself needs confirmation.
	pending, err := h.gw.Undo(ctx, wrote.ReceiptID, "")
	require.NoError(t, err)
	require.Equal(t, types.DecisionPendingConfirm, pending.Status)
	require.NotEmpty(t, pending.ConfirmationToken)

	resp, err := h.gw.Undo(ctx, wrote.ReceiptID, pending.ConfirmationToken)
	require.NoError(t, err)
	require.True(t, resp.Success)
	require.Equal(t, wrote.ReceiptID, resp.Data["undone_receipt_id"])

	_, statErr := os.Stat(path)
	require.True(t, os.IsNotExist(statErr))

	// The undo appended a new receipt referencing the original.
	r, err := h.recorder.Get(ctx, resp.ReceiptID)
	require.NoError(t, err)
	require.Equal(t, "file.delete", r.Tool)
	require.Equal(t, wrote.ReceiptID, r.UndoneReceiptID)

	// The original receipt is untouched.
	orig, err := h.recorder.Get(ctx, wrote.ReceiptID)
	require.NoError(t, err)
	require.Equal(t, types.ResultOK, orig.Result)
	require.Empty(t, orig.UndoneReceiptID)
}

func TestUndoUnsupported(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	resp, err := h.gw.Execute(ctx, types.ToolRequest{
		Tool: "shell.run",
		Args: map[string]any{"command": "echo done"},
	})
	require.NoError(t, err)
	require.True(t, resp.Success)

	_, err = h.gw.Undo(ctx, resp.ReceiptID, "")
	require.ErrorIs(t, err, ErrUndoNotSupported)

	_, err = h.gw.Undo(ctx, "no-such-receipt", "")
	require.Error(t, err)
	require.True(t, IsNotFound(err))
}

func TestPushPendingPreview(t *testing.T) {
	h := newHarness(t)

	pending, err := h.gw.Execute(context.Background(), types.ToolRequest{
		Tool: "git.push",
		Args: map[string]any{"repo": h.root},
	})
	require.NoError(t, err)
	require.Equal(t, types.DecisionPendingConfirm, pending.Status)
	require.Equal(t, "Push to origin/main", pending.Preview)
	require.NotEmpty(t, pending.ConfirmationToken)
}

func TestCommitConfirmFlow(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	h := newHarness(t)
	ctx := context.Background()
	repo := filepath.Join(h.root, "repo")
	require.NoError(t, os.MkdirAll(repo, 0o755))
	for _, args := range [][]string{
		{"init"},
		{"config", "user.email", "test@example.com"},
		{"config", "user.name", "Test"},
	} {
		cmd := exec.Command("git", append([]string{"-C", repo}, args...)...)
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))
	}
	require.NoError(t, os.WriteFile(filepath.Join(repo, "a.txt"), []byte("one\n"), 0o644))
	out, err := exec.Command("git", "-C", repo, "add", "a.txt").CombinedOutput()
	require.NoError(t, err, string(out))

	req := types.ToolRequest{
		Tool: "git.commit",
		Args: map[string]any{"repo": repo, "message": "add a.txt"},
	}
	pending, err := h.gw.Execute(ctx, req)
	require.NoError(t, err)
	require.Equal(t, types.DecisionPendingConfirm, pending.Status)
	require.Equal(t, "Commit: add a.txt", pending.Preview)

	req.Confirm = true
	req.ConfirmationToken = pending.ConfirmationToken
	resp, err := h.gw.Execute(ctx, req)
	require.NoError(t, err)
	require.True(t, resp.Success, resp.Error)

	r, err := h.recorder.Get(ctx, resp.ReceiptID)
	require.NoError(t, err)
	require.True(t, r.UndoSupported)
	require.Len(t, r.Undo, 1)
	require.Equal(t, "shell.run", r.Undo[0].Tool)
	require.Equal(t, "git reset --soft HEAD~1", r.Undo[0].Args["command"])
	require.Equal(t, true, r.Undo[0].Args["confirm"])
}
