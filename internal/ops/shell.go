package ops

import (
	"context"
	"fmt"
	"strings"

	"github.com/opsgate/opsgate/pkg/types"
)

// ShellRunner implements the shell.run tool. Commands run through the
// system shell with bounded output and a deadline enforced by killing the
// whole process group. Shell executions are not reversible.
type ShellRunner struct {
	limits Limits
}

func NewShellRunner(limits Limits) *ShellRunner { return &ShellRunner{limits: limits} }

func (r *ShellRunner) Name() string { return "shell.run" }
func (r *ShellRunner) Kind() Kind   { return KindShell }

func (r *ShellRunner) PolicyTarget(args map[string]any) (string, error) {
	return requiredString(args, "command")
}

func (r *ShellRunner) Preview(args map[string]any) string {
	command, _ := stringArg(args, "command")
	return fmt.Sprintf("Run: %s", strings.TrimSpace(command))
}

func (r *ShellRunner) Run(ctx context.Context, args map[string]any) Outcome {
	command, err := requiredString(args, "command")
	if err != nil {
		return errOutcome("invalid_args", err.Error())
	}
	workdir := optionalString(args, "workdir", "")

	res := runProcess(ctx, workdir, r.limits.MaxOutputBytes, "/bin/sh", "-c", command)
	if res.StartErr != nil {
		return errOutcome("start_failed", res.StartErr.Error())
	}

	out := Outcome{
		Data: map[string]any{
			"command":   command,
			"exit_code": res.ExitCode,
		},
		Changes: []types.Change{
			{EntityType: "command", EntityID: command, Action: "executed"},
		},
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
		ExitCode: intPtr(res.ExitCode),
	}
	if res.StdoutTruncated || res.StderrTruncated {
		out.Data["output_truncated"] = true
	}

	switch {
	case res.TimedOut:
		out.Err = &types.OpError{Code: "timeout", Message: "command timed out", Timeout: true}
	case res.ExitCode != 0:
		out.Err = &types.OpError{Code: "nonzero_exit", Message: fmt.Sprintf("command exited with status %d", res.ExitCode)}
	}
	return out
}
