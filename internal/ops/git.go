package ops

import (
	"context"
	"fmt"
	"strings"

	"github.com/opsgate/opsgate/pkg/types"
)

// CommitRunner implements the git.commit tool. A successful commit carries
// an undo step that soft-resets it, keeping the working tree intact.
type CommitRunner struct {
	limits Limits
}

func NewCommitRunner(limits Limits) *CommitRunner { return &CommitRunner{limits: limits} }

func (r *CommitRunner) Name() string { return "git.commit" }
func (r *CommitRunner) Kind() Kind   { return KindVCS }

func (r *CommitRunner) PolicyTarget(args map[string]any) (string, error) {
	return optionalString(args, "repo", "."), nil
}

func (r *CommitRunner) Preview(args map[string]any) string {
	message, _ := stringArg(args, "message")
	return fmt.Sprintf("Commit: %s", message)
}

func (r *CommitRunner) Run(ctx context.Context, args map[string]any) Outcome {
	message, err := requiredString(args, "message")
	if err != nil {
		return errOutcome("invalid_args", err.Error())
	}
	repo := optionalString(args, "repo", ".")

	argv := []string{"git", "-C", repo, "commit", "-m", message}
	if all, ok := args["all"].(bool); ok && all {
		argv = append(argv, "-a")
	}
	res := runProcess(ctx, "", r.limits.MaxOutputBytes, argv...)
	if res.StartErr != nil {
		return errOutcome("start_failed", res.StartErr.Error())
	}

	out := Outcome{
		Data:     map[string]any{"repo": repo, "message": message},
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
		ExitCode: intPtr(res.ExitCode),
	}
	switch {
	case res.TimedOut:
		out.Err = &types.OpError{Code: "timeout", Message: "git commit timed out", Timeout: true}
		return out
	case res.ExitCode != 0:
		out.Err = &types.OpError{Code: "nonzero_exit", Message: fmt.Sprintf("git commit exited with status %d", res.ExitCode)}
		return out
	}

	commitID := message
	if rev := runProcess(ctx, "", r.limits.MaxOutputBytes, "git", "-C", repo, "rev-parse", "HEAD"); rev.ExitCode == 0 {
		if hash := strings.TrimSpace(rev.Stdout); hash != "" {
			commitID = hash
			out.Data["commit"] = hash
		}
	}

	out.Changes = []types.Change{
		{EntityType: "commit", EntityID: commitID, Action: "created"},
	}
	out.Undo = []types.UndoStep{
		undoStep("shell.run",
			map[string]any{"command": "git reset --soft HEAD~1", "confirm": true},
			"Soft-reset the commit, keeping changes staged"),
	}
	out.UndoSupported = true
	return out
}

// PushRunner implements the git.push tool. Pushes publish state to a
// remote and are not reversible by this system.
type PushRunner struct {
	limits Limits
}

func NewPushRunner(limits Limits) *PushRunner { return &PushRunner{limits: limits} }

func (r *PushRunner) Name() string { return "git.push" }
func (r *PushRunner) Kind() Kind   { return KindVCS }

func (r *PushRunner) PolicyTarget(args map[string]any) (string, error) {
	return optionalString(args, "repo", "."), nil
}

func (r *PushRunner) Preview(args map[string]any) string {
	remote := optionalString(args, "remote", "origin")
	branch := optionalString(args, "branch", "main")
	return fmt.Sprintf("Push to %s/%s", remote, branch)
}

func (r *PushRunner) Run(ctx context.Context, args map[string]any) Outcome {
	repo := optionalString(args, "repo", ".")
	remote := optionalString(args, "remote", "origin")
	branch := optionalString(args, "branch", "main")

	res := runProcess(ctx, "", r.limits.MaxOutputBytes, "git", "-C", repo, "push", remote, branch)
	if res.StartErr != nil {
		return errOutcome("start_failed", res.StartErr.Error())
	}

	out := Outcome{
		Data:     map[string]any{"repo": repo, "remote": remote, "branch": branch},
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
		ExitCode: intPtr(res.ExitCode),
	}
	switch {
	case res.TimedOut:
		out.Err = &types.OpError{Code: "timeout", Message: "git push timed out", Timeout: true}
		return out
	case res.ExitCode != 0:
		out.Err = &types.OpError{Code: "nonzero_exit", Message: fmt.Sprintf("git push exited with status %d", res.ExitCode)}
		return out
	}

	out.Changes = []types.Change{
		{EntityType: "push", EntityID: remote + "/" + branch, Action: "executed"},
	}
	// A push cannot be safely reversed from here; force-pushing the remote
	// back would rewrite shared history.
	out.UndoSupported = false
	return out
}
