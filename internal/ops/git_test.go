package ops

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

func initRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	run := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v\n%s", args, err, out)
		}
	}
	run("init")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "Test")
	return dir
}

func TestCommitRunner(t *testing.T) {
	repo := initRepo(t)
	if err := os.WriteFile(filepath.Join(repo, "a.txt"), []byte("one\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cmd := exec.Command("git", "-C", repo, "add", "a.txt")
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git add: %v\n%s", err, out)
	}

	r := NewCommitRunner(Limits{})
	out := r.Run(context.Background(), map[string]any{"repo": repo, "message": "add a.txt"})
	if out.Err != nil {
		t.Fatalf("Run: %+v (stderr: %s)", out.Err, out.Stderr)
	}

	if len(out.Changes) != 1 || out.Changes[0].EntityType != "commit" || out.Changes[0].Action != "created" {
		t.Fatalf("changes = %+v", out.Changes)
	}
	if hash, ok := out.Data["commit"].(string); !ok || len(hash) < 7 {
		t.Fatalf("commit hash not captured: %+v", out.Data)
	}

	if !out.UndoSupported || len(out.Undo) != 1 {
		t.Fatalf("undo = %+v", out.Undo)
	}
	step := out.Undo[0]
	if step.Tool != "shell.run" {
		t.Fatalf("undo tool = %q", step.Tool)
	}
	if step.Args["command"] != "git reset --soft HEAD~1" || step.Args["confirm"] != true {
		t.Fatalf("undo args = %+v", step.Args)
	}
}

func TestCommitRunnerNothingToCommit(t *testing.T) {
	repo := initRepo(t)

	r := NewCommitRunner(Limits{})
	out := r.Run(context.Background(), map[string]any{"repo": repo, "message": "empty"})
	if out.Err == nil || out.Err.Code != "nonzero_exit" {
		t.Fatalf("err = %+v", out.Err)
	}
	if out.UndoSupported {
		t.Fatal("failed commit must not advertise undo")
	}
}

func TestPushRunnerNoRemote(t *testing.T) {
	repo := initRepo(t)

	r := NewPushRunner(Limits{})
	out := r.Run(context.Background(), map[string]any{"repo": repo})
	if out.Err == nil || out.Err.Code != "nonzero_exit" {
		t.Fatalf("err = %+v", out.Err)
	}
}

func TestPushRunnerPreview(t *testing.T) {
	r := NewPushRunner(Limits{})
	if got := r.Preview(map[string]any{}); got != "Push to origin/main" {
		t.Fatalf("preview = %q", got)
	}
	if got := r.Preview(map[string]any{"remote": "upstream", "branch": "dev"}); got != "Push to upstream/dev" {
		t.Fatalf("preview = %q", got)
	}
}
