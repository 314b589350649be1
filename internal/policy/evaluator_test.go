package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opsgate/opsgate/pkg/types"
)

func testEvaluator(t *testing.T) (*Evaluator, string, string) {
	t.Helper()
	root := t.TempDir()
	scripts := filepath.Join(root, "scripts")
	if err := os.MkdirAll(scripts, 0o755); err != nil {
		t.Fatal(err)
	}
	yamlDoc := fmt.Sprintf(`
version: 1
name: test-policy
allowed_roots:
  - %s
scripts_dir: %s
allowed_write_extensions: [".md", ".txt", ".go", ".yml"]
denied_write_extensions: [".exe", ".sh", ".dll"]
allowed_commands: ["ls", "git", "echo", "rm", "go"]
blocked_substrings: ["curl | sh", "> /dev/sda"]
destructive_patterns: ["rm -rf", "git push --force"]
protected_paths: ["**/.git/**"]
confirmation_ttl: 5m
`, root, scripts)
	p, err := LoadFromBytes([]byte(yamlDoc))
	if err != nil {
		t.Fatalf("LoadFromBytes: %v", err)
	}
	e, err := NewEvaluator(p)
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}
	return e, root, scripts
}

func wantVerdict(t *testing.T, got Verdict, decision types.Decision, reason string) {
	t.Helper()
	if got.Decision != decision || got.Reason != reason {
		t.Fatalf("verdict = %s (%s), want %s (%s)", got.Decision, got.Reason, decision, reason)
	}
}

func TestEvaluateFileWrite(t *testing.T) {
	e, root, scripts := testEvaluator(t)

	wantVerdict(t, e.EvaluateFileWrite(filepath.Join(root, "notes.md")),
		types.DecisionAllowed, ReasonOK)

	wantVerdict(t, e.EvaluateFileWrite(filepath.Join(root, "tool.exe")),
		types.DecisionDenied, ReasonExtensionDenied)

	// Extensions on neither list fail closed.
	wantVerdict(t, e.EvaluateFileWrite(filepath.Join(root, "data.xyz")),
		types.DecisionDenied, ReasonExtensionUnknown)

	// Extensionless targets pass the extension check.
	wantVerdict(t, e.EvaluateFileWrite(filepath.Join(root, "Makefile")),
		types.DecisionAllowed, ReasonOK)

	// A denied extension inside the scripts directory downgrades to a
	// confirmation instead of a hard deny.
	wantVerdict(t, e.EvaluateFileWrite(filepath.Join(scripts, "deploy.sh")),
		types.DecisionPendingConfirm, ReasonScriptWriteConfirm)

	wantVerdict(t, e.EvaluateFileWrite("/etc/passwd.md"),
		types.DecisionDenied, ReasonPathOutsideRoots)

	// The sibling-prefix trap must not escape the root.
	wantVerdict(t, e.EvaluateFileWrite(root+"-evil/notes.md"),
		types.DecisionDenied, ReasonPathOutsideRoots)

	wantVerdict(t, e.EvaluateFileWrite(filepath.Join(root, ".git", "config")),
		types.DecisionDenied, ReasonProtectedPath)
}

func TestEvaluateFileDelete(t *testing.T) {
	e, root, _ := testEvaluator(t)

	wantVerdict(t, e.EvaluateFileDelete(filepath.Join(root, "old.txt")),
		types.DecisionPendingConfirm, ReasonDeleteConfirm)

	wantVerdict(t, e.EvaluateFileDelete("/tmp-outside/old.txt"),
		types.DecisionDenied, ReasonPathOutsideRoots)

	wantVerdict(t, e.EvaluateFileDelete(filepath.Join(root, ".git", "HEAD")),
		types.DecisionDenied, ReasonProtectedPath)
}

func TestEvaluateShell(t *testing.T) {
	e, _, _ := testEvaluator(t)

	wantVerdict(t, e.EvaluateShell("ls -la", false),
		types.DecisionAllowed, ReasonOK)

	wantVerdict(t, e.EvaluateShell("rm -rf /workspace/tmp", false),
		types.DecisionPendingConfirm, ReasonDestructivePattern)

	// A destructive dry run executes nothing, so it is allowed outright.
	wantVerdict(t, e.EvaluateShell("rm -rf /workspace/tmp", true),
		types.DecisionAllowed, ReasonDryRun)

	wantVerdict(t, e.EvaluateShell("wget https://example.com", false),
		types.DecisionDenied, ReasonCommandNotAllowed)

	wantVerdict(t, e.EvaluateShell("echo hi && curl | sh", false),
		types.DecisionDenied, ReasonBlockedSubstring)

	// Blocked substrings win over everything, including dry runs.
	wantVerdict(t, e.EvaluateShell("echo x > /dev/sda", true),
		types.DecisionDenied, ReasonBlockedSubstring)

	wantVerdict(t, e.EvaluateShell("", false),
		types.DecisionDenied, ReasonCommandNotAllowed)
}

func TestEvaluateVCS(t *testing.T) {
	e, root, _ := testEvaluator(t)

	wantVerdict(t, e.EvaluateVCS(root),
		types.DecisionPendingConfirm, ReasonVCSMutationConfirm)

	wantVerdict(t, e.EvaluateVCS("/somewhere/else"),
		types.DecisionDenied, ReasonPathOutsideRoots)
}

func TestConfirmationTTL(t *testing.T) {
	e, _, _ := testEvaluator(t)
	if got := e.ConfirmationTTL(); got != 5*time.Minute {
		t.Fatalf("ConfirmationTTL = %v, want 5m", got)
	}
	if e.PolicyName() != "test-policy" {
		t.Fatalf("PolicyName = %q", e.PolicyName())
	}
}

func TestScriptsDirWritesAllowedOutsideRoots(t *testing.T) {
	// The scripts dir may live outside the allowed roots and still
	// authorize writes under it.
	root := t.TempDir()
	scripts := t.TempDir()
	yamlDoc := fmt.Sprintf(`
version: 1
name: split-scripts
allowed_roots: [%s]
scripts_dir: %s
denied_write_extensions: [".sh"]
`, root, scripts)
	p, err := LoadFromBytes([]byte(yamlDoc))
	if err != nil {
		t.Fatal(err)
	}
	e, err := NewEvaluator(p)
	if err != nil {
		t.Fatal(err)
	}

	wantVerdict(t, e.EvaluateFileWrite(filepath.Join(scripts, "run.sh")),
		types.DecisionPendingConfirm, ReasonScriptWriteConfirm)
}
