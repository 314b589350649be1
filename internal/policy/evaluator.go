package policy

import (
	"fmt"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"github.com/opsgate/opsgate/pkg/types"
)

// Machine-checkable reason strings returned with every verdict. Reasons
// never carry file contents or secrets.
const (
	ReasonOK                 = "ok"
	ReasonDryRun             = "dry_run"
	ReasonConfirmed          = "confirmed"
	ReasonPathOutsideRoots   = "path_outside_roots"
	ReasonProtectedPath      = "protected_path"
	ReasonExtensionDenied    = "extension_denied"
	ReasonExtensionUnknown   = "extension_not_allowed"
	ReasonScriptWriteConfirm = "script_write_requires_confirm"
	ReasonBlockedSubstring   = "blocked_substring"
	ReasonCommandNotAllowed  = "command_not_allowed"
	ReasonDestructivePattern = "destructive_pattern"
	ReasonDeleteConfirm      = "delete_requires_confirm"
	ReasonVCSMutationConfirm = "vcs_mutation_requires_confirm"
	ReasonUnknownTool        = "unknown_tool"
	ReasonInvalidArgs        = "invalid_args"
)

// Verdict is the sole output of policy evaluation for a proposed operation.
type Verdict struct {
	Decision types.Decision
	Reason   string
}

func allow(reason string) Verdict { return Verdict{Decision: types.DecisionAllowed, Reason: reason} }
func deny(reason string) Verdict  { return Verdict{Decision: types.DecisionDenied, Reason: reason} }
func confirm(reason string) Verdict {
	return Verdict{Decision: types.DecisionPendingConfirm, Reason: reason}
}

// Evaluator holds a compiled, immutable policy snapshot. It is safe for
// concurrent use.
type Evaluator struct {
	policy *Policy

	roots      []string
	scriptsDir string

	allowedExt map[string]struct{}
	deniedExt  map[string]struct{}

	allowedCommands map[string]struct{}
	blocked         []string
	destructive     []string

	protected []glob.Glob

	ttl time.Duration
}

func NewEvaluator(p *Policy) (*Evaluator, error) {
	e := &Evaluator{
		policy:          p,
		allowedExt:      map[string]struct{}{},
		deniedExt:       map[string]struct{}{},
		allowedCommands: map[string]struct{}{},
		ttl:             p.ConfirmationTTL.Duration,
	}
	if e.ttl <= 0 {
		e.ttl = 10 * time.Minute
	}

	for _, r := range p.AllowedRoots {
		cr := Canonicalize(r)
		if cr == "" {
			return nil, fmt.Errorf("empty allowed root")
		}
		e.roots = append(e.roots, cr)
	}
	if p.ScriptsDir != "" {
		e.scriptsDir = Canonicalize(p.ScriptsDir)
	}

	for _, x := range p.AllowedWriteExtensions {
		e.allowedExt[normalizeExt(x)] = struct{}{}
	}
	for _, x := range p.DeniedWriteExtensions {
		e.deniedExt[normalizeExt(x)] = struct{}{}
	}
	for _, c := range p.AllowedCommands {
		e.allowedCommands[strings.ToLower(strings.TrimSpace(c))] = struct{}{}
	}
	for _, s := range p.BlockedSubstrings {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			e.blocked = append(e.blocked, s)
		}
	}
	for _, s := range p.DestructivePatterns {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			e.destructive = append(e.destructive, s)
		}
	}
	for _, pat := range p.ProtectedPaths {
		g, err := glob.Compile(pat, '/')
		if err != nil {
			return nil, fmt.Errorf("compile protected path %q: %w", pat, err)
		}
		e.protected = append(e.protected, g)
	}
	return e, nil
}

// ConfirmationTTL is the lifetime of issued confirmation tokens.
func (e *Evaluator) ConfirmationTTL() time.Duration { return e.ttl }

// PolicyName identifies the loaded policy in logs and receipts.
func (e *Evaluator) PolicyName() string { return e.policy.Name }

func (e *Evaluator) protectedPath(canonical string) bool {
	slashed := strings.ReplaceAll(canonical, "\\", "/")
	for _, g := range e.protected {
		if g.Match(slashed) {
			return true
		}
	}
	return false
}

// EvaluateFileWrite decides whether a write to path may proceed. Location
// checks run first, then protected-path globs, then the extension policy.
func (e *Evaluator) EvaluateFileWrite(path string) Verdict {
	if !e.PathAllowed(path) {
		return deny(ReasonPathOutsideRoots)
	}
	if e.protectedPath(Canonicalize(path)) {
		return deny(ReasonProtectedPath)
	}
	return e.classifyWriteTarget(path)
}

// EvaluateFileDelete decides whether deleting path may proceed. Deletions
// inside allowed roots always require confirmation.
func (e *Evaluator) EvaluateFileDelete(path string) Verdict {
	if !e.PathAllowed(path) {
		return deny(ReasonPathOutsideRoots)
	}
	if e.protectedPath(Canonicalize(path)) {
		return deny(ReasonProtectedPath)
	}
	return confirm(ReasonDeleteConfirm)
}

// EvaluateShell classifies a raw command line. Blocked substrings deny
// unconditionally and are never bypassable by confirmation; the allowlist
// check follows; destructive patterns then require confirmation unless the
// request is a dry run, which executes nothing.
func (e *Evaluator) EvaluateShell(command string, dryRun bool) Verdict {
	lower := strings.ToLower(command)
	for _, b := range e.blocked {
		if strings.Contains(lower, b) {
			return deny(ReasonBlockedSubstring)
		}
	}
	base := baseCommand(command)
	if base == "" {
		return deny(ReasonCommandNotAllowed)
	}
	if _, ok := e.allowedCommands[base]; !ok {
		return deny(ReasonCommandNotAllowed)
	}
	if dryRun {
		return allow(ReasonDryRun)
	}
	for _, d := range e.destructive {
		if strings.Contains(lower, d) {
			return confirm(ReasonDestructivePattern)
		}
	}
	return allow(ReasonOK)
}

// EvaluateVCS decides a version-control mutation against a repository path.
// All VCS mutations are conditionally destructive and require confirmation
// once the repository location is authorized.
func (e *Evaluator) EvaluateVCS(repoPath string) Verdict {
	if !e.PathAllowed(repoPath) {
		return deny(ReasonPathOutsideRoots)
	}
	return confirm(ReasonVCSMutationConfirm)
}
