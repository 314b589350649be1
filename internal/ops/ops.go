// Package ops implements the operation runners the gateway dispatches to
// once a request is authorized. Runners execute the side effect, describe
// what changed and how to reverse it, and never see policy: the gateway
// decides, runners act.
package ops

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/opsgate/opsgate/pkg/types"
)

// Kind selects which policy evaluation applies to a runner's operations.
type Kind string

const (
	KindFileWrite  Kind = "file_write"
	KindFileDelete Kind = "file_delete"
	KindShell      Kind = "shell"
	KindVCS        Kind = "vcs"
)

// Outcome is everything an executed operation reports back for its receipt.
type Outcome struct {
	Data          map[string]any
	Changes       []types.Change
	Undo          []types.UndoStep
	UndoSupported bool

	Stdout   string
	Stderr   string
	ExitCode *int
	Err      *types.OpError
}

// Runner executes one tool. Implementations must be safe for concurrent use.
type Runner interface {
	Name() string
	Kind() Kind

	// PolicyTarget extracts the value policy evaluation runs against: the
	// write path, the raw command line, or the repository path.
	PolicyTarget(args map[string]any) (string, error)

	// Preview renders a short human-readable description of the proposed
	// call, shown alongside a confirmation token.
	Preview(args map[string]any) string

	Run(ctx context.Context, args map[string]any) Outcome
}

// Limits bounds execution and undo capture. Zero fields fall back to
// defaults at construction time in config.
type Limits struct {
	DefaultTimeout      time.Duration
	MaxTimeout          time.Duration
	MaxOutputBytes      int64
	MaxUndoCaptureBytes int64
}

// ChooseTimeout picks the execution bound: the caller-supplied duration
// when valid, capped at the configured maximum.
func (l Limits) ChooseTimeout(requested string) time.Duration {
	timeout := l.DefaultTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if requested != "" {
		if d, err := time.ParseDuration(requested); err == nil && d > 0 {
			timeout = d
		}
	}
	if l.MaxTimeout > 0 && timeout > l.MaxTimeout {
		timeout = l.MaxTimeout
	}
	return timeout
}

// Registry maps tool names to runners.
type Registry struct {
	runners map[string]Runner
}

func NewRegistry(runners ...Runner) *Registry {
	r := &Registry{runners: make(map[string]Runner, len(runners))}
	for _, runner := range runners {
		r.runners[runner.Name()] = runner
	}
	return r
}

func (r *Registry) Register(runner Runner) {
	r.runners[runner.Name()] = runner
}

func (r *Registry) Lookup(tool string) (Runner, bool) {
	runner, ok := r.runners[tool]
	return runner, ok
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.runners))
	for name := range r.runners {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func stringArg(args map[string]any, key string) (string, bool) {
	v, ok := args[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func requiredString(args map[string]any, key string) (string, error) {
	s, ok := stringArg(args, key)
	if !ok || s == "" {
		return "", fmt.Errorf("missing required argument %q", key)
	}
	return s, nil
}

func optionalString(args map[string]any, key, fallback string) string {
	if s, ok := stringArg(args, key); ok && s != "" {
		return s
	}
	return fallback
}

func changeForFile(path, action string) types.Change {
	return types.Change{EntityType: "file", EntityID: path, Action: action}
}

func undoStep(tool string, args map[string]any, description string) types.UndoStep {
	return types.UndoStep{Tool: tool, Args: args, Description: description}
}

func errOutcome(code, msg string) Outcome {
	return Outcome{Err: &types.OpError{Code: code, Message: msg}}
}

func intPtr(v int) *int { return &v }
