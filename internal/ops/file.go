package ops

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// WriteRunner implements the file.write tool. When it overwrites an
// existing file it captures the prior content (up to the configured bound)
// so the write can be reversed; new files are reversed by deletion.
type WriteRunner struct {
	limits Limits
}

func NewWriteRunner(limits Limits) *WriteRunner { return &WriteRunner{limits: limits} }

func (r *WriteRunner) Name() string { return "file.write" }
func (r *WriteRunner) Kind() Kind   { return KindFileWrite }

func (r *WriteRunner) PolicyTarget(args map[string]any) (string, error) {
	return requiredString(args, "path")
}

func (r *WriteRunner) Preview(args map[string]any) string {
	path, _ := stringArg(args, "path")
	content, _ := stringArg(args, "content")
	return fmt.Sprintf("Write %d bytes to %s", len(content), path)
}

func (r *WriteRunner) Run(ctx context.Context, args map[string]any) Outcome {
	path, err := requiredString(args, "path")
	if err != nil {
		return errOutcome("invalid_args", err.Error())
	}
	content, _ := stringArg(args, "content")

	existed := false
	priorCaptured := false
	var prior string
	if info, statErr := os.Stat(path); statErr == nil {
		if info.IsDir() {
			return errOutcome("is_directory", fmt.Sprintf("%s is a directory", path))
		}
		existed = true
		maxCapture := r.limits.MaxUndoCaptureBytes
		if maxCapture <= 0 || info.Size() <= maxCapture {
			b, readErr := os.ReadFile(path)
			if readErr == nil {
				prior = string(b)
				priorCaptured = true
			}
		}
	}

	if mkErr := os.MkdirAll(filepath.Dir(path), 0o755); mkErr != nil {
		return errOutcome("write_failed", fmt.Sprintf("create parent directory: %v", mkErr))
	}
	if writeErr := os.WriteFile(path, []byte(content), 0o644); writeErr != nil {
		return errOutcome("write_failed", writeErr.Error())
	}

	out := Outcome{
		Data: map[string]any{"path": path, "bytes_written": len(content)},
	}

	action := "created"
	if existed {
		action = "updated"
	}
	change := changeForFile(path, action)
	if existed && priorCaptured {
		change.Before = map[string]any{"content": prior}
	}
	out.Changes = append(out.Changes, change)

	switch {
	case !existed:
		out.Undo = append(out.Undo, undoStep("file.delete",
			map[string]any{"path": path, "confirm": true},
			fmt.Sprintf("Delete the newly created %s", path)))
		out.UndoSupported = true
	case priorCaptured:
		out.Undo = append(out.Undo, undoStep("file.write",
			map[string]any{"path": path, "content": prior, "confirm": true},
			fmt.Sprintf("Restore previous content of %s", path)))
		out.UndoSupported = true
	default:
		// Prior content was too large to capture or unreadable. The write
		// stands but cannot be reversed from the receipt.
		out.UndoSupported = false
	}
	return out
}

// DeleteRunner implements the file.delete tool. Deleted content is captured
// for undo when it fits the configured bound.
type DeleteRunner struct {
	limits Limits
}

func NewDeleteRunner(limits Limits) *DeleteRunner { return &DeleteRunner{limits: limits} }

func (r *DeleteRunner) Name() string { return "file.delete" }
func (r *DeleteRunner) Kind() Kind   { return KindFileDelete }

func (r *DeleteRunner) PolicyTarget(args map[string]any) (string, error) {
	return requiredString(args, "path")
}

func (r *DeleteRunner) Preview(args map[string]any) string {
	path, _ := stringArg(args, "path")
	return fmt.Sprintf("Delete %s", path)
}

func (r *DeleteRunner) Run(ctx context.Context, args map[string]any) Outcome {
	path, err := requiredString(args, "path")
	if err != nil {
		return errOutcome("invalid_args", err.Error())
	}

	info, statErr := os.Stat(path)
	if statErr != nil {
		if os.IsNotExist(statErr) {
			return errOutcome("not_found", fmt.Sprintf("%s does not exist", path))
		}
		return errOutcome("delete_failed", statErr.Error())
	}
	if info.IsDir() {
		return errOutcome("is_directory", fmt.Sprintf("%s is a directory", path))
	}

	priorCaptured := false
	var prior string
	maxCapture := r.limits.MaxUndoCaptureBytes
	if maxCapture <= 0 || info.Size() <= maxCapture {
		if b, readErr := os.ReadFile(path); readErr == nil {
			prior = string(b)
			priorCaptured = true
		}
	}

	if rmErr := os.Remove(path); rmErr != nil {
		return errOutcome("delete_failed", rmErr.Error())
	}

	out := Outcome{
		Data: map[string]any{"path": path},
	}
	change := changeForFile(path, "deleted")
	if priorCaptured {
		change.Before = map[string]any{"content": prior}
	}
	out.Changes = append(out.Changes, change)

	if priorCaptured {
		out.Undo = append(out.Undo, undoStep("file.write",
			map[string]any{"path": path, "content": prior, "confirm": true},
			fmt.Sprintf("Recreate %s with its previous content", path)))
		out.UndoSupported = true
	}
	return out
}
