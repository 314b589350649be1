package policy

import (
	"path/filepath"
	"runtime"
	"strings"
)

// caseInsensitiveFS reports whether the platform's default filesystem
// compares paths case-insensitively, in which case canonical paths are
// folded to lower case before comparison.
var caseInsensitiveFS = runtime.GOOS == "darwin" || runtime.GOOS == "windows"

// Canonicalize resolves a path to its canonical absolute form: absolute,
// cleaned, symlinks resolved where the filesystem allows, and case-folded
// on case-insensitive platforms. It never fails; on resolution errors the
// cleaned absolute path is used as-is.
func Canonicalize(p string) string {
	if strings.TrimSpace(p) == "" {
		return ""
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		abs = filepath.Clean(p)
	}
	abs = filepath.Clean(abs)
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	} else if resolvedDir, err := filepath.EvalSymlinks(filepath.Dir(abs)); err == nil {
		// Target may not exist yet (e.g. a file about to be written);
		// resolve the parent and keep the final element.
		abs = filepath.Join(resolvedDir, filepath.Base(abs))
	}
	if caseInsensitiveFS {
		abs = strings.ToLower(abs)
	}
	return abs
}

// isPathAncestor reports whether root is an ancestor of p (or equal to it),
// comparing whole path segments. A raw string-prefix check would accept
// "/allowed-root-evil" as inside "/allowed-root"; splitting into segments
// closes that hole.
func isPathAncestor(root, p string) bool {
	if root == "" || p == "" {
		return false
	}
	rootSeg := splitSegments(root)
	pSeg := splitSegments(p)
	if len(pSeg) < len(rootSeg) {
		return false
	}
	for i, s := range rootSeg {
		if pSeg[i] != s {
			return false
		}
	}
	return true
}

func splitSegments(p string) []string {
	parts := strings.Split(filepath.ToSlash(p), "/")
	out := parts[:0]
	for _, s := range parts {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// PathAllowed reports whether the canonical form of p falls under one of
// the configured roots or the scripts directory. Unauthorized paths simply
// return false; the caller must deny.
func (e *Evaluator) PathAllowed(p string) bool {
	cp := Canonicalize(p)
	if cp == "" {
		return false
	}
	for _, r := range e.roots {
		if isPathAncestor(r, cp) {
			return true
		}
	}
	return e.scriptsDir != "" && isPathAncestor(e.scriptsDir, cp)
}

// InScriptsDir reports whether the canonical form of p falls under the
// configured scripts directory.
func (e *Evaluator) InScriptsDir(p string) bool {
	if e.scriptsDir == "" {
		return false
	}
	return isPathAncestor(e.scriptsDir, Canonicalize(p))
}
