package policy

import (
	"path/filepath"
	"strings"
)

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" {
		return ""
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// classifyWriteTarget applies the extension policy to a write target.
// Denied extensions (executables, installers, scripts) are rejected unless
// the target resolves inside the scripts directory, which downgrades the
// rejection to a confirmation. Extensions absent from both lists are denied
// (fail closed). Extensionless targets are allowed: directories and bare
// config files are common, and the path authorizer already constrains
// location.
func (e *Evaluator) classifyWriteTarget(path string) Verdict {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return allow(ReasonOK)
	}
	if _, denied := e.deniedExt[ext]; denied {
		if e.InScriptsDir(path) {
			return confirm(ReasonScriptWriteConfirm)
		}
		return deny(ReasonExtensionDenied)
	}
	if _, ok := e.allowedExt[ext]; ok {
		return allow(ReasonOK)
	}
	return deny(ReasonExtensionUnknown)
}
