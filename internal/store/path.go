package store

import (
	"path/filepath"
	"strings"

	"github.com/agentevolve/evocore/internal/store/errs"
)

// validatePath rejects any untrusted filesystem path that escapes baseDir,
// whether via ".." traversal or an absolute jump-out. An empty baseDir
// disables the check (used for ":memory:" and test harnesses that already
// control their own temp directory).
func validatePath(path, baseDir string) error {
	if path == ":memory:" || baseDir == "" {
		return nil
	}

	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return errs.Validationf("path", nil, "cannot resolve base directory: %v", err)
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return errs.Validationf("path", nil, "cannot resolve path: %v", err)
	}

	rel, err := filepath.Rel(absBase, absPath)
	if err != nil {
		return errs.Validationf("path", nil, "path %q is not under base directory %q", path, baseDir)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return errs.Validationf("path", nil, "path %q escapes base directory %q", path, baseDir)
	}
	return nil
}
