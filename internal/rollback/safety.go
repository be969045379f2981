package rollback

import (
	"bytes"
	"context"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Confirmer asks the operator whether to proceed past a safety gate.
// The terminal implementation lives in the CLI layer; a nil confirmer means
// non-interactive mode.
type Confirmer interface {
	Confirm(prompt string) bool
}

// ConfirmFunc adapts a function to the Confirmer interface.
type ConfirmFunc func(prompt string) bool

func (f ConfirmFunc) Confirm(prompt string) bool { return f(prompt) }

// localChanges inspects the deployment tree for modifications that the
// restore would clobber. For a git checkout it asks git; otherwise it falls
// back to comparing file modification times against the backup's creation
// time.
func localChanges(ctx context.Context, deployDir string, since time.Time) []string {
	if _, err := os.Stat(filepath.Join(deployDir, ".git")); err == nil {
		if changes, ok := gitChanges(ctx, deployDir); ok {
			return changes
		}
	}
	return newerFiles(deployDir, since, 20)
}

// gitChanges returns uncommitted/unstaged paths per git status. The second
// return is false when git is unavailable or errors, so the caller can fall
// back to mtime comparison.
func gitChanges(ctx context.Context, dir string) ([]string, bool) {
	cmd := exec.CommandContext(ctx, "git", "status", "--porcelain")
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return nil, false
	}

	var changes []string
	for _, line := range strings.Split(out.String(), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		changes = append(changes, fields[len(fields)-1])
	}
	return changes, true
}

// newerFiles lists up to limit regular files under dir modified after since.
func newerFiles(dir string, since time.Time, limit int) []string {
	if since.IsZero() {
		return nil
	}
	var changed []string
	filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if len(changed) >= limit {
			return fs.SkipAll
		}
		if info.Mode().IsRegular() && info.ModTime().After(since) {
			if rel, err := filepath.Rel(dir, path); err == nil {
				changed = append(changed, rel)
			}
		}
		return nil
	})
	return changed
}
