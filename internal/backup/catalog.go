package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Catalog tracks the backup artifacts available in a directory and answers
// "what is the most recent backup for this environment". It can optionally
// watch the directory so artifacts created while a monitoring session runs
// become visible without a rescan.
type Catalog struct {
	dir    string
	logger *zap.Logger

	mu        sync.RWMutex
	artifacts map[string]*Artifact // keyed by path
}

// NewCatalog creates a catalog over dir and performs an initial scan.
func NewCatalog(dir string, logger *zap.Logger) (*Catalog, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Catalog{
		dir:       dir,
		logger:    logger.Named("catalog"),
		artifacts: make(map[string]*Artifact),
	}
	if err := c.Rescan(); err != nil {
		return nil, err
	}
	return c, nil
}

// isArtifactFile reports whether name looks like a backup archive rather
// than a sidecar (checksum or manifest) file.
func isArtifactFile(name string) bool {
	if strings.HasSuffix(name, ".sha256") || strings.HasSuffix(name, ".meta.yaml") {
		return false
	}
	return strings.HasSuffix(name, ".tar.gz") || strings.HasSuffix(name, ".tgz")
}

// Rescan rebuilds the catalog from the directory contents.
func (c *Catalog) Rescan() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("scan backup directory %s: %w", c.dir, err)
	}

	found := make(map[string]*Artifact)
	for _, entry := range entries {
		if entry.IsDir() || !isArtifactFile(entry.Name()) {
			continue
		}
		path := filepath.Join(c.dir, entry.Name())
		art, err := LoadArtifact(path)
		if err != nil {
			c.logger.Warn("skipping unreadable artifact", zap.String("path", path), zap.Error(err))
			continue
		}
		found[path] = art
	}

	c.mu.Lock()
	c.artifacts = found
	c.mu.Unlock()

	c.logger.Debug("catalog scanned", zap.String("dir", c.dir), zap.Int("artifacts", len(found)))
	return nil
}

// Latest returns the newest artifact for the environment, or nil if the
// catalog holds none. Artifacts without an environment tag match any
// environment.
func (c *Catalog) Latest(environment string) *Artifact {
	c.mu.RLock()
	defer c.mu.RUnlock()

	candidates := make([]*Artifact, 0, len(c.artifacts))
	for _, art := range c.artifacts {
		if art.Environment == "" || art.Environment == environment {
			candidates = append(candidates, art)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].CreatedAt.After(candidates[j].CreatedAt)
	})
	return candidates[0]
}

// Len returns the number of cataloged artifacts.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.artifacts)
}

// Watch keeps the catalog current until ctx is cancelled. It is best-effort:
// watcher errors are logged, never fatal, since the catalog can always be
// rescanned on demand.
func (c *Catalog) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(c.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", c.dir, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !isArtifactFile(filepath.Base(event.Name)) {
					continue
				}
				switch {
				case event.Has(fsnotify.Create) || event.Has(fsnotify.Write):
					art, err := LoadArtifact(event.Name)
					if err != nil {
						c.logger.Warn("ignoring artifact event", zap.String("path", event.Name), zap.Error(err))
						continue
					}
					c.mu.Lock()
					c.artifacts[event.Name] = art
					c.mu.Unlock()
					c.logger.Info("new backup artifact cataloged", zap.String("path", event.Name))
				case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
					c.mu.Lock()
					delete(c.artifacts, event.Name)
					c.mu.Unlock()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				c.logger.Warn("backup directory watch error", zap.Error(err))
			}
		}
	}()

	return nil
}
