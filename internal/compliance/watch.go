// ABOUTME: Policy file watcher that hot-reloads compliance rules via fsnotify.
// ABOUTME: Reload swaps the ruleset snapshot; in-flight checks are never interrupted.

package compliance

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the policy whenever the file changes, until ctx is canceled.
// Watching the parent directory keeps reloads working across editors that
// replace the file instead of writing it in place.
func (c *Checker) Watch(ctx context.Context) error {
	if c.path == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating policy watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(c.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching policy dir: %w", err)
	}
	c.logger.Info("watching compliance policy", "path", c.path)

	target := filepath.Clean(c.path)
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if err := c.Reload(); err != nil {
				// Keep serving the previous ruleset on a bad edit.
				c.logger.Error("policy reload failed, keeping previous rules", "error", err)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.logger.Error("policy watcher error", "error", err)
		}
	}
}
