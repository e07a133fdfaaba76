package compliance

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// reloadDelay coalesces the bursts of events editors produce on save.
const reloadDelay = 200 * time.Millisecond

// Watch reloads the catalog at path into v whenever the file changes,
// until ctx is done. A file that fails to load or validate is logged and
// the previous catalog stays in place. The directory is watched rather
// than the file so that atomic renames are seen.
func Watch(ctx context.Context, path string, v *Validator, log zerolog.Logger) error {
	path = filepath.Clean(path)
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating catalog watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(path), err)
	}
	log.Info().Str("path", path).Msg("watching code catalog")

	timer := time.NewTimer(reloadDelay)
	timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				timer.Reset(reloadDelay)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Error().Err(err).Msg("catalog watcher error")
		case <-timer.C:
			cat, err := LoadCatalogFile(path)
			if err != nil {
				log.Error().Err(err).Str("path", path).Msg("code catalog reload failed, keeping previous version")
				continue
			}
			old := v.Swap(cat)
			log.Info().Str("from", old.Version).Str("to", cat.Version).Msg("code catalog reloaded")
		}
	}
}
