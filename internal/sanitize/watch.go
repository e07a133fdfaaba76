package sanitize

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/dshills/commitgate/internal/patterns"
)

const reloadDelay = 200 * time.Millisecond

// Watch recompiles the pattern catalog at path into s whenever the file
// changes, until ctx is done. A catalog that fails to load or compile is
// logged and the current matcher stays in place.
func Watch(ctx context.Context, path string, s *Sanitizer, log zerolog.Logger) error {
	path = filepath.Clean(path)
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating pattern watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(path), err)
	}
	log.Info().Str("path", path).Msg("watching pattern catalog")

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
			if filepath.Clean(ev.Name) == path && ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				timer.Reset(reloadDelay)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Error().Err(err).Msg("pattern watcher error")
		case <-timer.C:
			if err := Reload(s, path); err != nil {
				log.Error().Err(err).Str("path", path).Msg("pattern catalog reload failed, keeping previous version")
				continue
			}
			log.Info().Str("version", s.Matcher().Version()).Msg("pattern catalog reloaded")
		}
	}
}

// Reload compiles the catalog at path and swaps it into s. On error s is
// left unchanged.
func Reload(s *Sanitizer, path string) error {
	cat, err := patterns.LoadCatalogFile(path)
	if err != nil {
		return err
	}
	m, err := patterns.Compile(cat)
	if err != nil {
		return fmt.Errorf("compiling %s: %w", path, err)
	}
	s.Swap(m)
	return nil
}
