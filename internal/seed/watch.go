package seed

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultWatchDebounce = 200 * time.Millisecond

// Watch imports root once, then re-imports after component files are
// created or written. Removed files are not deleted from the store. It
// returns nil when ctx ends.
func (s *Seeder) Watch(ctx context.Context, root string, debounce time.Duration, onImport func(Report, error)) error {
	if debounce <= 0 {
		debounce = defaultWatchDebounce
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	defer watcher.Close()
	if err := addDirs(watcher, root); err != nil {
		return err
	}

	runImport := func() {
		report, err := s.ImportDir(ctx, root)
		if onImport != nil {
			onImport(report, err)
		}
	}
	runImport()

	var (
		timer *time.Timer
		fired <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) && isDir(event.Name) {
				// Files can land in a new directory before it is watched.
				if err := addDirs(watcher, event.Name); err != nil {
					s.logger.Warn("watch new directory failed", zap.String("path", event.Name), zap.Error(err))
				}
			} else if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			} else if !strings.EqualFold(filepath.Ext(event.Name), componentExt) {
				continue
			}
			s.logger.Debug("component changed", zap.String("path", event.Name), zap.String("op", event.Op.String()))
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(debounce)
			}
			fired = timer.C
		case <-fired:
			fired = nil
			runImport()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("file watcher error", zap.Error(err))
		}
	}
}

func addDirs(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := watcher.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
