package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dmitrijs2005/uploadkeeper/internal/logging"
	"github.com/fsnotify/fsnotify"
)

// Watcher reloads sys.conf when it changes on disk and hands every valid
// result to onChange. Invalid edits are logged and ignored, so the previous
// configuration stays in force.
type Watcher struct {
	path     string
	args     []string
	debounce time.Duration
	logger   logging.Logger
	onChange func(*Config)
}

func NewWatcher(path string, args []string, debounce time.Duration, logger logging.Logger, onChange func(*Config)) *Watcher {
	return &Watcher{path: path, args: args, debounce: debounce, logger: logger, onChange: onChange}
}

// Run blocks until ctx is done. The parent directory is watched rather than
// the file itself, because atomic writers replace the inode.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}

	target := filepath.Clean(w.path)
	fire := make(chan struct{}, 1)
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if timer == nil {
				timer = time.AfterFunc(w.debounce, func() {
					select {
					case fire <- struct{}{}:
					default:
					}
				})
			} else {
				timer.Reset(w.debounce)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn(ctx, "config watch error", "error", err)

		case <-fire:
			cfg, err := Load(w.path, w.args)
			if err != nil {
				w.logger.Warn(ctx, "ignoring invalid config change", "path", w.path, "error", err)
				continue
			}
			w.logger.Info(ctx, "config reloaded", "path", w.path)
			w.onChange(cfg)
		}
	}
}
