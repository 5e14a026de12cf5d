package resources

import (
	"context"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the loader's directory when resource files change.
// Events are debounced so editors that write multiple times trigger a
// single reload. Blocks until ctx is cancelled.
func (l *Loader) Watch(ctx context.Context, debounce time.Duration) error {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(l.dir); err != nil {
		return err
	}

	var timer *time.Timer
	fire := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isResourceFile(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.logger.Warn("resource watcher error", "error", err)
		case <-fire:
			count, err := l.Reload()
			if err != nil {
				l.logger.Error("resource reload failed", "error", err)
				continue
			}
			l.logger.Info("resources reloaded", "count", count)
		}
	}
}

func isResourceFile(path string) bool {
	lower := strings.ToLower(path)
	return strings.HasSuffix(lower, ".yaml") || strings.HasSuffix(lower, ".yml")
}
