package autoswitch

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ZebulonRouseFrantzich/zvm/internal/config"
	"github.com/ZebulonRouseFrantzich/zvm/internal/resolver"
)

// DefaultDebounce is how long Watch waits for more pin file events before
// applying.
const DefaultDebounce = 200 * time.Millisecond

// WatchOptions configures Watch.
type WatchOptions struct {
	Debounce time.Duration
	Logger   config.Logger
	// OnApply receives the result of every apply, including the initial one.
	OnApply func(*Report, error)
}

// Watch applies the pins for dir once, then again whenever a pin file in
// dir or one of its ancestors changes. It returns when ctx is done.
func Watch(ctx context.Context, target Target, dir string, opts WatchOptions) error {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	logger := config.OrNop(opts.Logger)
	notify := opts.OnApply
	if notify == nil {
		notify = func(*Report, error) {}
	}

	dir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolve watch directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	for _, d := range ancestors(dir) {
		if err := watcher.Add(d); err != nil {
			logger.Debug("Cannot watch directory", "dir", d, "error", err)
		}
	}

	notify(Apply(ctx, target, dir))

	// a stopped timer whose channel is drained
	timer := time.NewTimer(opts.Debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !resolver.IsPinFile(filepath.Base(event.Name)) {
				continue
			}
			logger.Debug("Pin file changed", "path", event.Name, "op", event.Op.String())
			timer.Reset(opts.Debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Watcher error", "error", err)

		case <-timer.C:
			notify(Apply(ctx, target, dir))
		}
	}
}

// ancestors returns dir and every parent up to the filesystem root.
func ancestors(dir string) []string {
	var dirs []string
	for {
		dirs = append(dirs, dir)
		parent := filepath.Dir(dir)
		if parent == dir {
			return dirs
		}
		dir = parent
	}
}
