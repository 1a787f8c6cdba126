package plugin

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher monitors the plugin roots for manifest changes and invokes a
// callback once events settle. The host typically wires the callback to
// Registry.Reload. The engine never starts a watcher on its own.
type Watcher struct {
	watcher  *fsnotify.Watcher
	roots    []string
	settle   time.Duration
	onChange func(path string)
	logger   zerolog.Logger

	done     chan struct{}
	stopOnce sync.Once

	mu    sync.Mutex
	timer *time.Timer
}

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	// Roots are the plugin directories to monitor. Missing roots are
	// skipped.
	Roots []string

	// Settle is how long events must be quiet before OnChange fires.
	// Defaults to 250ms.
	Settle time.Duration

	// OnChange receives the path of the last manifest event in a burst.
	OnChange func(path string)

	Logger zerolog.Logger
}

// NewWatcher creates a watcher over the configured plugin roots.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if cfg.OnChange == nil {
		return nil, fmt.Errorf("watcher requires an OnChange callback")
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	settle := cfg.Settle
	if settle == 0 {
		settle = 250 * time.Millisecond
	}

	return &Watcher{
		watcher:  fsWatcher,
		roots:    append([]string(nil), cfg.Roots...),
		settle:   settle,
		onChange: cfg.OnChange,
		logger:   cfg.Logger.With().Str("component", "plugin-watcher").Logger(),
		done:     make(chan struct{}),
	}, nil
}

// Start begins monitoring. Roots that do not exist are skipped; they are not
// picked up retroactively.
func (w *Watcher) Start() error {
	watched := 0
	for _, root := range w.roots {
		if root == "" {
			continue
		}
		if _, err := os.Stat(root); err != nil {
			continue
		}
		err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if entry.IsDir() {
				return w.watcher.Add(path)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to watch plugin root %s: %w", root, err)
		}
		watched++
	}

	go w.eventLoop()
	w.logger.Info().Int("roots", watched).Msg("Plugin watcher started")
	return nil
}

// Stop ends monitoring. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()

		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()
	})
}

func (w *Watcher) eventLoop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("Watcher error")
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	// New plugin directories need their own watch.
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.watcher.Add(event.Name); err != nil {
				w.logger.Warn().Err(err).Str("dir", event.Name).Msg("Failed to watch new directory")
			}
			return
		}
	}

	if !strings.HasSuffix(event.Name, ManifestSuffix) {
		return
	}

	w.logger.Debug().Str("path", event.Name).Str("op", event.Op.String()).Msg("Manifest change")
	w.debounce(event.Name)
}

// debounce restarts the settle timer; the callback fires once events stop
// arriving for the settle window.
func (w *Watcher) debounce(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.settle, func() {
		select {
		case <-w.done:
			return
		default:
			w.onChange(path)
		}
	})
}
