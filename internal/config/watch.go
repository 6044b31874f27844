package config

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher republishes a validated Config each time the backing file
// changes. Validation failures are logged and dropped: the previous,
// already-running config keeps serving (spec.md §7, "reload without
// tearing down").
type Watcher struct {
	path string
	log  *zap.Logger

	updates chan Config
	errs    chan error
	closeCh chan struct{}
	fsw     *fsnotify.Watcher
}

// Watch starts watching path for changes and returns a Watcher whose
// Updates channel receives a freshly validated Config on every change
// that parses and validates successfully.
func Watch(path string, log *zap.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// fsnotify watches the containing directory, not the file itself, so
	// editors that replace the file via rename-then-create still fire events.
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		path:    path,
		log:     log,
		updates: make(chan Config, 1),
		errs:    make(chan error, 1),
		closeCh: make(chan struct{}),
		fsw:     fsw,
	}
	go w.run()
	return w, nil
}

// Updates delivers each successfully reloaded Config.
func (w *Watcher) Updates() <-chan Config { return w.updates }

func (w *Watcher) run() {
	target := filepath.Clean(w.path)
	for {
		select {
		case <-w.closeCh:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				w.log.Warn("config reload rejected", zap.Error(err))
				continue
			}
			select {
			case w.updates <- cfg:
			default:
				// Drop the stale pending update in favor of the latest one.
				select {
				case <-w.updates:
				default:
				}
				w.updates <- cfg
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("config watcher error", zap.Error(err))
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.closeCh)
	return w.fsw.Close()
}
