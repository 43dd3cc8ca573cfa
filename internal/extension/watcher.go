package extension

import (
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce coalesces the event bursts a single install or update
// produces into one notification.
const watchDebounce = 500 * time.Millisecond

// Watcher observes the extension store for out-of-band changes (an
// extension dropped in or deleted by hand) and reports them debounced.
type Watcher struct {
	fw     *fsnotify.Watcher
	store  *Store
	logger *slog.Logger

	onChange func()
	done     chan struct{}
}

// NewWatcher starts watching the store root. onChange runs on the watcher
// goroutine after each settled burst of filesystem activity.
func NewWatcher(store *Store, logger *slog.Logger, onChange func()) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(store.Root()); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{
		fw:       fw,
		store:    store,
		logger:   logger,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	err := w.fw.Close()
	<-w.done
	return err
}

func (w *Watcher) loop() {
	defer close(w.done)

	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)

	for {
		select {
		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			w.logger.Debug("store changed", "op", event.Op.String(), "path", event.Name)
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
				timerCh = timer.C
			} else {
				timer.Reset(watchDebounce)
			}

		case <-timerCh:
			timer = nil
			timerCh = nil
			if w.onChange != nil {
				w.onChange()
			}

		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("store watch error", "error", err)
		}
	}
}

// relevant filters out activity in the scratch areas; staged installs and
// swap traffic are the manager's own doing.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	base := filepath.Base(filepath.Dir(event.Name))
	name := filepath.Base(event.Name)
	if strings.HasPrefix(name, ".") || base == stagingDirName || base == trashDirName {
		return false
	}
	return event.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0
}
