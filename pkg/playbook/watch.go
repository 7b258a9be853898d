package playbook

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Watcher re-runs a callback whenever a watched playbook or inventory file
// changes on disk. It backs `bosun validate --watch`.
type Watcher struct {
	watcher  *fsnotify.Watcher
	paths    map[string]bool
	debounce time.Duration
	onChange func(path string)
}

// NewWatcher creates a watcher over the given files. Events are debounced:
// editors fire several write events per save.
func NewWatcher(paths []string, onChange func(path string)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		watcher:  fsw,
		paths:    make(map[string]bool, len(paths)),
		debounce: 200 * time.Millisecond,
		onChange: onChange,
	}
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			fsw.Close()
			return nil, err
		}
		w.paths[abs] = true
		// Watch the directory: editors replace files on save, which drops
		// a direct file watch.
		if err := fsw.Add(filepath.Dir(abs)); err != nil {
			fsw.Close()
			return nil, err
		}
	}
	return w, nil
}

// Run blocks, dispatching change callbacks until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	var (
		pending   string
		timer     = time.NewTimer(w.debounce)
		timerLive = false
	)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			abs, err := filepath.Abs(event.Name)
			if err != nil || !w.paths[abs] {
				continue
			}
			pending = abs
			if timerLive && !timer.Stop() {
				<-timer.C
			}
			timer.Reset(w.debounce)
			timerLive = true

		case <-timer.C:
			timerLive = false
			if pending != "" {
				log.Debug().Str("path", pending).Msg("watched file changed")
				w.onChange(pending)
				pending = ""
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("file watch error")
		}
	}
}
