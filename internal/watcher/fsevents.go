package watcher

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/fsnotify/fsnotify"
)

// watchDB subscribes to the rpm database directory. Relevant events reset
// the debounce timer; when it fires a cycle is triggered.
func (w *Watcher) watchDB(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(w.opts.DBPath); err != nil {
		fsw.Close()
		return err
	}
	w.fsw = fsw

	w.wg.Add(1)
	go w.processEvents(ctx, fsw)
	return nil
}

func (w *Watcher) processEvents(ctx context.Context, fsw *fsnotify.Watcher) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			if !relevantEvent(ev) {
				continue
			}
			w.logger.WithFields(log.Fields{
				"path": ev.Name,
				"op":   ev.Op.String(),
			}).Debug("rpm database changed")
			w.scheduleTrigger()
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Warn("rpm database watch error")
		}
	}
}

// scheduleTrigger (re)starts the debounce timer.
func (w *Watcher) scheduleTrigger() {
	delay := w.opts.Debounce
	if delay <= 0 {
		w.Trigger()
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return
	}
	if w.debounce == nil {
		w.debounce = time.AfterFunc(delay, w.Trigger)
		return
	}
	w.debounce.Reset(delay)
}

// relevantEvent filters out chmod events and files rpm touches on every
// read (Berkeley DB environment files, the transaction lock, sqlite shared
// memory), which would otherwise make every cycle trigger the next.
func relevantEvent(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) &&
		!ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return false
	}
	base := filepath.Base(ev.Name)
	switch {
	case strings.HasPrefix(base, "__db."):
		return false
	case base == ".rpm.lock", base == ".dbenv.lock":
		return false
	case strings.HasSuffix(base, "-shm"):
		return false
	}
	return true
}
