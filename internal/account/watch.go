package account

import (
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// StoreWatch observes the on-disk account store file for external writes
// (e.g. another process editing the backing store directly) and drives the
// edit-lifecycle rule: a ReadyEdit account picks up the
// change immediately via Reload, while an account mid-edit (Editing or
// Modified) is deferred into Outdated rather than silently discarding the
// in-progress edit — Reload itself already implements that deferral, this
// watcher just supplies the external trigger the Account model expects.
type StoreWatch struct {
	watcher *fsnotify.Watcher
	list    *List
	done    chan struct{}
}

// WatchStore starts watching storePath's containing directory (sqlite
// rewrites WAL/shm siblings alongside the main file, so directory-level
// watching catches every variant) and calls Reload on every account in l
// whenever storePath itself is written. Call Close to stop watching.
func WatchStore(l *List, storePath string) (*StoreWatch, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("account: create store watcher: %w", err)
	}
	dir := filepath.Dir(storePath)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("account: watch %s: %w", dir, err)
	}

	sw := &StoreWatch{watcher: watcher, list: l, done: make(chan struct{})}
	base := filepath.Base(storePath)
	go sw.loop(base)
	return sw, nil
}

func (sw *StoreWatch) loop(storeBase string) {
	defer close(sw.done)
	for {
		select {
		case ev, ok := <-sw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != storeBase {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			sw.reloadAll()
		case err, ok := <-sw.watcher.Errors:
			if !ok {
				return
			}
			log.Warnw("account store watch error", "err", err)
		}
	}
}

func (sw *StoreWatch) reloadAll() {
	for _, a := range sw.list.All() {
		if err := a.Reload(); err != nil {
			log.Warnw("external reload failed", "account", a.ID(), "err", err)
		}
	}
}

// Close stops the watch and releases the underlying fsnotify.Watcher.
func (sw *StoreWatch) Close() error {
	err := sw.watcher.Close()
	<-sw.done
	return err
}
