package monitor

import (
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// mountWatcher turns filesystem events inside a mounted volume into
// activity signals, so direct file usage also resets the inactivity
// clock, not only application output.
type mountWatcher struct {
	watcher *fsnotify.Watcher
	wg      sync.WaitGroup
}

// Watch starts a filesystem watcher on the container's mount point. It is
// best-effort: the caller logs a failure and carries on, since stdout is
// still an activity source.
func (m *Monitor) Watch(name, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	w := &mountWatcher{watcher: watcher}
	m.mu.Lock()
	if old := m.watchers[name]; old != nil {
		defer old.close()
	}
	m.watchers[name] = w
	m.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case _, ok := <-watcher.Events:
				if !ok {
					return
				}
				m.RecordActivity(name)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				m.opts.Logger.Debug("mount watcher %s: %v", name, err)
			}
		}
	}()

	m.opts.Logger.Debug("watching %s for volume activity", dir)
	return nil
}

func (w *mountWatcher) close() {
	w.watcher.Close()
	w.wg.Wait()
}
