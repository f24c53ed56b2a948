// Package monitor tracks activity signals per container and triggers the
// auto-dismount sequence when a container has been idle longer than its
// configured timeout. All state is in-memory and lost on restart.
package monitor

import (
	"sync"
	"time"

	"github.com/nace/skrinja/internal/ui"
)

// Options wires a Monitor to its collaborators. Dismount runs the full
// stop-and-unmount sequence; TimeoutFor resolves the per-container
// inactivity timeout (falling back to a default when config is
// unreadable). Both are injected to keep the monitor decoupled from the
// lifecycle orchestrator.
type Options struct {
	CheckInterval time.Duration
	TimeoutFor    func(name string) time.Duration
	Dismount      func(name string) error
	Logger        *ui.Logger

	// Now is the clock; nil means time.Now. Tests use a fake.
	Now func() time.Time
}

// Monitor owns the activity records and the recurring inactivity checks.
// Records exist exactly while monitoring is scheduled for a container.
type Monitor struct {
	opts Options

	mu       sync.Mutex
	records  map[string]time.Time
	cancels  map[string]chan struct{}
	watchers map[string]*mountWatcher
	wg       sync.WaitGroup
}

// New creates a monitor
func New(opts Options) *Monitor {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Monitor{
		opts:     opts,
		records:  make(map[string]time.Time),
		cancels:  make(map[string]chan struct{}),
		watchers: make(map[string]*mountWatcher),
	}
}

// RecordActivity resets the inactivity clock for a container.
// Last-write-wins; safe to call frequently and for unmonitored names
// (then it is a no-op).
func (m *Monitor) RecordActivity(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[name]; !ok {
		return
	}
	m.records[name] = m.opts.Now()
}

// LastActivity returns the last observed activity for a container
func (m *Monitor) LastActivity(name string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.records[name]
	return t, ok
}

// Active reports whether a recurring inactivity check is scheduled
func (m *Monitor) Active(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.cancels[name]
	return ok
}

// StartMonitoring schedules the recurring inactivity check for a
// container, replacing any existing schedule, and records an initial
// activity timestamp.
func (m *Monitor) StartMonitoring(name string) {
	m.mu.Lock()
	if ch, ok := m.cancels[name]; ok {
		close(ch)
	}
	ch := make(chan struct{})
	m.cancels[name] = ch
	m.records[name] = m.opts.Now()
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.opts.CheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ch:
				return
			case <-ticker.C:
				m.checkInactivity(name)
			}
		}
	}()

	m.opts.Logger.Debug("monitoring started for %s (check every %s)", name, m.opts.CheckInterval)
}

// StopMonitoring cancels the schedule and removes the activity record.
// Stopping an unmonitored container is a no-op.
func (m *Monitor) StopMonitoring(name string) {
	m.mu.Lock()
	ch, ok := m.cancels[name]
	if ok {
		close(ch)
		delete(m.cancels, name)
	}
	delete(m.records, name)
	w := m.watchers[name]
	delete(m.watchers, name)
	m.mu.Unlock()

	if w != nil {
		w.close()
	}
	if ok {
		m.opts.Logger.Debug("monitoring stopped for %s", name)
	}
}

// checkInactivity runs the timeout decision for one tick. Dismount
// failures are logged and swallowed; the check fires again next tick as
// long as activity stays stale.
func (m *Monitor) checkInactivity(name string) {
	m.mu.Lock()
	last, ok := m.records[name]
	m.mu.Unlock()
	if !ok {
		return
	}

	elapsed := m.opts.Now().Sub(last)
	timeout := m.opts.TimeoutFor(name)
	if elapsed < timeout {
		return
	}

	m.opts.Logger.Info("%s inactive for %s (timeout %s), dismounting", name, elapsed.Round(time.Second), timeout)
	if err := m.opts.Dismount(name); err != nil {
		m.opts.Logger.Warning("auto-dismount of %s failed, will retry: %v", name, err)
		return
	}
	m.StopMonitoring(name)
}

// Shutdown cancels all monitoring and waits for the check loops to exit
func (m *Monitor) Shutdown() {
	m.mu.Lock()
	names := make([]string, 0, len(m.cancels))
	for name := range m.cancels {
		names = append(names, name)
	}
	m.mu.Unlock()

	for _, name := range names {
		m.StopMonitoring(name)
	}
	m.wg.Wait()
}
