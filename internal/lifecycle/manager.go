// Package lifecycle composes the encryption driver, mount controller,
// application supervisor and activity monitor into the public container
// operations and owns the container's observable status.
package lifecycle

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nace/skrinja/internal/config"
	"github.com/nace/skrinja/internal/container"
	"github.com/nace/skrinja/internal/monitor"
	"github.com/nace/skrinja/internal/supervisor"
	"github.com/nace/skrinja/internal/system"
	"github.com/nace/skrinja/internal/ui"
)

// CryptDriver is the encryption layer the manager drives.
type CryptDriver interface {
	Create(path string, password *system.SecureBytes, sizeBytes uint64, fsType string) error
	Open(path string, password *system.SecureBytes) (*container.Mapping, error)
	Close(path string) error
	State(path string) container.EncryptionState
	Lookup(path string) *container.Mapping
	VerifyPassword(path string, password *system.SecureBytes) bool
	ChangePassword(path string, oldPassword, newPassword *system.SecureBytes) error
}

// Mounter is the filesystem mount layer.
type Mounter interface {
	Mount(device, mountPoint string) error
	Unmount(mountPoint string) error
	IsMounted(device, mountPoint string) bool
	UsedSpace(mountPoint string) (size uint64, used uint64, err error)
}

// AppRunner supervises the applications hosted inside a mounted volume.
type AppRunner interface {
	StartAll(name, mountPoint string, apps []container.ApplicationSpec) []supervisor.Result
	StopAll(name string, apps []container.ApplicationSpec) []supervisor.Result
	Reachable(addr string) bool
}

const (
	dismountPollAttempts = 5
	dismountPollDelay    = 2 * time.Second
)

// Manager exposes the container state machine as named operations.
// Operations for the same container are serialized behind a per-name
// lock; an operation arriving mid-dismount queues rather than races.
type Manager struct {
	cfg    *config.Config
	store  *container.Store
	driver CryptDriver
	mounts Mounter
	apps   AppRunner
	mon    *monitor.Monitor
	logger *ui.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	pollAttempts int
	pollDelay    time.Duration
}

// NewManager wires the full lifecycle stack from the operator config
func NewManager(cfg *config.Config, executor *system.Executor, logger *ui.Logger) *Manager {
	m := &Manager{
		cfg:          cfg,
		store:        container.NewStore(cfg.BaseDir),
		driver:       container.NewDriver(executor, logger),
		mounts:       container.NewMountManager(executor),
		logger:       logger,
		locks:        make(map[string]*sync.Mutex),
		pollAttempts: dismountPollAttempts,
		pollDelay:    dismountPollDelay,
	}
	m.apps = supervisor.New(executor, logger, cfg.ProbeTimeout(), m.RecordActivity)
	m.mon = monitor.New(monitor.Options{
		CheckInterval: cfg.CheckInterval(),
		TimeoutFor:    m.TimeoutFor,
		Dismount:      m.AutoDismount,
		Logger:        logger,
	})
	return m
}

// lockFor returns the mutex serializing operations on one container
func (m *Manager) lockFor(name string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[name]
	if !ok {
		l = &sync.Mutex{}
		m.locks[name] = l
	}
	return l
}

// MountPoint returns the filesystem path used while name is mounted
func (m *Manager) MountPoint(name string) string {
	return filepath.Join(m.cfg.MountDir, name)
}

func (m *Manager) device(name string) string {
	return "/dev/mapper/" + container.GenerateMapperName(m.store.ContainerPath(name))
}

// Create allocates and initializes a new encrypted container and persists
// its sidecar record seeded from the operator's application catalog.
func (m *Manager) Create(name string, password *system.SecureBytes, sizeBytes uint64) (*container.VolumeConfig, error) {
	lock := m.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	if m.store.Exists(name) {
		return nil, fmt.Errorf("%w: %s", container.ErrAlreadyExists, name)
	}

	path := m.store.ContainerPath(name)
	if err := os.MkdirAll(m.cfg.BaseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	if err := m.driver.Create(path, password, sizeBytes, m.cfg.Filesystem); err != nil {
		return nil, err
	}

	cfg := &container.VolumeConfig{
		Name:                      name,
		Created:                   time.Now().UTC(),
		Applications:              m.cfg.Applications,
		AutoUnmountTimeoutMinutes: m.cfg.AutoUnmountTimeoutMinutes,
	}
	if err := m.store.SaveConfig(cfg); err != nil {
		// A backing file without its sidecar is an orphan from the start;
		// undo the create so the operation stays all-or-nothing.
		if rerr := os.Remove(path); rerr != nil {
			m.logger.Warning("removing backing file after failed config save: %v", rerr)
		}
		return nil, err
	}

	m.logger.Success("container %s created (%s)", name, system.FormatSize(sizeBytes))
	return cfg, nil
}

// Mount opens the container and mounts its filesystem, provisioning
// per-application directories on first mount.
func (m *Manager) Mount(name string, password *system.SecureBytes) (string, error) {
	lock := m.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	if !m.store.Exists(name) {
		return "", fmt.Errorf("%w: %s", container.ErrNotFound, name)
	}

	path := m.store.ContainerPath(name)
	mountPoint := m.MountPoint(name)
	if m.driver.State(path) == container.StateOpen && m.mounts.IsMounted(m.device(name), mountPoint) {
		return "", fmt.Errorf("%w: %s", container.ErrAlreadyMounted, mountPoint)
	}

	mapping, err := m.driver.Open(path, password)
	if err != nil {
		return "", err
	}

	if err := m.mounts.Mount(mapping.Device(), mountPoint); err != nil {
		if cerr := m.driver.Close(path); cerr != nil {
			m.logger.Warning("close after failed mount: %v", cerr)
		}
		return "", err
	}

	m.provision(name, mountPoint)

	m.logger.Success("container %s mounted at %s", name, mountPoint)
	return mountPoint, nil
}

// provision creates the per-application directory skeleton inside the
// mounted volume. Existing directories are left alone.
func (m *Manager) provision(name, mountPoint string) {
	cfg, err := m.store.LoadConfig(name)
	if err != nil {
		return
	}
	for _, app := range cfg.Applications {
		if !app.Enabled {
			continue
		}
		for _, sub := range []string{"data", "logs"} {
			dir := filepath.Join(mountPoint, "apps", app.Name, sub)
			if err := os.MkdirAll(dir, 0755); err != nil {
				m.logger.Warning("provision %s: %v", dir, err)
			}
		}
	}
}

// Unmount unmounts the filesystem and closes the encryption layer.
// Unmounting an already-unmounted container succeeds.
func (m *Manager) Unmount(name string) error {
	lock := m.lockFor(name)
	lock.Lock()
	defer lock.Unlock()
	return m.unmountLocked(name)
}

func (m *Manager) unmountLocked(name string) error {
	if !m.store.Exists(name) {
		return fmt.Errorf("%w: %s", container.ErrNotFound, name)
	}

	mountPoint := m.MountPoint(name)
	if err := m.mounts.Unmount(mountPoint); err != nil {
		return err
	}
	if err := m.driver.Close(m.store.ContainerPath(name)); err != nil {
		return err
	}

	m.logger.Info("container %s unmounted", name)
	return nil
}

// StartApplications launches the configured applications and arms the
// inactivity monitoring.
func (m *Manager) StartApplications(name string) ([]supervisor.Result, error) {
	lock := m.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	mountPoint := m.MountPoint(name)
	if !m.mounts.IsMounted(m.device(name), mountPoint) {
		return nil, fmt.Errorf("%w: %s", container.ErrNotMounted, name)
	}

	cfg, err := m.store.LoadConfig(name)
	if err != nil {
		return nil, err
	}

	results := m.apps.StartAll(name, mountPoint, cfg.Applications)

	m.mon.StartMonitoring(name)
	if err := m.mon.Watch(name, mountPoint); err != nil {
		m.logger.Warning("volume activity watcher: %v", err)
	}

	return results, nil
}

// StopApplications stops the configured applications and disarms
// monitoring. A container without configuration yields an empty result.
func (m *Manager) StopApplications(name string) ([]supervisor.Result, error) {
	lock := m.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	results := m.stopLocked(name)
	m.mon.StopMonitoring(name)
	return results, nil
}

func (m *Manager) stopLocked(name string) []supervisor.Result {
	cfg, err := m.store.LoadConfig(name)
	if err != nil {
		// Nothing configured means nothing to stop
		return []supervisor.Result{}
	}
	return m.apps.StopAll(name, cfg.Applications)
}

// VerifyPassword checks the passphrase without mutating anything
func (m *Manager) VerifyPassword(name string, password *system.SecureBytes) bool {
	return m.driver.VerifyPassword(m.store.ContainerPath(name), password)
}

// ChangePassword replaces the container passphrase. The container must
// not be mounted.
func (m *Manager) ChangePassword(name string, oldPassword, newPassword *system.SecureBytes) error {
	lock := m.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	if !m.store.Exists(name) {
		return fmt.Errorf("%w: %s", container.ErrNotFound, name)
	}
	if m.driver.State(m.store.ContainerPath(name)) == container.StateOpen {
		return fmt.Errorf("%w: unmount before changing the passphrase", container.ErrAlreadyMounted)
	}
	return m.driver.ChangePassword(m.store.ContainerPath(name), oldPassword, newPassword)
}

// DeleteResult reports what a delete managed to clean up.
type DeleteResult struct {
	Details []string `json:"details"`
	Warning string   `json:"warning,omitempty"`
}

// Delete removes the container after verifying the password. Every
// cleanup step runs even when earlier ones fail; a partially-deleted
// container is worse than a fully-attempted one, so downstream failures
// become a warning rather than an error.
func (m *Manager) Delete(name string, password *system.SecureBytes) (*DeleteResult, error) {
	lock := m.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	if !m.store.Exists(name) && !m.store.Orphaned(name) {
		return nil, fmt.Errorf("%w: %s", container.ErrNotFound, name)
	}
	if m.store.Exists(name) && !m.driver.VerifyPassword(m.store.ContainerPath(name), password) {
		return nil, fmt.Errorf("%w: %s", container.ErrWrongPassword, name)
	}

	res := &DeleteResult{}
	var warnings []string
	step := func(what string, err error) {
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", what, err))
			return
		}
		res.Details = append(res.Details, what)
	}

	if len(m.stopLocked(name)) > 0 {
		res.Details = append(res.Details, "applications stopped")
	}
	m.mon.StopMonitoring(name)

	step("unmounted", m.mounts.Unmount(m.MountPoint(name)))
	step("encryption closed", m.driver.Close(m.store.ContainerPath(name)))

	if m.store.Exists(name) {
		step("backing file removed", os.Remove(m.store.ContainerPath(name)))
	}
	step("config removed", m.store.RemoveConfig(name))

	if len(warnings) > 0 {
		res.Warning = strings.Join(warnings, "; ")
		m.logger.Warning("delete %s finished with warnings: %s", name, res.Warning)
	} else {
		m.logger.Success("container %s deleted", name)
	}
	return res, nil
}

// TimeoutFor resolves the inactivity timeout for a container, falling
// back to the operator default when the sidecar record is unreadable.
func (m *Manager) TimeoutFor(name string) time.Duration {
	cfg, err := m.store.LoadConfig(name)
	if err != nil || cfg.AutoUnmountTimeoutMinutes <= 0 {
		return m.cfg.DefaultTimeout()
	}
	return time.Duration(cfg.AutoUnmountTimeoutMinutes) * time.Minute
}

// RecordActivity forwards an activity signal to the monitor
func (m *Manager) RecordActivity(name string) {
	m.mon.RecordActivity(name)
}

// AutoDismount runs the autonomous stop-and-unmount sequence: stop the
// applications, wait (bounded) until none are reachable, then unmount.
// It takes the same per-name lock as user operations, so a user request
// arriving mid-dismount queues behind it.
func (m *Manager) AutoDismount(name string) error {
	lock := m.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	m.logger.Info("auto-dismounting %s", name)
	m.stopLocked(name)

	// A failed probe counts as stopped: fail toward unmounting rather
	// than blocking it.
	for i := 0; i < m.pollAttempts && m.anyReachable(name); i++ {
		time.Sleep(m.pollDelay)
	}

	return m.unmountLocked(name)
}

func (m *Manager) anyReachable(name string) bool {
	cfg, err := m.store.LoadConfig(name)
	if err != nil {
		return false
	}
	for _, app := range cfg.Applications {
		if !app.Enabled {
			continue
		}
		if m.apps.Reachable(m.probeAddress(app)) {
			return true
		}
	}
	return false
}

func (m *Manager) probeAddress(app container.ApplicationSpec) string {
	if app.ProbeAddress != "" {
		return app.ProbeAddress
	}
	return m.cfg.ProbeAddress
}

// List returns a status snapshot for every container in the base
// directory, ordered as the store enumerates them.
func (m *Manager) List() ([]Status, error) {
	names, err := m.store.List()
	if err != nil {
		return nil, err
	}
	statuses := make([]Status, 0, len(names))
	for _, name := range names {
		statuses = append(statuses, m.Status(name))
	}
	return statuses, nil
}

// Monitoring exposes the monitor to callers that manage its lifetime
func (m *Manager) Monitoring(name string) bool {
	return m.mon.Active(name)
}

// Shutdown cancels all monitoring; activity state is process-lifetime
// only and is simply dropped.
func (m *Manager) Shutdown() {
	m.mon.Shutdown()
}
