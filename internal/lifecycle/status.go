package lifecycle

import (
	"time"

	"github.com/nace/skrinja/internal/container"
	"github.com/nace/skrinja/internal/system"
)

// Status is the observable snapshot of a container. It is recomputed
// from OS and filesystem introspection on every call, never cached, and
// degrades to an exists=false snapshot instead of erroring for a
// container that was never created.
type Status struct {
	Name             string                  `json:"name"`
	Exists           bool                    `json:"exists"`
	EncryptionState  string                  `json:"encryption_state"`
	Mounted          bool                    `json:"mounted"`
	MountPoint       string                  `json:"mount_point,omitempty"`
	Device           string                  `json:"device,omitempty"`
	LoopDevice       string                  `json:"loop_device,omitempty"`
	SizeBytes        uint64                  `json:"size_bytes,omitempty"`
	FilesystemBytes  uint64                  `json:"filesystem_bytes,omitempty"`
	UsedBytes        uint64                  `json:"used_bytes,omitempty"`
	Config           *container.VolumeConfig `json:"config,omitempty"`
	Reachable        bool                    `json:"reachable"`
	LastActivity     *time.Time              `json:"last_activity,omitempty"`
	MinutesInactive  float64                 `json:"minutes_inactive,omitempty"`
	MonitoringActive bool                    `json:"monitoring_active"`
	OrphanedConfig   bool                    `json:"orphaned_config,omitempty"`
}

// Status reports the current state of a container. It is side-effect-free
// and computable in every lifecycle state.
func (m *Manager) Status(name string) Status {
	st := Status{
		Name:            name,
		Exists:          m.store.Exists(name),
		OrphanedConfig:  m.store.Orphaned(name),
		EncryptionState: container.StateNonexistent.String(),
	}
	if !st.Exists {
		return st
	}

	path := m.store.ContainerPath(name)
	st.EncryptionState = m.driver.State(path).String()
	if size, err := system.GetFileSize(path); err == nil {
		st.SizeBytes = size
	}

	if mapping := m.driver.Lookup(path); mapping != nil {
		st.Device = mapping.Device()
		st.LoopDevice = mapping.LoopDevice
	}

	mountPoint := m.MountPoint(name)
	st.Mounted = m.driver.State(path) == container.StateOpen &&
		m.mounts.IsMounted(m.device(name), mountPoint)
	if st.Mounted {
		st.MountPoint = mountPoint
		if size, used, err := m.mounts.UsedSpace(mountPoint); err == nil {
			st.FilesystemBytes = size
			st.UsedBytes = used
		}
	}

	if cfg, err := m.store.LoadConfig(name); err == nil {
		st.Config = cfg
	}

	if st.Mounted && st.Config != nil {
		for _, app := range st.Config.Applications {
			if app.Enabled && m.apps.Reachable(m.probeAddress(app)) {
				st.Reachable = true
				break
			}
		}
	}

	st.MonitoringActive = m.mon.Active(name)
	if last, ok := m.mon.LastActivity(name); ok {
		st.LastActivity = &last
		st.MinutesInactive = time.Since(last).Minutes()
	}

	return st
}
