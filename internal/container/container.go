package container

import "time"

// EncryptionState describes the encryption layer of a container,
// independent of whether its filesystem is mounted.
type EncryptionState int

const (
	// StateNonexistent means the backing file does not exist.
	StateNonexistent EncryptionState = iota
	// StateClosed means the backing file exists but no decrypted mapping is active.
	StateClosed
	// StateOpen means the loop device is attached and the mapping is unlocked.
	StateOpen
)

func (s EncryptionState) String() string {
	switch s {
	case StateNonexistent:
		return "nonexistent"
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Mapping is the decrypted view of an open container: the dm-crypt mapper
// plus the loop device backing it.
type Mapping struct {
	Path       string // Absolute path to the container file
	MapperName string // Device mapper name
	LoopDevice string // Loop device (e.g., /dev/loop0)
}

// Device returns the block device path of the decrypted mapping.
func (m *Mapping) Device() string {
	return "/dev/mapper/" + m.MapperName
}

// ApplicationSpec describes one supervised process hosted inside the
// mounted volume. Specs are fixed at container creation; there is no
// runtime edit operation.
type ApplicationSpec struct {
	Name            string `json:"name" yaml:"name"`
	StartupCommand  string `json:"startup_command" yaml:"startup_command"`
	ShutdownCommand string `json:"shutdown_command" yaml:"shutdown_command"`
	LogPath         string `json:"log_path,omitempty" yaml:"log_path,omitempty"`
	ProbeAddress    string `json:"probe_address,omitempty" yaml:"probe_address,omitempty"`
	Enabled         bool   `json:"enabled" yaml:"enabled"`
}

// VolumeConfig is the persisted sidecar record for a container. Together
// with the backing file it is the only durable state of the system.
type VolumeConfig struct {
	Name                      string            `json:"name"`
	Created                   time.Time         `json:"created"`
	Applications              []ApplicationSpec `json:"applications"`
	AutoUnmountTimeoutMinutes int               `json:"auto_unmount_timeout_minutes"`
}
