package container

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/nace/skrinja/internal/system"
)

// MountManager handles filesystem mount operations. Mount state is always
// read back from /proc/mounts; it is never cached, because a failed
// operation could otherwise leave stale in-memory state.
type MountManager struct {
	executor   *system.Executor
	mountTable string
}

// NewMountManager creates a new mount manager
func NewMountManager(executor *system.Executor) *MountManager {
	return &MountManager{
		executor:   executor,
		mountTable: "/proc/mounts",
	}
}

// Mount mounts a device to a mount point, creating the mount point if needed
func (m *MountManager) Mount(device, mountPoint string) error {
	if err := os.MkdirAll(mountPoint, 0755); err != nil {
		return fmt.Errorf("failed to create mount point: %w", err)
	}

	if m.IsMounted(device, mountPoint) {
		return fmt.Errorf("%w at %s", ErrAlreadyMounted, mountPoint)
	}

	if err := m.executor.Run("mount", device, mountPoint); err != nil {
		return fmt.Errorf("failed to mount %s to %s: %w", device, mountPoint, err)
	}

	return nil
}

// Unmount unmounts a mount point. Unmounting a point that is not mounted
// is not an error. A busy mount is retried with umount -l as last resort.
func (m *MountManager) Unmount(mountPoint string) error {
	if !m.mountedAt(mountPoint) {
		return nil
	}

	if err := m.executor.Run("umount", mountPoint); err == nil {
		return nil
	}
	return m.executor.Run("umount", "-l", mountPoint)
}

// IsMounted reports whether device is mounted at mountPoint according to
// the live OS mount table.
func (m *MountManager) IsMounted(device, mountPoint string) bool {
	f, err := os.Open(m.mountTable)
	if err != nil {
		return false
	}
	defer f.Close()

	abs, _ := filepath.Abs(mountPoint)
	return scanMountTable(f, device, abs)
}

func (m *MountManager) mountedAt(mountPoint string) bool {
	f, err := os.Open(m.mountTable)
	if err != nil {
		return false
	}
	defer f.Close()

	abs, _ := filepath.Abs(mountPoint)
	return scanMountTable(f, "", abs)
}

// scanMountTable scans a /proc/mounts style table for an entry matching
// mountPoint (and device, when non-empty).
func scanMountTable(r io.Reader, device, mountPoint string) bool {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		if unescapeMountPath(fields[1]) != mountPoint {
			continue
		}
		if device == "" || fields[0] == device {
			return true
		}
	}
	return false
}

// unescapeMountPath decodes the octal escapes /proc/mounts uses for
// spaces, tabs and backslashes.
func unescapeMountPath(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	replacer := strings.NewReplacer(`\040`, " ", `\011`, "\t", `\012`, "\n", `\134`, `\`)
	return replacer.Replace(s)
}

// MakeFilesystem creates a filesystem on a device
func (m *MountManager) MakeFilesystem(device, fsType string) error {
	switch fsType {
	case "ext4":
		return m.executor.Run("mkfs.ext4", "-q", "-L", "encrypted", device)
	case "xfs":
		return m.executor.Run("mkfs.xfs", "-L", "encrypted", device)
	case "btrfs":
		return m.executor.Run("mkfs.btrfs", "-L", "encrypted", device)
	default:
		return fmt.Errorf("unsupported filesystem: %s", fsType)
	}
}

// UsedSpace reports size and usage of a mounted filesystem in bytes
func (m *MountManager) UsedSpace(mountPoint string) (size uint64, used uint64, err error) {
	output, err := m.executor.RunOutput("df", "--block-size=1", mountPoint)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to get filesystem size: %w", err)
	}

	// Header: Filesystem     1B-blocks      Used Available Use% Mounted on
	lines := strings.Split(output, "\n")
	if len(lines) < 2 {
		return 0, 0, fmt.Errorf("invalid df output")
	}

	fields := strings.Fields(lines[1])
	if len(fields) < 3 {
		return 0, 0, fmt.Errorf("invalid df output format")
	}

	fmt.Sscanf(fields[1], "%d", &size)
	fmt.Sscanf(fields[2], "%d", &used)

	return size, used, nil
}
