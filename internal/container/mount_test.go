package container

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nace/skrinja/internal/system"
)

const sampleMounts = `proc /proc proc rw,nosuid,nodev,noexec,relatime 0 0
/dev/sda2 / ext4 rw,relatime 0 0
/dev/mapper/skrinja_primary_img /mnt/skrinja/primary ext4 rw,relatime 0 0
/dev/mapper/other /mnt/with\040space ext4 rw,relatime 0 0
`

func TestScanMountTable(t *testing.T) {
	tests := []struct {
		name       string
		device     string
		mountPoint string
		want       bool
	}{
		{
			name:       "device and mount point match",
			device:     "/dev/mapper/skrinja_primary_img",
			mountPoint: "/mnt/skrinja/primary",
			want:       true,
		},
		{
			name:       "any device at mount point",
			device:     "",
			mountPoint: "/mnt/skrinja/primary",
			want:       true,
		},
		{
			name:       "wrong device",
			device:     "/dev/mapper/something_else",
			mountPoint: "/mnt/skrinja/primary",
			want:       false,
		},
		{
			name:       "unmounted point",
			device:     "",
			mountPoint: "/mnt/skrinja/backup",
			want:       false,
		},
		{
			name:       "escaped space in mount path",
			device:     "/dev/mapper/other",
			mountPoint: "/mnt/with space",
			want:       true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := scanMountTable(strings.NewReader(sampleMounts), tt.device, tt.mountPoint)
			if got != tt.want {
				t.Errorf("scanMountTable(%q, %q) = %t, want %t", tt.device, tt.mountPoint, got, tt.want)
			}
		})
	}
}

func TestIsMountedReadsTable(t *testing.T) {
	dir := t.TempDir()
	table := filepath.Join(dir, "mounts")
	if err := os.WriteFile(table, []byte(sampleMounts), 0644); err != nil {
		t.Fatal(err)
	}

	m := NewMountManager(system.NewExecutor(false, nil))
	m.mountTable = table

	if !m.IsMounted("/dev/mapper/skrinja_primary_img", "/mnt/skrinja/primary") {
		t.Error("IsMounted = false for mounted device")
	}
	if m.IsMounted("/dev/mapper/skrinja_primary_img", "/mnt/skrinja/other") {
		t.Error("IsMounted = true for unmounted point")
	}

	// A missing mount table must read as not mounted, not as an error
	m.mountTable = filepath.Join(dir, "missing")
	if m.IsMounted("/dev/mapper/skrinja_primary_img", "/mnt/skrinja/primary") {
		t.Error("IsMounted = true with unreadable mount table")
	}
}

func TestUnmountNotMountedIsNoop(t *testing.T) {
	dir := t.TempDir()
	table := filepath.Join(dir, "mounts")
	if err := os.WriteFile(table, []byte(sampleMounts), 0644); err != nil {
		t.Fatal(err)
	}

	// The executor would fail on a real umount call; the early mount
	// table check must prevent it from ever running.
	m := NewMountManager(system.NewExecutor(false, nil))
	m.mountTable = table

	if err := m.Unmount("/mnt/skrinja/backup"); err != nil {
		t.Errorf("Unmount of unmounted point = %v, want nil", err)
	}
	if err := m.Unmount("/mnt/skrinja/backup"); err != nil {
		t.Errorf("second Unmount = %v, want nil", err)
	}
}
