package container

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/nace/skrinja/internal/system"
	"github.com/nace/skrinja/internal/ui"
)

// Driver composes loop device and LUKS operations into the encrypted
// volume primitives: create, open, close, verify. All failure cleanup is
// best-effort; cleanup errors are logged and never mask the primary error.
type Driver struct {
	executor *system.Executor
	loops    *LoopManager
	luks     *LUKSManager
	mounts   *MountManager
	logger   *ui.Logger
}

// NewDriver creates a new encryption driver
func NewDriver(executor *system.Executor, logger *ui.Logger) *Driver {
	return &Driver{
		executor: executor,
		loops:    NewLoopManager(executor),
		luks:     NewLUKSManager(executor),
		mounts:   NewMountManager(executor),
		logger:   logger,
	}
}

// Create allocates a zero-filled backing file of exactly sizeBytes,
// initializes a LUKS2 header bound to password, opens the mapping once to
// verify the passphrase round-trips, creates a filesystem inside, then
// closes everything, leaving the container in the closed state. A failed
// create never leaves a partially-initialized backing file behind.
func (d *Driver) Create(path string, password *system.SecureBytes, sizeBytes uint64, fsType string) error {
	avail, err := system.GetAvailableSpace(path)
	if err == nil && avail < sizeBytes {
		return fmt.Errorf("not enough free space: need %s, have %s",
			system.FormatSize(sizeBytes), system.FormatSize(avail))
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, path)
		}
		return fmt.Errorf("failed to create backing file: %w", err)
	}

	cleanup := system.NewCleanupStack()
	cleanup.Add(func() error {
		return os.Remove(path)
	})
	fail := func(err error) error {
		if cerr := cleanup.Execute(); cerr != nil {
			d.logger.Warning("cleanup after failed create: %v", cerr)
		}
		return err
	}

	if err := file.Truncate(int64(sizeBytes)); err != nil {
		file.Close()
		return fail(fmt.Errorf("failed to size backing file: %w", err))
	}
	file.Close()

	loopDev, err := d.loops.Attach(path)
	if err != nil {
		return fail(err)
	}
	cleanup.Add(func() error {
		return d.loops.Detach(loopDev)
	})

	if err := d.luks.Format(loopDev, password); err != nil {
		return fail(err)
	}

	// Open once to verify the passphrase round-trips
	mapperName := GenerateMapperName(path)
	if err := d.luks.Open(loopDev, mapperName, password); err != nil {
		return fail(err)
	}
	cleanup.Add(func() error {
		return d.luks.Close(mapperName)
	})

	mapping := Mapping{Path: path, MapperName: mapperName, LoopDevice: loopDev}
	if err := d.mounts.MakeFilesystem(mapping.Device(), fsType); err != nil {
		return fail(err)
	}

	// Success: tear down the mapping normally instead of rolling back
	cleanup.Clear()
	if err := d.luks.Close(mapperName); err != nil {
		d.logger.Warning("closing mapping after create: %v", err)
	}
	if err := d.loops.Detach(loopDev); err != nil {
		d.logger.Warning("detaching loop device after create: %v", err)
	}

	return nil
}

// Open attaches a loop device and unlocks the container. A stale mapping
// left by a crash is closed proactively before opening.
func (d *Driver) Open(path string, password *system.SecureBytes) (*Mapping, error) {
	if !system.FileExists(path) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if !d.luks.IsLUKS(path) {
		return nil, fmt.Errorf("%s has no LUKS header (corrupted or foreign file)", path)
	}

	mapperName := GenerateMapperName(path)
	if mapperActive(mapperName) {
		d.logger.Warning("closing stale mapping %s", mapperName)
		if err := d.luks.Close(mapperName); err != nil {
			d.logger.Warning("stale mapping close: %v", err)
		}
	}
	if stale, _ := d.loops.FindByFile(path); stale != "" {
		d.logger.Warning("detaching stale loop device %s", stale)
		if err := d.loops.Detach(stale); err != nil {
			d.logger.Warning("stale loop detach: %v", err)
		}
	}

	loopDev, err := d.loops.Attach(path)
	if err != nil {
		return nil, err
	}

	if err := d.luks.Open(loopDev, mapperName, password); err != nil {
		if derr := d.loops.Detach(loopDev); derr != nil {
			d.logger.Warning("loop detach after failed open: %v", derr)
		}
		if isBadPassphrase(err) {
			return nil, fmt.Errorf("%w: %s", ErrWrongPassword, path)
		}
		return nil, err
	}

	return &Mapping{Path: path, MapperName: mapperName, LoopDevice: loopDev}, nil
}

// Close locks the container and detaches its loop device. Closing an
// already-closed container is not an error.
func (d *Driver) Close(path string) error {
	mapperName := GenerateMapperName(path)
	if mapperActive(mapperName) {
		if err := d.luks.Close(mapperName); err != nil {
			return err
		}
	}

	loopDev, err := d.loops.FindByFile(path)
	if err != nil {
		return err
	}
	if loopDev != "" {
		if err := d.loops.Detach(loopDev); err != nil {
			// Loop devices with autoclear detach on their own
			d.logger.Warning("loop detach: %v", err)
		}
	}

	return nil
}

// State derives the encryption state from the filesystem and device mapper
func (d *Driver) State(path string) EncryptionState {
	if !system.FileExists(path) {
		return StateNonexistent
	}
	if mapperActive(GenerateMapperName(path)) {
		return StateOpen
	}
	return StateClosed
}

// Lookup returns the active mapping for path, or nil when closed
func (d *Driver) Lookup(path string) *Mapping {
	mapperName := GenerateMapperName(path)
	if !mapperActive(mapperName) {
		return nil
	}
	loopDev, _ := d.loops.FindByFile(path)
	if loopDev == "" {
		loopDev = d.loopFromTable(mapperName)
	}
	return &Mapping{Path: path, MapperName: mapperName, LoopDevice: loopDev}
}

// loopFromTable recovers the backing loop device of an active mapping
// from its device-mapper table, for when losetup can no longer pair the
// device with the backing file (e.g. the file was moved or deleted while
// open). Loop devices carry major number 7.
func (d *Driver) loopFromTable(mapperName string) string {
	output, err := d.executor.RunOutput("dmsetup", "table", mapperName)
	if err != nil {
		return ""
	}
	backing, err := system.ParseDmsetupTable(output)
	if err != nil {
		return ""
	}
	major, minor, ok := strings.Cut(backing, ":")
	if !ok || major != "7" {
		return ""
	}
	return "/dev/loop" + minor
}

// VerifyPassword performs a non-mutating unlock test. It returns false on
// any failure rather than propagating an error.
func (d *Driver) VerifyPassword(path string, password *system.SecureBytes) bool {
	if !system.FileExists(path) {
		return false
	}
	return d.luks.TestPassphrase(path, password)
}

// ChangePassword replaces the container passphrase. The container must be
// closed; callers enforce that.
func (d *Driver) ChangePassword(path string, oldPassword, newPassword *system.SecureBytes) error {
	if !system.FileExists(path) {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err := d.luks.ChangeKey(path, oldPassword, newPassword); err != nil {
		if isBadPassphrase(err) {
			return fmt.Errorf("%w: %s", ErrWrongPassword, path)
		}
		return err
	}
	return nil
}

// mapperActive reports whether a dm mapping with this name exists
func mapperActive(mapperName string) bool {
	_, err := os.Stat("/dev/mapper/" + mapperName)
	return err == nil
}

// isBadPassphrase classifies a cryptsetup failure. cryptsetup exits with
// status 2 when no key slot matches the supplied passphrase.
func isBadPassphrase(err error) bool {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode() == 2
	}
	return false
}
