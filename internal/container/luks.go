package container

import (
	"fmt"
	"strings"

	"github.com/nace/skrinja/internal/system"
)

// LUKSManager handles LUKS operations. All operations authenticate with
// a passphrase fed over stdin; the passphrase is never placed in argv.
type LUKSManager struct {
	executor *system.Executor
}

// NewLUKSManager creates a new LUKS manager
func NewLUKSManager(executor *system.Executor) *LUKSManager {
	return &LUKSManager{
		executor: executor,
	}
}

func passphraseReader(password *system.SecureBytes) *strings.Reader {
	return strings.NewReader(string(password.Bytes()) + "\n")
}

// Format formats a device as LUKS2
func (m *LUKSManager) Format(device string, password *system.SecureBytes) error {
	err := m.executor.RunInput(passphraseReader(password),
		"cryptsetup", "luksFormat", "--batch-mode", "--type", "luks2", device)
	if err != nil {
		return fmt.Errorf("failed to format LUKS container: %w", err)
	}
	return nil
}

// IsLUKS checks if a file is LUKS formatted
func (m *LUKSManager) IsLUKS(path string) bool {
	return m.executor.Run("cryptsetup", "isLuks", path) == nil
}

// Open unlocks a LUKS device under the given mapper name
func (m *LUKSManager) Open(device, mapperName string, password *system.SecureBytes) error {
	err := m.executor.RunInput(passphraseReader(password),
		"cryptsetup", "luksOpen", device, mapperName)
	if err != nil {
		return fmt.Errorf("failed to open LUKS container: %w", err)
	}
	return nil
}

// Close locks a LUKS mapping
func (m *LUKSManager) Close(mapperName string) error {
	err := m.executor.Run("cryptsetup", "luksClose", mapperName)
	if err != nil {
		return fmt.Errorf("failed to close LUKS container %s: %w", mapperName, err)
	}
	return nil
}

// TestPassphrase performs a non-mutating unlock test against the container
// file. No mapping is created.
func (m *LUKSManager) TestPassphrase(path string, password *system.SecureBytes) bool {
	err := m.executor.RunInput(passphraseReader(password),
		"cryptsetup", "open", "--test-passphrase", path)
	return err == nil
}

// ChangeKey replaces the passphrase of the key slot that oldPassword
// unlocks. cryptsetup reads the old passphrase followed by the new one.
func (m *LUKSManager) ChangeKey(path string, oldPassword, newPassword *system.SecureBytes) error {
	stdin := strings.NewReader(
		string(oldPassword.Bytes()) + "\n" + string(newPassword.Bytes()) + "\n")
	err := m.executor.RunInput(stdin, "cryptsetup", "luksChangeKey", path)
	if err != nil {
		return fmt.Errorf("failed to change passphrase: %w", err)
	}
	return nil
}
