package container

import (
	"fmt"
	"strings"

	"github.com/nace/skrinja/internal/system"
)

// LoopManager handles loop device operations
type LoopManager struct {
	executor *system.Executor
}

// NewLoopManager creates a new loop manager
func NewLoopManager(executor *system.Executor) *LoopManager {
	return &LoopManager{
		executor: executor,
	}
}

// Attach attaches a file to a loop device
func (m *LoopManager) Attach(path string) (string, error) {
	output, err := m.executor.RunOutput("losetup", "-f", "--show", path)
	if err != nil {
		return "", fmt.Errorf("failed to attach loop device: %w", err)
	}
	return strings.TrimSpace(output), nil
}

// Detach detaches a loop device
func (m *LoopManager) Detach(device string) error {
	err := m.executor.Run("losetup", "-d", device)
	if err != nil {
		return fmt.Errorf("failed to detach loop device %s: %w", device, err)
	}
	return nil
}

// FindByFile finds the loop device backing a file, or "" if none.
func (m *LoopManager) FindByFile(path string) (string, error) {
	output, err := m.executor.RunOutput("losetup", "-j", path)
	if err != nil || strings.TrimSpace(output) == "" {
		return "", nil
	}

	device, err := system.ParseLosetupFind(output)
	if err != nil {
		return "", err
	}
	return device, nil
}
