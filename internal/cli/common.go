package cli

import (
	"bufio"
	"bytes"
	"fmt"
	"os"

	"github.com/nace/skrinja/internal/config"
	"github.com/nace/skrinja/internal/lifecycle"
	"github.com/nace/skrinja/internal/system"
	"github.com/nace/skrinja/internal/ui"
)

// DefaultContainer is the fixed primary volume this tool manages when no
// name is given on the command line.
const DefaultContainer = "primary"

// GlobalContext holds shared resources for all commands
type GlobalContext struct {
	Executor *system.Executor
	Logger   *ui.Logger
	Config   *config.Config
	Manager  *lifecycle.Manager
}

// NewGlobalContext creates a new global context
func NewGlobalContext(cfg *config.Config, verbose, quiet, noColor, debug bool) *GlobalContext {
	logger := ui.NewLogger(verbose, quiet, noColor)
	executor := system.NewExecutor(debug, func(cmdline string) {
		logger.Debug("executing: %s", cmdline)
	})

	return &GlobalContext{
		Executor: executor,
		Logger:   logger,
		Config:   cfg,
		Manager:  lifecycle.NewManager(cfg, executor, logger),
	}
}

// CheckDependencies checks for required system commands
func (ctx *GlobalContext) CheckDependencies() error {
	deps := []string{
		"cryptsetup",
		"losetup",
		"dmsetup",
		"mount",
		"umount",
		"df",
		"pgrep",
		"pkill",
	}
	return ctx.Executor.CheckDependencies(deps)
}

// containerName resolves the positional container name argument
func containerName(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return DefaultContainer
}

// readPassword obtains a passphrase, either from stdin (for automation)
// or from an interactive no-echo prompt. The caller zeroizes the result.
func readPassword(prompt string, fromStdin bool) (*system.SecureBytes, error) {
	if fromStdin {
		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadBytes('\n')
		if err != nil && len(line) == 0 {
			return nil, fmt.Errorf("failed to read passphrase from stdin: %w", err)
		}
		return system.NewSecureBytes(bytes.TrimRight(line, "\r\n")), nil
	}
	return ui.PromptPassword(prompt)
}

// readNewPassword prompts twice and verifies both entries match
func readNewPassword(prompt, confirmPrompt string, fromStdin bool) (*system.SecureBytes, error) {
	password, err := readPassword(prompt, fromStdin)
	if err != nil {
		return nil, err
	}
	if fromStdin {
		return password, nil
	}

	confirm, err := ui.PromptPassword(confirmPrompt)
	if err != nil {
		password.Zeroize()
		return nil, err
	}
	defer confirm.Zeroize()

	if !bytes.Equal(password.Bytes(), confirm.Bytes()) {
		password.Zeroize()
		return nil, fmt.Errorf("passphrases don't match")
	}
	return password, nil
}
