package cli

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nace/skrinja/internal/container"
	"github.com/nace/skrinja/internal/system"
)

// RunCommand is the long-lived mode: mount, start the applications and
// keep the inactivity monitor armed until a signal arrives or the
// auto-dismount completes.
type RunCommand struct {
	ctx           *GlobalContext
	passwordStdin bool
	waitReady     bool
}

// NewRunCommand creates the run command
func NewRunCommand(ctx *GlobalContext) *cobra.Command {
	cmd := &RunCommand{ctx: ctx}

	cobraCmd := &cobra.Command{
		Use:   "run [name]",
		Short: "Mount, start applications and supervise until shutdown",
		Long: `Mount the container (if needed), start its applications and run the
inactivity monitor in the foreground. On SIGINT/SIGTERM the applications
are stopped and the volume is re-encrypted. If the inactivity timeout
elapses first, the volume is auto-dismounted and run exits.`,
		Args: cobra.MaximumNArgs(1),
		RunE: cmd.Run,
	}

	cobraCmd.Flags().BoolVar(&cmd.passwordStdin, "password-stdin", false, "Read passphrase from stdin (for automation)")
	cobraCmd.Flags().BoolVar(&cmd.waitReady, "wait-ready", false,
		"Block until an application answers its liveness probe (no attempt bound; cancel with a signal)")

	return cobraCmd
}

// Run executes the run command
func (c *RunCommand) Run(cmd *cobra.Command, args []string) error {
	if err := system.RequireRoot(); err != nil {
		return err
	}
	if err := c.ctx.CheckDependencies(); err != nil {
		return err
	}

	name := containerName(args)
	mgr := c.ctx.Manager

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st := mgr.Status(name)
	if st.Mounted && !st.MonitoringActive {
		// Restart recovery gap: mounted at the OS level but unprotected
		// until we re-arm below.
		c.ctx.Logger.Warning("%s was already mounted with no inactivity protection", name)
	}

	if !st.Mounted {
		password, err := readPassword("Enter passphrase", c.passwordStdin)
		if err != nil {
			return err
		}
		_, err = mgr.Mount(name, password)
		password.Zeroize()
		if err != nil {
			return err
		}
	}

	if _, err := mgr.StartApplications(name); err != nil {
		if !errors.Is(err, container.ErrNoConfig) {
			return err
		}
		c.ctx.Logger.Warning("no application configuration for %s", name)
	}

	if c.waitReady {
		// First-time setup duration is unpredictable, so this poll is
		// deliberately unbounded; the signal context is the only way out.
		c.ctx.Logger.Info("waiting for an application to become reachable...")
		for !mgr.Status(name).Reachable {
			select {
			case <-ctx.Done():
				return c.shutdown(name)
			case <-time.After(2 * time.Second):
			}
		}
		c.ctx.Logger.Success("application reachable")
	}

	c.ctx.Logger.Info("supervising %s (Ctrl-C to stop and re-encrypt)", name)
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return c.shutdown(name)
		case <-ticker.C:
			if !mgr.Monitoring(name) {
				// Auto-dismount completed; the volume is closed again
				c.ctx.Logger.Info("monitoring ended for %s, exiting", name)
				mgr.Shutdown()
				return nil
			}
		}
	}
}

// shutdown stops the applications, unmounts and cancels monitoring
func (c *RunCommand) shutdown(name string) error {
	c.ctx.Logger.Info("shutting down %s", name)
	if _, err := c.ctx.Manager.StopApplications(name); err != nil {
		c.ctx.Logger.Warning("stopping applications: %v", err)
	}
	err := c.ctx.Manager.Unmount(name)
	c.ctx.Manager.Shutdown()
	return err
}
