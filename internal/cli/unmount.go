package cli

import (
	"github.com/spf13/cobra"

	"github.com/nace/skrinja/internal/system"
)

// UnmountCommand handles container unmounting
type UnmountCommand struct {
	ctx *GlobalContext
}

// NewUnmountCommand creates the unmount command
func NewUnmountCommand(ctx *GlobalContext) *cobra.Command {
	cmd := &UnmountCommand{ctx: ctx}

	return &cobra.Command{
		Use:   "unmount [name]",
		Short: "Unmount an encrypted container",
		Long: `Unmount the container's filesystem and close the encryption layer.
Running applications are stopped first. Unmounting an already-unmounted
container succeeds.`,
		Args: cobra.MaximumNArgs(1),
		RunE: cmd.Run,
	}
}

// Run executes the unmount command
func (c *UnmountCommand) Run(cmd *cobra.Command, args []string) error {
	if err := system.RequireRoot(); err != nil {
		return err
	}
	if err := c.ctx.CheckDependencies(); err != nil {
		return err
	}

	name := containerName(args)

	// Stop sequencing: applications must be down before the filesystem
	// goes away.
	if _, err := c.ctx.Manager.StopApplications(name); err != nil {
		c.ctx.Logger.Warning("stopping applications: %v", err)
	}

	return c.ctx.Manager.Unmount(name)
}
