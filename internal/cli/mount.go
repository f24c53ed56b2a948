package cli

import (
	"github.com/spf13/cobra"

	"github.com/nace/skrinja/internal/system"
)

// MountCommand handles container mounting
type MountCommand struct {
	ctx           *GlobalContext
	passwordStdin bool
}

// NewMountCommand creates the mount command
func NewMountCommand(ctx *GlobalContext) *cobra.Command {
	cmd := &MountCommand{ctx: ctx}

	cobraCmd := &cobra.Command{
		Use:   "mount [name]",
		Short: "Mount an encrypted container",
		Long:  `Open a LUKS encrypted container and mount its filesystem at the configured mount point.`,
		Args:  cobra.MaximumNArgs(1),
		RunE:  cmd.Run,
	}

	cobraCmd.Flags().BoolVar(&cmd.passwordStdin, "password-stdin", false, "Read passphrase from stdin (for automation)")

	return cobraCmd
}

// Run executes the mount command
func (c *MountCommand) Run(cmd *cobra.Command, args []string) error {
	if err := system.RequireRoot(); err != nil {
		return err
	}
	if err := c.ctx.CheckDependencies(); err != nil {
		return err
	}

	name := containerName(args)

	password, err := readPassword("Enter passphrase", c.passwordStdin)
	if err != nil {
		return err
	}
	defer password.Zeroize()

	if _, err := c.ctx.Manager.Mount(name, password); err != nil {
		return err
	}
	return nil
}
