package cli

import (
	"github.com/spf13/cobra"

	"github.com/nace/skrinja/internal/system"
)

// PasswdCommand changes a container passphrase
type PasswdCommand struct {
	ctx           *GlobalContext
	passwordStdin bool
}

// NewPasswdCommand creates the passwd command
func NewPasswdCommand(ctx *GlobalContext) *cobra.Command {
	cmd := &PasswdCommand{ctx: ctx}

	cobraCmd := &cobra.Command{
		Use:   "passwd [name]",
		Short: "Change a container passphrase",
		Long: `Change the LUKS passphrase of a container. The container must be
unmounted first. With --password-stdin the current and new passphrases
are read as two lines from stdin.`,
		Args: cobra.MaximumNArgs(1),
		RunE: cmd.Run,
	}

	cobraCmd.Flags().BoolVar(&cmd.passwordStdin, "password-stdin", false, "Read passphrases from stdin (for automation)")

	return cobraCmd
}

// Run executes the passwd command
func (c *PasswdCommand) Run(cmd *cobra.Command, args []string) error {
	if err := system.RequireRoot(); err != nil {
		return err
	}
	if err := c.ctx.CheckDependencies(); err != nil {
		return err
	}

	name := containerName(args)

	c.ctx.Logger.Info("Enter current passphrase:")
	oldPassword, err := readPassword("Current passphrase", c.passwordStdin)
	if err != nil {
		return err
	}
	defer oldPassword.Zeroize()

	newPassword, err := readNewPassword("New passphrase", "Confirm new passphrase", c.passwordStdin)
	if err != nil {
		return err
	}
	defer newPassword.Zeroize()

	if err := c.ctx.Manager.ChangePassword(name, oldPassword, newPassword); err != nil {
		return err
	}
	c.ctx.Logger.Success("Passphrase changed for %s", name)
	return nil
}
