package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nace/skrinja/internal/system"
)

// VerifyCommand checks a container passphrase without mounting
type VerifyCommand struct {
	ctx           *GlobalContext
	passwordStdin bool
}

// NewVerifyCommand creates the verify command
func NewVerifyCommand(ctx *GlobalContext) *cobra.Command {
	cmd := &VerifyCommand{ctx: ctx}

	cobraCmd := &cobra.Command{
		Use:   "verify [name]",
		Short: "Verify a container passphrase",
		Long:  `Perform a non-mutating unlock test. No mapping is left open.`,
		Args:  cobra.MaximumNArgs(1),
		RunE:  cmd.Run,
	}

	cobraCmd.Flags().BoolVar(&cmd.passwordStdin, "password-stdin", false, "Read passphrase from stdin (for automation)")

	return cobraCmd
}

// Run executes the verify command
func (c *VerifyCommand) Run(cmd *cobra.Command, args []string) error {
	if err := system.RequireRoot(); err != nil {
		return err
	}
	if err := c.ctx.CheckDependencies(); err != nil {
		return err
	}

	password, err := readPassword("Enter passphrase", c.passwordStdin)
	if err != nil {
		return err
	}
	defer password.Zeroize()

	if !c.ctx.Manager.VerifyPassword(containerName(args), password) {
		return fmt.Errorf("passphrase verification failed")
	}
	c.ctx.Logger.Success("Passphrase verified")
	return nil
}
