package cli

import (
	"github.com/spf13/cobra"

	"github.com/nace/skrinja/internal/system"
	"github.com/nace/skrinja/internal/ui"
)

// DeleteCommand removes a container and all its durable state
type DeleteCommand struct {
	ctx           *GlobalContext
	yes           bool
	passwordStdin bool
}

// NewDeleteCommand creates the delete command
func NewDeleteCommand(ctx *GlobalContext) *cobra.Command {
	cmd := &DeleteCommand{ctx: ctx}

	cobraCmd := &cobra.Command{
		Use:   "delete [name]",
		Short: "Delete an encrypted container",
		Long: `Verify the passphrase, then remove the container: stop applications,
unmount, close the encryption layer, delete the backing file and the
sidecar config. Cleanup is best-effort; partial failures are reported
as a warning instead of aborting.`,
		Args: cobra.MaximumNArgs(1),
		RunE: cmd.Run,
	}

	cobraCmd.Flags().BoolVarP(&cmd.yes, "yes", "y", false, "Skip confirmation prompt")
	cobraCmd.Flags().BoolVar(&cmd.passwordStdin, "password-stdin", false, "Read passphrase from stdin (for automation)")

	return cobraCmd
}

// Run executes the delete command
func (c *DeleteCommand) Run(cmd *cobra.Command, args []string) error {
	if err := system.RequireRoot(); err != nil {
		return err
	}
	if err := c.ctx.CheckDependencies(); err != nil {
		return err
	}

	name := containerName(args)

	if !c.yes && !ui.PromptConfirm("Delete container "+name+" and all its data?") {
		c.ctx.Logger.Info("Aborted")
		return nil
	}

	password, err := readPassword("Enter passphrase", c.passwordStdin)
	if err != nil {
		return err
	}
	defer password.Zeroize()

	res, err := c.ctx.Manager.Delete(name, password)
	if err != nil {
		return err
	}
	for _, d := range res.Details {
		c.ctx.Logger.Info("%s", d)
	}
	if res.Warning != "" {
		c.ctx.Logger.Warning("%s", res.Warning)
	}
	return nil
}
