package cli

import (
	"github.com/spf13/cobra"

	"github.com/nace/skrinja/internal/system"
	"github.com/nace/skrinja/internal/ui"
)

// CreateCommand handles container creation
type CreateCommand struct {
	ctx           *GlobalContext
	size          string
	passwordStdin bool
}

// NewCreateCommand creates the create command
func NewCreateCommand(ctx *GlobalContext) *cobra.Command {
	cmd := &CreateCommand{ctx: ctx}

	cobraCmd := &cobra.Command{
		Use:   "create [name]",
		Short: "Create a new encrypted container",
		Long: `Create a LUKS2 encrypted container with the configured filesystem and
seed its application configuration from the operator config.`,
		Args: cobra.MaximumNArgs(1),
		RunE: cmd.Run,
	}

	cobraCmd.Flags().StringVarP(&cmd.size, "size", "s", "", "Container size (e.g., 5G, 500M)")
	cobraCmd.Flags().BoolVar(&cmd.passwordStdin, "password-stdin", false, "Read passphrase from stdin (for automation)")

	return cobraCmd
}

// Run executes the create command
func (c *CreateCommand) Run(cmd *cobra.Command, args []string) error {
	if err := system.RequireRoot(); err != nil {
		return err
	}
	if err := c.ctx.CheckDependencies(); err != nil {
		return err
	}

	name := containerName(args)

	size := c.size
	if size == "" {
		size = ui.PromptString("Container size (e.g., 5G, 10G)")
	}
	sizeBytes, err := system.ParseSize(size)
	if err != nil {
		return err
	}

	password, err := readNewPassword("Enter passphrase", "Confirm passphrase", c.passwordStdin)
	if err != nil {
		return err
	}
	defer password.Zeroize()

	c.ctx.Logger.Info("Creating %s encrypted container %q", system.FormatSize(sizeBytes), name)
	if _, err := c.ctx.Manager.Create(name, password, sizeBytes); err != nil {
		return err
	}
	return nil
}
