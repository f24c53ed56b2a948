package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nace/skrinja/internal/system"
	"github.com/nace/skrinja/internal/ui"
)

// ListCommand enumerates the containers in the base directory
type ListCommand struct {
	ctx      *GlobalContext
	jsonMode bool
}

// NewListCommand creates the list command
func NewListCommand(ctx *GlobalContext) *cobra.Command {
	cmd := &ListCommand{ctx: ctx}

	cobraCmd := &cobra.Command{
		Use:   "list",
		Short: "List all containers",
		Long:  `List every container in the base directory with its live state.`,
		Args:  cobra.NoArgs,
		RunE:  cmd.Run,
	}

	cobraCmd.Flags().BoolVar(&cmd.jsonMode, "json", false, "Output as JSON")

	return cobraCmd
}

// Run executes the list command
func (c *ListCommand) Run(cmd *cobra.Command, args []string) error {
	statuses, err := c.ctx.Manager.List()
	if err != nil {
		return err
	}

	if c.jsonMode {
		return ui.PrintJSON(statuses)
	}

	if len(statuses) == 0 {
		c.ctx.Logger.Info("No containers found")
		return nil
	}

	table := ui.NewTable("NAME", "STATE", "MOUNTED", "SIZE")
	for _, st := range statuses {
		size := "-"
		if st.SizeBytes > 0 {
			size = system.FormatSize(st.SizeBytes)
		}
		table.AddRow(st.Name, st.EncryptionState, fmt.Sprintf("%t", st.Mounted), size)
	}
	table.Print()

	return nil
}
