package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nace/skrinja/internal/system"
	"github.com/nace/skrinja/internal/ui"
)

// StatusCommand reports the observable state of a container
type StatusCommand struct {
	ctx      *GlobalContext
	jsonMode bool
}

// NewStatusCommand creates the status command
func NewStatusCommand(ctx *GlobalContext) *cobra.Command {
	cmd := &StatusCommand{ctx: ctx}

	cobraCmd := &cobra.Command{
		Use:   "status [name]",
		Short: "Show container status",
		Long: `Show existence, encryption and mount state, application reachability
and inactivity monitoring for a container. The snapshot is derived from
the live OS state on every call.`,
		Args: cobra.MaximumNArgs(1),
		RunE: cmd.Run,
	}

	cobraCmd.Flags().BoolVar(&cmd.jsonMode, "json", false, "Output as JSON")

	return cobraCmd
}

// Run executes the status command
func (c *StatusCommand) Run(cmd *cobra.Command, args []string) error {
	st := c.ctx.Manager.Status(containerName(args))

	if c.jsonMode {
		return ui.PrintJSON(st)
	}

	table := ui.NewTable("FIELD", "VALUE")
	table.AddRow("name", st.Name)
	table.AddRow("exists", fmt.Sprintf("%t", st.Exists))
	table.AddRow("encryption", st.EncryptionState)
	table.AddRow("mounted", fmt.Sprintf("%t", st.Mounted))
	if st.Mounted {
		table.AddRow("mount point", st.MountPoint)
	}
	if st.Device != "" {
		table.AddRow("device", st.Device)
	}
	if st.SizeBytes > 0 {
		table.AddRow("size", system.FormatSize(st.SizeBytes))
	}
	if st.FilesystemBytes > 0 {
		table.AddRow("used", fmt.Sprintf("%s of %s",
			system.FormatSize(st.UsedBytes), system.FormatSize(st.FilesystemBytes)))
	}
	if st.Config != nil {
		table.AddRow("applications", fmt.Sprintf("%d configured", len(st.Config.Applications)))
		table.AddRow("auto-unmount", fmt.Sprintf("%d min", st.Config.AutoUnmountTimeoutMinutes))
	}
	table.AddRow("reachable", fmt.Sprintf("%t", st.Reachable))
	table.AddRow("monitoring", fmt.Sprintf("%t", st.MonitoringActive))
	if st.LastActivity != nil {
		table.AddRow("inactive", fmt.Sprintf("%.1f min", st.MinutesInactive))
	}
	if st.OrphanedConfig {
		table.AddRow("orphaned config", "true (backing file missing)")
	}
	table.Print()

	return nil
}
