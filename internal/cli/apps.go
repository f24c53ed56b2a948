package cli

import (
	"github.com/spf13/cobra"

	"github.com/nace/skrinja/internal/supervisor"
	"github.com/nace/skrinja/internal/system"
	"github.com/nace/skrinja/internal/ui"
)

// StartCommand launches the configured applications and arms monitoring
type StartCommand struct {
	ctx *GlobalContext
}

// NewStartCommand creates the start command
func NewStartCommand(ctx *GlobalContext) *cobra.Command {
	cmd := &StartCommand{ctx: ctx}

	return &cobra.Command{
		Use:   "start [name]",
		Short: "Start the container's applications",
		Long: `Launch every enabled application configured for the container and arm
the inactivity monitoring that auto-dismounts the volume when idle.`,
		Args: cobra.MaximumNArgs(1),
		RunE: cmd.Run,
	}
}

// Run executes the start command
func (c *StartCommand) Run(cmd *cobra.Command, args []string) error {
	if err := system.RequireRoot(); err != nil {
		return err
	}
	if err := c.ctx.CheckDependencies(); err != nil {
		return err
	}

	results, err := c.ctx.Manager.StartApplications(containerName(args))
	if err != nil {
		return err
	}
	printResults(results)
	return nil
}

// StopCommand stops the configured applications and disarms monitoring
type StopCommand struct {
	ctx *GlobalContext
}

// NewStopCommand creates the stop command
func NewStopCommand(ctx *GlobalContext) *cobra.Command {
	cmd := &StopCommand{ctx: ctx}

	return &cobra.Command{
		Use:   "stop [name]",
		Short: "Stop the container's applications",
		Args:  cobra.MaximumNArgs(1),
		RunE:  cmd.Run,
	}
}

// Run executes the stop command
func (c *StopCommand) Run(cmd *cobra.Command, args []string) error {
	if err := system.RequireRoot(); err != nil {
		return err
	}
	if err := c.ctx.CheckDependencies(); err != nil {
		return err
	}

	results, err := c.ctx.Manager.StopApplications(containerName(args))
	if err != nil {
		return err
	}
	printResults(results)
	return nil
}

func printResults(results []supervisor.Result) {
	table := ui.NewTable("APPLICATION", "RESULT", "MESSAGE")
	for _, r := range results {
		outcome := "ok"
		if !r.Success {
			outcome = "failed"
		}
		table.AddRow(r.App, outcome, r.Message)
	}
	table.Print()
}
