package main

import (
	"os"
	"sync"

	"github.com/spf13/cobra"

	"github.com/nace/skrinja/internal/cli"
	"github.com/nace/skrinja/internal/config"
)

var (
	verbose    bool
	quiet      bool
	noColor    bool
	debug      bool
	configPath string

	ctx  *cli.GlobalContext
	once sync.Once
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "skrinja",
	Short: "Skrinja - supervised encrypted volume manager",
	Long: `Skrinja manages a single LUKS2 encrypted container that hosts supervised
applications. It creates, mounts and deletes the container, starts and
stops the applications inside it, and automatically re-encrypts the
volume after a period of inactivity.`,
	Version: "0.1.0",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		once.Do(func() {
			var cfg *config.Config
			cfg, err = config.Load(configPath)
			if err != nil {
				return
			}
			ctx2 := cli.NewGlobalContext(cfg, verbose, quiet, noColor, debug)
			*ctx = *ctx2
		})
		return err
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Quiet mode (suppress non-error output)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable color output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Debug mode (show external commands)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "Operator config file")

	// Placeholder context; filled in once flags are parsed
	ctx = &cli.GlobalContext{}

	// Register commands
	rootCmd.AddCommand(cli.NewCreateCommand(ctx))
	rootCmd.AddCommand(cli.NewMountCommand(ctx))
	rootCmd.AddCommand(cli.NewUnmountCommand(ctx))
	rootCmd.AddCommand(cli.NewStartCommand(ctx))
	rootCmd.AddCommand(cli.NewStopCommand(ctx))
	rootCmd.AddCommand(cli.NewRunCommand(ctx))
	rootCmd.AddCommand(cli.NewStatusCommand(ctx))
	rootCmd.AddCommand(cli.NewListCommand(ctx))
	rootCmd.AddCommand(cli.NewVerifyCommand(ctx))
	rootCmd.AddCommand(cli.NewPasswdCommand(ctx))
	rootCmd.AddCommand(cli.NewDeleteCommand(ctx))

	rootCmd.SetHelpCommand(&cobra.Command{
		Use:    "no-help",
		Hidden: true,
	})
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
