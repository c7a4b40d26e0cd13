package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cybeform/cybemeeting/cmd/config"
	"github.com/cybeform/cybemeeting/cmd/process"
	"github.com/cybeform/cybemeeting/cmd/serve"
	"github.com/cybeform/cybemeeting/internal/conf"
	"github.com/cybeform/cybemeeting/internal/logging"
)

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "cybemeeting",
		Short: "CybeMeeting backend CLI",
	}

	// Set up the global flags for the root command.
	setupFlags(rootCmd, settings)

	subcommands := []*cobra.Command{
		serve.Command(settings),
		process.Command(settings),
		config.Command(settings),
	}
	rootCmd.AddCommand(subcommands...)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// Parse the command line flags so they take precedence over the
		// values read from the configuration file.
		if err := cmd.Flags().Parse(args); err != nil {
			return err
		}

		if settings.Debug {
			logging.SetLevel(slog.LevelDebug)
		}

		return nil
	}

	return rootCmd
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) error {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&settings.Storage.DataPath, "datapath", viper.GetString("storage.datapath"), "Root directory for uploaded audio and generated reports")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return fmt.Errorf("error binding flags: %v", err)
	}

	return nil
}
