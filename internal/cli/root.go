// Package cli provides the command-line interface for sqlprune.
package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/canonical/sqlprune/internal/cli/commands"
	"github.com/canonical/sqlprune/internal/cli/config"
)

// Version is set at build time.
var Version = "0.1.0"

// NewRootCmd creates and returns the root command.
func NewRootCmd() *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "sqlprune",
		Short: "sqlprune - SQL template pruning",
		Long: `sqlprune prunes SQL templates: fragments wrapped in <if>, <elsif> and
<else> tags are kept or removed depending on the bindings, and <a> blocks are
repeated once per element of a list.

The final SQL only references the parameters that are bound.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Skip config loading for help and completion commands
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}

			cfg, used, err := config.Load(cfgFile, cmd.Flags())
			if err != nil {
				return err
			}
			log := cfg.NewLogger(cmd.ErrOrStderr())
			if used != "" {
				log.WithField("file", used).Debug("Using config file")
			}
			cmd.SetContext(config.WithConfig(cmd.Context(), cfg, log))
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.SetVersionTemplate("{{.Name}} {{.Version}}\n")

	// Global persistent flags
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: ./sqlprune.yaml)")
	flags.String("driver", "", "Database driver ("+strings.Join(config.Drivers, "|")+")")
	flags.String("database", "", "Database data source name (default: in-memory)")
	flags.StringP("output", "o", "", "Output format ("+strings.Join(config.Outputs, "|")+")")
	flags.BoolP("verbose", "v", false, "Verbose output")
	flags.Bool("allow-unbound", false, "Treat parameters without a binding as null")
	flags.StringP("bindings", "b", "", "YAML file of bindings")

	_ = rootCmd.RegisterFlagCompletionFunc("output", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return config.Outputs, cobra.ShellCompDirectiveNoFileComp
	})
	_ = rootCmd.RegisterFlagCompletionFunc("driver", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return config.Drivers, cobra.ShellCompDirectiveNoFileComp
	})

	rootCmd.AddCommand(commands.NewVersionCommand(Version))
	rootCmd.AddCommand(commands.NewRenderCommand())
	rootCmd.AddCommand(commands.NewParamsCommand())
	rootCmd.AddCommand(commands.NewCheckCommand())
	rootCmd.AddCommand(commands.NewExecCommand())

	return rootCmd
}

// Execute runs the root command.
func Execute() error {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}
