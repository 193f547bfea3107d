package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/canonical/sqlprune/internal/cli/config"
)

// NewParamsCommand creates the params command.
func NewParamsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "params <template-file>",
		Short: "List the parameters used after pruning",
		Long: `Prune a template with the given bindings and print the parameters the
final SQL uses, one per line, in order of first appearance.

With --raw the template is not pruned and every parameter it mentions is
listed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runParams(cmd, args[0])
		},
	}
	addBindingFlags(cmd)
	cmd.Flags().Bool("raw", false, "List every parameter of the template without pruning")
	return cmd
}

func runParams(cmd *cobra.Command, file string) error {
	cfg := config.FromContext(cmd.Context())

	var names []string
	raw, _ := cmd.Flags().GetBool("raw")
	if raw {
		t, err := parseFile(file)
		if err != nil {
			return err
		}
		names = t.Params()
	} else {
		bindings, err := loadBindings(cmd, cfg)
		if err != nil {
			return err
		}
		pq, err := pruneFile(file, bindings, cfg.AllowUnbound)
		if err != nil {
			return err
		}
		names = pq.ParamNames()
	}

	w := cmd.OutOrStdout()
	if cfg.Output == "json" {
		return json.NewEncoder(w).Encode(names)
	}
	for _, name := range names {
		_, _ = fmt.Fprintln(w, name)
	}
	return nil
}
