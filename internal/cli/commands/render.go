package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/canonical/sqlprune"
	"github.com/canonical/sqlprune/internal/cli/config"
)

// RenderOutput is the JSON form of a pruned template.
type RenderOutput struct {
	File   string   `json:"file"`
	SQL    string   `json:"sql"`
	Params []string `json:"params"`
}

// NewRenderCommand creates the render command.
func NewRenderCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "render <template-file>...",
		Short: "Prune templates and print the final SQL",
		Long: `Prune one or more templates with the given bindings and print the
final SQL along with the parameters it uses.

Bindings come from the vars of the config file, the --bindings file and
--set flags, in increasing order of precedence.`,
		Example: `  # Render with a bindings file
  sqlprune render search.sql --bindings filter.yaml

  # Render with inline bindings
  sqlprune render search.sql --set team=engineering --set 'ids=[1, 2]'

  # Render several templates as JSON
  sqlprune render *.sql --output json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRender(cmd, args)
		},
	}
	addBindingFlags(cmd)
	return cmd
}

func runRender(cmd *cobra.Command, files []string) error {
	cfg := config.FromContext(cmd.Context())
	bindings, err := loadBindings(cmd, cfg)
	if err != nil {
		return err
	}

	results, err := pruneFiles(cmd, cfg, files, bindings)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if cfg.Output == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	for i, r := range results {
		if len(results) > 1 {
			if i > 0 {
				_, _ = fmt.Fprintln(w)
			}
			_, _ = fmt.Fprintf(w, "-- %s\n", r.File)
		}
		_, _ = fmt.Fprintln(w, r.SQL)
		_, _ = fmt.Fprintf(w, "-- params: %s\n", strings.Join(r.Params, ", "))
	}
	return nil
}

// pruneFiles prunes files concurrently. The results are in the order of
// files; the first failure cancels the others.
func pruneFiles(cmd *cobra.Command, cfg *config.Config, files []string, bindings sqlprune.M) ([]RenderOutput, error) {
	log := config.Logger(cmd.Context())
	results := make([]RenderOutput, len(files))
	eg, ctx := errgroup.WithContext(cmd.Context())
	for i, file := range files {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			pq, err := pruneFile(file, bindings, cfg.AllowUnbound)
			if err != nil {
				return err
			}
			log.WithField("file", file).Debug("Pruned template")
			results[i] = RenderOutput{File: file, SQL: pq.SQL(), Params: pq.ParamNames()}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// parseFile reads and parses a template file.
func parseFile(file string) (*sqlprune.Template, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read template: %w", err)
	}
	t, err := sqlprune.Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", file, err)
	}
	return t, nil
}

func pruneFile(file string, bindings sqlprune.M, allowUnbound bool) (*sqlprune.PrunedQuery, error) {
	t, err := parseFile(file)
	if err != nil {
		return nil, err
	}
	pq, err := t.PruneWith(bindings, sqlprune.Options{AllowUnbound: allowUnbound})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", file, err)
	}
	return pq, nil
}
