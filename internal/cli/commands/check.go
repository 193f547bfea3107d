package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/canonical/sqlprune/internal/cli/config"
)

// NewCheckCommand creates the check command.
func NewCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check <template-file>...",
		Short: "Check templates for markup and condition errors",
		Long: `Parse templates without pruning them and report malformed markup,
unsupported tags and invalid conditions with their position.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, args)
		},
	}
}

func runCheck(cmd *cobra.Command, files []string) error {
	log := config.Logger(cmd.Context())
	w := cmd.OutOrStdout()
	failed := 0
	for _, file := range files {
		if _, err := parseFile(file); err != nil {
			failed++
			_, _ = fmt.Fprintln(w, err)
			continue
		}
		log.WithField("file", file).Debug("Template is valid")
		_, _ = fmt.Fprintf(w, "%s: ok\n", file)
	}
	if failed > 0 {
		return errors.New(plural(failed, "template") + " failed to parse")
	}
	return nil
}

func plural(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
