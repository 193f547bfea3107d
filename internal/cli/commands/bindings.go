package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/canonical/sqlprune"
	"github.com/canonical/sqlprune/internal/cli/config"
)

// addBindingFlags registers the flags that set bindings on cmd.
func addBindingFlags(cmd *cobra.Command) {
	cmd.Flags().StringArray("set", nil, "Set a binding, as name=value with a YAML value (repeatable)")
}

// loadBindings merges the bindings of the config file, the bindings file
// and the --set flags, later sources overriding earlier ones.
func loadBindings(cmd *cobra.Command, cfg *config.Config) (sqlprune.M, error) {
	bindings := sqlprune.M{}
	for name, v := range cfg.Vars {
		bindings[name] = v
	}

	if cfg.Bindings != "" {
		data, err := os.ReadFile(cfg.Bindings)
		if err != nil {
			return nil, fmt.Errorf("failed to read bindings: %w", err)
		}
		var fromFile map[string]any
		// JSON is a subset of YAML.
		if err := yaml.Unmarshal(data, &fromFile); err != nil {
			return nil, fmt.Errorf("failed to parse bindings file %s: %w", cfg.Bindings, err)
		}
		for name, v := range fromFile {
			bindings[name] = v
		}
	}

	sets, err := cmd.Flags().GetStringArray("set")
	if err != nil {
		return nil, err
	}
	for _, set := range sets {
		name, raw, ok := strings.Cut(set, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid binding %q, expected name=value", set)
		}
		v, err := parseValue(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid value for binding %q: %w", name, err)
		}
		bindings[name] = v
	}
	return bindings, nil
}

// parseValue decodes a YAML scalar or flow sequence, so that 5 is a number,
// null is null and [1, 2] is a list. An empty value is the empty string.
func parseValue(raw string) (any, error) {
	if raw == "" {
		return "", nil
	}
	var v any
	if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
		return nil, err
	}
	return v, nil
}
