package commands

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/canonical/sqlprune"
	"github.com/canonical/sqlprune/internal/cli/config"
)

// NewExecCommand creates the exec command.
func NewExecCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exec <template-file>",
		Short: "Prune a template and run it against a database",
		Long: `Prune a template with the given bindings and run the final SQL against
the database, passing only the parameters that survive pruning.

Two SQLite drivers are available: sqlite3 (cgo) and sqlite (pure Go).`,
		Example: `  # Query a database file
  sqlprune exec search.sql --database app.db --set team=engineering

  # Use the pure Go driver and print JSON
  sqlprune exec search.sql --driver sqlite --database app.db -o json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExec(cmd, args[0])
		},
	}
	addBindingFlags(cmd)
	return cmd
}

func runExec(cmd *cobra.Command, file string) error {
	cfg := config.FromContext(cmd.Context())
	log := config.Logger(cmd.Context())

	bindings, err := loadBindings(cmd, cfg)
	if err != nil {
		return err
	}
	t, err := parseFile(file)
	if err != nil {
		return err
	}

	sqldb, err := sql.Open(cfg.Driver, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer sqldb.Close()
	db := sqlprune.NewDB(sqldb)
	db.SetLogger(log.WithField("database", cfg.Database))

	q := db.QueryWith(cmd.Context(), t, bindings, sqlprune.Options{AllowUnbound: cfg.AllowUnbound})
	iter := q.Iter()
	var rows []sqlprune.M
	for iter.Next() {
		m := sqlprune.M{}
		if err := iter.Get(m); err != nil {
			iter.Close()
			return err
		}
		rows = append(rows, m)
	}
	if err := iter.Close(); err != nil {
		return fmt.Errorf("%s: %w", file, err)
	}

	w := cmd.OutOrStdout()
	if cfg.Output == "json" {
		return renderJSON(w, rows)
	}
	return renderTable(w, iter.Columns(), rows)
}

func renderTable(w io.Writer, cols []string, rows []sqlprune.M) error {
	if len(rows) == 0 {
		_, _ = fmt.Fprintln(w, "(0 rows)")
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)

	header := make(table.Row, len(cols))
	for i, col := range cols {
		header[i] = col
	}
	t.AppendHeader(header)

	for _, r := range rows {
		row := make(table.Row, len(cols))
		for i, col := range cols {
			row[i] = formatValue(r[col])
		}
		t.AppendRow(row)
	}

	t.Render()
	_, _ = fmt.Fprintf(w, "(%s)\n", plural(len(rows), "row"))
	return nil
}

func renderJSON(w io.Writer, rows []sqlprune.M) error {
	out := make([]map[string]any, len(rows))
	for i, r := range rows {
		out[i] = map[string]any{}
		for k, v := range r {
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			out[i][k] = v
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func formatValue(v any) string {
	switch v := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(v)
	case time.Time:
		return v.Format(time.RFC3339)
	default:
		return fmt.Sprint(v)
	}
}
