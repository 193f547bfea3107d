// Command sqlprune prunes SQL templates and runs them against a database.
package main

import (
	"os"

	"github.com/canonical/sqlprune/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
