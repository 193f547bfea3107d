// Package config provides configuration management for the sqlprune CLI.
package config

// Default values for configuration.
const (
	DefaultDriver   = "sqlite3"
	DefaultDatabase = ":memory:"
	DefaultOutput   = "text"
)

// Drivers are the database/sql drivers the exec command can open.
var Drivers = []string{"sqlite3", "sqlite"}

// Outputs are the supported output formats.
var Outputs = []string{"text", "json"}

// Config holds the CLI configuration.
type Config struct {
	// Driver is the database/sql driver used by exec.
	Driver string `koanf:"driver"`
	// Database is the data source name passed to the driver.
	Database string `koanf:"database"`
	// Output is the output format, text or json.
	Output  string `koanf:"output"`
	Verbose bool   `koanf:"verbose"`
	// Bindings is a YAML or JSON file holding the bindings.
	Bindings string `koanf:"bindings"`
	// AllowUnbound treats parameters without a binding as null.
	AllowUnbound bool `koanf:"allow_unbound"`
	// Vars are bindings set in the config file, overridden by the bindings
	// file and by --set.
	Vars map[string]any `koanf:"vars"`
}
