package db

import (
	"log/slog"
	"strings"
)

const (
	DriverPostgres = "postgres"
	DriverMysql    = "mysql"
	DriverMssql    = "mssql"
	DriverSqlite   = "sqlite"
)

// Credentials is everything needed to open a session against a server.
type Credentials struct {
	Driver   string            `koanf:"driver" yaml:"driver,omitempty"`
	Host     string            `koanf:"host" yaml:"host,omitempty"`
	Port     int               `koanf:"port" yaml:"port,omitempty"`
	User     string            `koanf:"user" yaml:"user,omitempty"`
	Password string            `koanf:"password" yaml:"-"`
	Database string            `koanf:"database" yaml:"database,omitempty"`
	SSLMode  string            `koanf:"sslmode" yaml:"sslmode,omitempty"`
	Options  map[string]string `koanf:"options" yaml:"options,omitempty"`
}

// NormalizedDriver maps aliases to the canonical driver names.
func (c Credentials) NormalizedDriver() string {
	switch strings.ToLower(strings.TrimSpace(c.Driver)) {
	case "", "postgres", "postgresql", "pg", "pgx":
		return DriverPostgres
	case "mysql", "mariadb":
		return DriverMysql
	case "mssql", "sqlserver":
		return DriverMssql
	case "sqlite", "sqlite3":
		return DriverSqlite
	default:
		return strings.ToLower(c.Driver)
	}
}

// HostOrDefault returns the host, defaulting to localhost.
func (c Credentials) HostOrDefault() string {
	if c.Host == "" {
		return "localhost"
	}
	return c.Host
}

// PortOrDefault returns the configured port or the driver's well-known port.
func (c Credentials) PortOrDefault() int {
	if c.Port != 0 {
		return c.Port
	}
	switch c.NormalizedDriver() {
	case DriverMysql:
		return 3306
	case DriverMssql:
		return 1433
	case DriverSqlite:
		return 0
	default:
		return 5432
	}
}

// DatabaseOrDefault returns the database to connect to when none was given.
// Postgres always needs one, so it falls back to the maintenance database.
func (c Credentials) DatabaseOrDefault() string {
	if c.Database != "" {
		return c.Database
	}
	switch c.NormalizedDriver() {
	case DriverPostgres:
		return "postgres"
	case DriverMssql:
		return "master"
	default:
		return ""
	}
}

// WithDatabase returns a copy pointing at another database.
func (c Credentials) WithDatabase(name string) Credentials {
	out := c
	out.Database = name
	if c.Options != nil {
		out.Options = make(map[string]string, len(c.Options))
		for k, v := range c.Options {
			out.Options[k] = v
		}
	}
	return out
}

// LogValue keeps the password out of log output.
func (c Credentials) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("driver", c.NormalizedDriver()),
		slog.String("host", c.HostOrDefault()),
		slog.Int("port", c.PortOrDefault()),
		slog.String("user", c.User),
		slog.String("database", c.DatabaseOrDefault()),
	)
}
