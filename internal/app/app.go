package app

import (
	"context"
	"fmt"

	"github.com/bgunnarsson/binadmin/internal/db"
	"github.com/bgunnarsson/binadmin/internal/db/mssql"
	"github.com/bgunnarsson/binadmin/internal/db/mysql"
	"github.com/bgunnarsson/binadmin/internal/db/postgres"
	"github.com/bgunnarsson/binadmin/internal/db/sqlite"
)

// OpenDB is the central driver factory. It satisfies session.Opener.
func OpenDB(_ context.Context, creds db.Credentials) (db.DB, error) {
	switch creds.NormalizedDriver() {
	case db.DriverPostgres:
		return postgres.Open(postgres.DSN(creds))
	case db.DriverMysql:
		return mysql.Open(mysql.DSN(creds))
	case db.DriverMssql:
		return mssql.Open(mssql.DSN(creds))
	case db.DriverSqlite:
		// the "database" is the file path
		return sqlite.Open(creds.Database)
	default:
		return nil, fmt.Errorf("unsupported driver %q", creds.Driver)
	}
}
