package dump

import (
	"errors"
	"fmt"
)

// ErrToolNotFound means a vendor tool could not be located.
var ErrToolNotFound = errors.New("command-line tools may not be installed or in your PATH")

const (
	toolPgDump    = "pg_dump"
	toolPgRestore = "pg_restore"
	toolPsql      = "psql"
	toolMysqldump = "mysqldump"
	toolMysql     = "mysql"
)

// Tools holds explicit paths for the vendor binaries. Empty entries are
// looked up on PATH.
type Tools struct {
	PgDump    string `koanf:"pg_dump" yaml:"pg_dump,omitempty"`
	PgRestore string `koanf:"pg_restore" yaml:"pg_restore,omitempty"`
	Psql      string `koanf:"psql" yaml:"psql,omitempty"`
	Mysqldump string `koanf:"mysqldump" yaml:"mysqldump,omitempty"`
	Mysql     string `koanf:"mysql" yaml:"mysql,omitempty"`
}

func (t Tools) configured(name string) string {
	switch name {
	case toolPgDump:
		return t.PgDump
	case toolPgRestore:
		return t.PgRestore
	case toolPsql:
		return t.Psql
	case toolMysqldump:
		return t.Mysqldump
	case toolMysql:
		return t.Mysql
	}
	return ""
}

func (r *Runner) resolve(name string) (string, error) {
	target := name
	if p := r.tools.configured(name); p != "" {
		target = p
	}
	path, err := r.lookPath(target)
	if err != nil {
		return "", fmt.Errorf("%s: %w", name, ErrToolNotFound)
	}
	return path, nil
}

