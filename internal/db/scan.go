package db

import (
	"database/sql"
	"strings"
	"time"
)

// ValueFunc converts a scanned driver value into something printable.
// dbType is the lower-cased database type name of the column.
type ValueFunc func(v any, dbType string) any

// TextValue is the normalisation shared by drivers that return text columns
// as []byte.
func TextValue(v any, _ string) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case time.Time:
		return x.Format(time.RFC3339Nano)
	default:
		return x
	}
}

// Collect drains rows into a Rows value. It does not close rows.
func Collect(rows *sql.Rows, normalize ValueFunc) (*Rows, error) {
	colNames, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}

	header := make([]Column, len(colNames))
	dbTypes := make([]string, len(colNames))
	for i, name := range colNames {
		typ := ""
		nullable := true
		if i < len(colTypes) && colTypes[i] != nil {
			typ = strings.ToLower(colTypes[i].DatabaseTypeName())
			if n, ok := colTypes[i].Nullable(); ok {
				nullable = n
			}
		}
		dbTypes[i] = typ
		header[i] = Column{
			Name:     name,
			Type:     typ,
			Nullable: nullable,
		}
	}

	var data []Row
	for rows.Next() {
		values := make([]any, len(colNames))
		ptrs := make([]any, len(colNames))
		for i := range values {
			ptrs[i] = &values[i]
		}

		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		if normalize != nil {
			for i, v := range values {
				values[i] = normalize(v, dbTypes[i])
			}
		}

		data = append(data, Row(values))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &Rows{
		Columns: header,
		Data:    data,
	}, nil
}

// ScanStrings drains a single-column result into a slice.
func ScanStrings(rows *sql.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
