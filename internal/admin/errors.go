package admin

import (
	"errors"
	"os"

	"github.com/bgunnarsson/binadmin/internal/dump"
)

// Validation failures. They are wrapped with the offending name, e.g.
// `database "x" already exists`.
var (
	ErrNameRequired       = errors.New("name is required")
	ErrAlreadyExists      = errors.New("already exists")
	ErrSameName           = errors.New("new name must be different from the current name")
	ErrConfirmMismatch    = errors.New("confirmation does not match the database name")
	ErrInvalidFormat      = dump.ErrInvalidFormat
	ErrInvalidCompression = errors.New("compression level must be between 0 and 9")
	ErrFileRequired       = errors.New("backup file is required")
	ErrSQLRequired        = errors.New("please enter a SQL query")
)

// IsValidation reports whether err was caused by bad input rather than
// the server or the tools.
func IsValidation(err error) bool {
	for _, target := range []error{
		ErrNameRequired,
		ErrAlreadyExists,
		ErrSameName,
		ErrConfirmMismatch,
		ErrInvalidFormat,
		ErrInvalidCompression,
		ErrFileRequired,
		ErrSQLRequired,
		os.ErrNotExist,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
