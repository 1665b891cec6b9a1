package dump

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidFormat is returned for archive formats pg_dump does not know.
var ErrInvalidFormat = errors.New("invalid backup format")

type Format string

const (
	FormatCustom    Format = "custom"
	FormatPlain     Format = "plain"
	FormatDirectory Format = "directory"
	FormatTar       Format = "tar"
)

// ParseFormat accepts the long names and pg_dump's single letters.
// An empty string means custom.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "custom", "c":
		return FormatCustom, nil
	case "plain", "p", "sql":
		return FormatPlain, nil
	case "directory", "d", "dir":
		return FormatDirectory, nil
	case "tar", "t":
		return FormatTar, nil
	default:
		return "", fmt.Errorf("%w %q (want custom, plain, directory or tar)", ErrInvalidFormat, s)
	}
}

func (f Format) flag() string {
	switch f {
	case FormatPlain:
		return "p"
	case FormatDirectory:
		return "d"
	case FormatTar:
		return "t"
	default:
		return "c"
	}
}

// Extension is appended to generated backup paths. Directory archives
// have none.
func (f Format) Extension() string {
	switch f {
	case FormatPlain:
		return ".sql"
	case FormatDirectory:
		return ""
	case FormatTar:
		return ".tar"
	default:
		return ".backup"
	}
}

// Compressed reports whether pg_dump's --compress applies to the format.
// Plain output has to stay readable by psql.
func (f Format) Compressed() bool {
	return f == FormatCustom || f == FormatDirectory
}

// Archive reports whether the format is restored with pg_restore rather
// than psql.
func (f Format) Archive() bool {
	return f != FormatPlain
}

const (
	customMagic = "PGDMP"
	tarMagic    = "ustar"
	tarMagicOff = 257
	gzipMagic   = "\x1f\x8b"
)

// isGzip reports whether a plain backup was written compressed, as pg_dump
// does for plain output given --compress.
func isGzip(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	head := make([]byte, len(gzipMagic))
	if _, err := io.ReadFull(f, head); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return false, nil
		}
		return false, err
	}
	return string(head) == gzipMagic, nil
}

// Detect sniffs the format of an existing backup.
func Detect(path string) (Format, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if fi.IsDir() {
		if _, err := os.Stat(filepath.Join(path, "toc.dat")); err != nil {
			return "", fmt.Errorf("%s is a directory without toc.dat: %w", path, ErrInvalidFormat)
		}
		return FormatDirectory, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	head := make([]byte, tarMagicOff+len(tarMagic))
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", err
	}
	head = head[:n]

	switch {
	case bytes.HasPrefix(head, []byte(customMagic)):
		return FormatCustom, nil
	case len(head) >= tarMagicOff+len(tarMagic) && string(head[tarMagicOff:]) == tarMagic:
		return FormatTar, nil
	default:
		return FormatPlain, nil
	}
}
