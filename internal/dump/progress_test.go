package dump

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{
		"":          FormatCustom,
		"c":         FormatCustom,
		"Custom":    FormatCustom,
		"plain":     FormatPlain,
		"sql":       FormatPlain,
		"directory": FormatDirectory,
		"d":         FormatDirectory,
		"tar":       FormatTar,
	} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseFormat("zip")
	assert.ErrorIs(t, err, ErrInvalidFormat)
}

func TestDetect(t *testing.T) {
	dir := t.TempDir()

	custom := filepath.Join(dir, "a.backup")
	require.NoError(t, os.WriteFile(custom, []byte("PGDMP\x01\x0e"), 0o644))

	tarHeader := make([]byte, 512)
	copy(tarHeader[257:], "ustar")
	tarFile := filepath.Join(dir, "a.tar")
	require.NoError(t, os.WriteFile(tarFile, tarHeader, 0o644))

	plain := filepath.Join(dir, "a.sql")
	require.NoError(t, os.WriteFile(plain, []byte("SELECT 1;"), 0o644))

	empty := filepath.Join(dir, "empty.sql")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))

	archiveDir := filepath.Join(dir, "archive")
	require.NoError(t, os.Mkdir(archiveDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(archiveDir, "toc.dat"), []byte("PGDMP"), 0o644))

	tests := map[string]Format{
		custom:     FormatCustom,
		tarFile:    FormatTar,
		plain:      FormatPlain,
		empty:      FormatPlain,
		archiveDir: FormatDirectory,
	}
	for path, want := range tests {
		got, err := Detect(path)
		require.NoError(t, err, path)
		assert.Equal(t, want, got, path)
	}

	_, err := Detect(dir)
	assert.ErrorIs(t, err, ErrInvalidFormat)

	_, err = Detect(filepath.Join(dir, "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestFormatExtension(t *testing.T) {
	assert.Equal(t, ".backup", FormatCustom.Extension())
	assert.Equal(t, ".sql", FormatPlain.Extension())
	assert.Equal(t, "", FormatDirectory.Extension())
	assert.Equal(t, ".tar", FormatTar.Extension())
	assert.False(t, FormatPlain.Archive())
	assert.True(t, FormatTar.Archive())
	assert.True(t, FormatCustom.Compressed())
	assert.True(t, FormatDirectory.Compressed())
	assert.False(t, FormatPlain.Compressed())
	assert.False(t, FormatTar.Compressed())
}

func TestClassifier(t *testing.T) {
	var c classifier
	for _, line := range []string{
		"pg_restore: creating TABLE \"public.users\"",
		"pg_restore: WARNING: no privileges were granted",
		"pg_restore: error: could not execute query: ERROR:  relation \"users\" already exists",
		"pg_dump: FATAL:  the database system is starting up",
		"could not open file",
		"   ",
		"pg_restore: warning: errors ignored on restore: 3",
	} {
		c.line(line)
	}

	assert.Equal(t, []string{
		"pg_restore: WARNING: no privileges were granted",
		"pg_restore: warning: errors ignored on restore: 3",
	}, c.warnings)
	assert.Len(t, c.errors, 3)
	assert.Equal(t, "could not open file", c.lastError)
	assert.Equal(t, 3, c.ignored)
	assert.True(t, c.tolerated())
}

func TestTrackerKnownTotal(t *testing.T) {
	var got []Progress
	tr := newTracker(func(p Progress) { got = append(got, p) }, 3, nil)

	tr.start("go")
	for range 5 {
		tr.line("x")
	}
	tr.finish("done")

	var percents []int
	for _, p := range got {
		percents = append(percents, p.Percent)
	}
	assert.Equal(t, []int{0, 33, 66, 99, 99, 99, 100}, percents)
}

func TestTrackerEstimate(t *testing.T) {
	var last Progress
	tr := newTracker(func(p Progress) { last = p }, 0, nil)

	tr.line("a")
	assert.Equal(t, 9, last.Percent)

	prev := 0
	for range 200 {
		tr.line("x")
		assert.GreaterOrEqual(t, last.Percent, prev)
		assert.Less(t, last.Percent, estimatedCap)
		prev = last.Percent
	}
	assert.Equal(t, estimatedCap-1, last.Percent)
}

func TestTrackerCountsOnlyMatchingLines(t *testing.T) {
	var last Progress
	tr := newTracker(func(p Progress) { last = p }, 2, dumpsTable)

	tr.line("pg_dump: reading extensions")
	assert.Equal(t, 0, last.Percent)
	assert.Equal(t, "pg_dump: reading extensions", last.Message)

	tr.line(`pg_dump: dumping contents of table "public.users"`)
	assert.Equal(t, 50, last.Percent)
}
