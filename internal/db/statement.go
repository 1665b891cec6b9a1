package db

import (
	"context"
	"strings"
	"unicode"
)

var rowKeywords = map[string]bool{
	"select":   true,
	"with":     true,
	"show":     true,
	"values":   true,
	"table":    true,
	"explain":  true,
	"pragma":   true,
	"describe": true,
	"desc":     true,
}

// ReturnsRows guesses whether an ad-hoc statement produces a result set.
// Leading whitespace, comments and opening parentheses are skipped.
func ReturnsRows(sql string) bool {
	return rowKeywords[FirstKeyword(sql)]
}

// FirstKeyword returns the lower-cased first word of sql, ignoring
// comments and parentheses.
func FirstKeyword(sql string) string {
	s := sql
	for {
		s = strings.TrimLeftFunc(s, func(r rune) bool {
			return unicode.IsSpace(r) || r == '('
		})
		switch {
		case strings.HasPrefix(s, "--"):
			nl := strings.IndexByte(s, '\n')
			if nl == -1 {
				return ""
			}
			s = s[nl+1:]
		case strings.HasPrefix(s, "/*"):
			end := strings.Index(s, "*/")
			if end == -1 {
				return ""
			}
			s = s[end+2:]
		default:
			end := strings.IndexFunc(s, func(r rune) bool {
				return !unicode.IsLetter(r) && r != '_'
			})
			if end == -1 {
				end = len(s)
			}
			return strings.ToLower(s[:end])
		}
	}
}

// Run executes ad-hoc SQL, routing it through Query or Exec depending on
// whether it returns rows.
func Run(ctx context.Context, d DB, sql string) (*Rows, error) {
	if ReturnsRows(sql) {
		return d.Query(ctx, sql)
	}
	n, err := d.Exec(ctx, sql)
	if err != nil {
		return nil, err
	}
	return &Rows{RowsAffected: n}, nil
}

// QuoteWith quotes an identifier with the given open/close characters,
// doubling any embedded closing character.
func QuoteWith(id string, open, close string) string {
	return open + strings.ReplaceAll(id, close, close+close) + close
}
