package store

import "strings"

// maxSQLiteParams stays below SQLite's default host parameter limit.
const maxSQLiteParams = 900

// placeholderList returns "?,?,?" for n placeholders.
func placeholderList(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}

// stringsToArgs converts []string to []any for use with database/sql.
func stringsToArgs(ss []string) []any {
	args := make([]any, len(ss))
	for i, s := range ss {
		args[i] = s
	}
	return args
}

// chunkStrings splits ss into slices of at most n elements.
func chunkStrings(ss []string, n int) [][]string {
	var chunks [][]string
	for len(ss) > n {
		chunks = append(chunks, ss[:n])
		ss = ss[n:]
	}
	if len(ss) > 0 {
		chunks = append(chunks, ss)
	}
	return chunks
}
