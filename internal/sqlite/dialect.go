package sqlite

import (
	"fmt"
	"strings"
)

// dialect adapts the shared SQL document collection to SQLite's JSON1
// functions.
type dialect struct{}

func (dialect) Placeholder(int) string { return "?" }

func (dialect) FieldEquals(key string, _ int) string {
	return fmt.Sprintf("json_extract(body, '$.%s') = ?", key)
}

func (dialect) FieldArg(_, value string) (any, error) { return value, nil }

// ForUpdate is empty: SQLite locks the whole database for a write
// transaction.
func (dialect) ForUpdate() string { return "" }

func (dialect) IsDuplicate(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
