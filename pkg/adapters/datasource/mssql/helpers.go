package mssql

import (
	"fmt"
	"strings"
)

// quoteName brackets a SQL Server identifier, escaping ] as ]] the way
// QUOTENAME() does.
func quoteName(identifier string) string {
	escaped := strings.ReplaceAll(identifier, "]", "]]")
	return fmt.Sprintf("[%s]", escaped)
}
