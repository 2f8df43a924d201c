package mysql

import "strings"

// orderClause builds a safe ORDER BY from a whitelist of sortable columns.
// Unknown columns fall back to def; direction defaults to DESC.
func orderClause(orderBy, orderDir string, allowed map[string]string, def string) string {
	col, ok := allowed[strings.ToLower(strings.TrimSpace(orderBy))]
	if !ok {
		col = def
	}
	dir := "DESC"
	if strings.EqualFold(orderDir, "asc") {
		dir = "ASC"
	}
	return " ORDER BY " + col + " " + dir
}
