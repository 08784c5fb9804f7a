// internal/utils/pagination.go
package utils

import (
	"gorm.io/gorm"
)

// PageSize is the fixed page size of every list endpoint.
const PageSize = 10

// ApplyCursor filters a newest-first query to rows older than the cursor
// row. An empty cursor id starts at the newest row. The table must carry
// BaseModel's id and created_at columns.
func ApplyCursor(db *gorm.DB, table, cursorID string) *gorm.DB {
	query := db.Order("created_at DESC").Limit(PageSize)
	if cursorID == "" {
		return query
	}
	return query.Where(
		"created_at < (SELECT created_at FROM "+table+" WHERE id = ?)",
		cursorID,
	)
}
