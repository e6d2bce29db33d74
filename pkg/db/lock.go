package db

import (
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ForUpdate adds a row lock to the query on dialects that support it.
// SQLite serializes writers at the database level and rejects the clause.
func ForUpdate(tx *gorm.DB) *gorm.DB {
	if tx == nil || !SupportsRowLocks(tx) {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// ForUpdateSkipLocked is ForUpdate for batch claims.
func ForUpdateSkipLocked(tx *gorm.DB) *gorm.DB {
	if tx == nil || !SupportsRowLocks(tx) {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
}

func SupportsRowLocks(tx *gorm.DB) bool {
	return !strings.EqualFold(tx.Dialector.Name(), DialectSQLite)
}
