package db

import (
	"errors"
	"regexp"
	"strings"

	"gorm.io/gorm"
)

var (
	// postgres: duplicate key value violates unique constraint "ux_visits_active_player" (SQLSTATE 23505)
	pgUniqueRe = regexp.MustCompile(`unique constraint "([^"]+)"`)
	// sqlite: UNIQUE constraint failed: visits.org_id, visits.player_id (2067)
	sqliteUniqueRe = regexp.MustCompile(`UNIQUE constraint failed: ([^(]+)`)
)

// IsDuplicateKeyErr reports a unique index violation on either dialect. The
// engine relies on these as the last guard against concurrent duplicates.
func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return pgUniqueRe.MatchString(msg) || sqliteUniqueRe.MatchString(msg)
}

// ViolatedConstraint names the unique index behind a duplicate key error:
// the constraint name on postgres, the column list on sqlite. It returns ""
// when err is not a duplicate or the driver did not say.
func ViolatedConstraint(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if m := pgUniqueRe.FindStringSubmatch(msg); m != nil {
		return m[1]
	}
	if m := sqliteUniqueRe.FindStringSubmatch(msg); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}
