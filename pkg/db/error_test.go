package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestIsDuplicateKeyErr(t *testing.T) {
	assert.False(t, IsDuplicateKeyErr(nil))
	assert.True(t, IsDuplicateKeyErr(fmt.Errorf("insert: %w", gorm.ErrDuplicatedKey)))
	assert.True(t, IsDuplicateKeyErr(errors.New(`ERROR: duplicate key value violates unique constraint "ux_visits_active_player" (SQLSTATE 23505)`)))
	assert.True(t, IsDuplicateKeyErr(errors.New("constraint failed: UNIQUE constraint failed: visits.org_id (2067)")))
	assert.False(t, IsDuplicateKeyErr(errors.New("connection refused")))
}

func TestViolatedConstraint(t *testing.T) {
	assert.Equal(t, "ux_visits_active_player", ViolatedConstraint(errors.New(`ERROR: duplicate key value violates unique constraint "ux_visits_active_player" (SQLSTATE 23505)`)))
	assert.Equal(t, "visits.org_id, visits.player_id", ViolatedConstraint(errors.New("constraint failed: UNIQUE constraint failed: visits.org_id, visits.player_id (2067)")))
	assert.Empty(t, ViolatedConstraint(gorm.ErrDuplicatedKey))
	assert.Empty(t, ViolatedConstraint(nil))
}

func TestDialect(t *testing.T) {
	d, err := Dialect(Config{Type: DialectSQLite, Path: "file::memory:"})
	assert.NoError(t, err)
	assert.Equal(t, "sqlite", d.Name())

	d, err = Dialect(Config{Type: DialectPostgres, Host: "localhost", Port: "5432"})
	assert.NoError(t, err)
	assert.Equal(t, "postgres", d.Name())

	_, err = Dialect(Config{Type: "oracle"})
	assert.Error(t, err)
}
