package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	auditdomain "github.com/smallbiznis/pitboss/internal/audit/domain"
	compliancedomain "github.com/smallbiznis/pitboss/internal/compliance/domain"
	slipdomain "github.com/smallbiznis/pitboss/internal/ratingslip/domain"
	thresholddomain "github.com/smallbiznis/pitboss/internal/threshold/domain"
	visitdomain "github.com/smallbiznis/pitboss/internal/visit/domain"
	"gorm.io/gorm"
)

const migrationsDir = "migrations"

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Models lists every table of the engine schema, for dialects migrated by
// gorm instead of SQL files.
func Models() []any {
	return []any{
		&visitdomain.Visit{},
		&slipdomain.RatingSlip{},
		&slipdomain.PauseInterval{},
		&compliancedomain.FinancialEvent{},
		&compliancedomain.Entry{},
		&thresholddomain.StateRecord{},
		&auditdomain.AuditLog{},
	}
}

// RunMigrations applies the embedded postgres migrations. The partial unique
// indexes they create are the storage guard for one active visit per player
// day and one open rating slip per visit.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Do not call migrator.Close here because it would close the shared *sql.DB.

	return nil
}

// AutoMigrate builds the schema from the gorm models, including the partial
// unique indexes declared in their tags.
func AutoMigrate(conn *gorm.DB) error {
	if err := conn.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
