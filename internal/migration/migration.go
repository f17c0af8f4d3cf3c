package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	advisordomain "github.com/smallbiznis/greenledger/internal/advisor/domain"
	carbondomain "github.com/smallbiznis/greenledger/internal/carbon/domain"
	compliancedomain "github.com/smallbiznis/greenledger/internal/compliance/domain"
	ewastedomain "github.com/smallbiznis/greenledger/internal/ewaste/domain"
	identitydomain "github.com/smallbiznis/greenledger/internal/identity/domain"
	importdomain "github.com/smallbiznis/greenledger/internal/importer/domain"
	integrationdomain "github.com/smallbiznis/greenledger/internal/integration/domain"
	notificationdomain "github.com/smallbiznis/greenledger/internal/notification/domain"
	offsetdomain "github.com/smallbiznis/greenledger/internal/offset/domain"
	"github.com/smallbiznis/greenledger/internal/scheduler"
	"github.com/smallbiznis/greenledger/internal/tier"
	"gorm.io/gorm"
)

// Models lists every persisted type in dependency order.
func Models() []any {
	return []any{
		&identitydomain.Company{},
		&identitydomain.User{},
		&tier.Tier{},
		&carbondomain.Footprint{},
		&ewastedomain.Entry{},
		&offsetdomain.Offset{},
		&offsetdomain.Purchase{},
		&offsetdomain.CreditReversal{},
		&compliancedomain.Datapoint{},
		&compliancedomain.Assessment{},
		&compliancedomain.RegulatoryUpdate{},
		&compliancedomain.RegulatoryRead{},
		&integrationdomain.Provider{},
		&integrationdomain.Connection{},
		&importdomain.Job{},
		&importdomain.Artifact{},
		&notificationdomain.Log{},
		&notificationdomain.Milestone{},
		&scheduler.JobRun{},
		&advisordomain.Event{},
	}
}

// Migrate brings the schema up to date. Postgres runs the versioned SQL
// files; sqlite and mysql are migrated from the gorm models.
func Migrate(conn *gorm.DB, dbType string) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}
	if dbType != "postgres" {
		if err := conn.AutoMigrate(Models()...); err != nil {
			return fmt.Errorf("auto migrate %s: %w", dbType, err)
		}
		return nil
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	return RunMigrations(sqlDB)
}

// RunMigrations applies the embedded postgres migrations.
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
	// Closing the migrator would close the shared *sql.DB.

	return nil
}
