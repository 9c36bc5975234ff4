package registry

import (
	"fmt"
	"log/slog"
	"mtl_platform/schema"
	"mtl_platform/utils/logging"
	"net/url"
	"strings"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func isPostgres(uri string) bool {
	return strings.HasPrefix(uri, "postgres://") || strings.HasPrefix(uri, "postgresql://")
}

func postgresDsn(uri string) (string, error) {
	parts, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("error parsing db uri: %w", err)
	}
	pwd, _ := parts.User.Password()
	dbname := strings.TrimPrefix(parts.Path, "/")
	return fmt.Sprintf("host=%v user=%v password=%v dbname=%v port=%v", parts.Hostname(), parts.User.Username(), pwd, dbname, parts.Port()), nil
}

// OpenDb connects to the registry database and brings its schema up to date.
// Postgres uris select the postgres driver, anything else is a sqlite path.
func OpenDb(uri string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	if isPostgres(uri) {
		dsn, err := postgresDsn(uri)
		if err != nil {
			return nil, err
		}
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(uri)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		slog.Error("error opening database connection", "code", logging.REGISTRY, "error", err)
		return nil, fmt.Errorf("error opening database connection: %w", err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

func migrations() []*gormigrate.Migration {
	return []*gormigrate.Migration{
		{
			ID: "1",
			Migrate: func(txn *gorm.DB) error {
				return txn.AutoMigrate(&schema.Dataset{}, &schema.Bundle{}, &schema.BundleFile{})
			},
			Rollback: func(txn *gorm.DB) error {
				return txn.Migrator().DropTable(&schema.BundleFile{}, &schema.Bundle{}, &schema.Dataset{})
			},
		},
	}
}

func Migrate(db *gorm.DB) error {
	migration := gormigrate.New(db, gormigrate.DefaultOptions, migrations())

	migration.InitSchema(func(txn *gorm.DB) error {
		slog.Info("clean database detected, running full schema initialization", "code", logging.REGISTRY)
		return txn.AutoMigrate(&schema.Dataset{}, &schema.Bundle{}, &schema.BundleFile{})
	})

	if err := migration.Migrate(); err != nil {
		slog.Error("registry migration failed", "code", logging.REGISTRY, "error", err)
		return fmt.Errorf("migration failed: %w", err)
	}

	return nil
}
