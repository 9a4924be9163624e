// Package relaydb opens and migrates the relay's state database, which
// holds operator sessions and delivery cursors.
package relaydb

import (
	"fmt"

	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/models"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to the configured relay state database and runs
// auto-migration. The default is a local sqlite file; mysql is for sharing
// cursor state between relay instances.
func Open(cfg config.StateDBConfig) (*gorm.DB, error) {
	var db *gorm.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(cfg.Path), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
	case "mysql":
		db, err = gorm.Open(mysql.Open(DSN(cfg.Host, cfg.Port, cfg.Database)), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
	default:
		return nil, fmt.Errorf("relaydb: unsupported driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("relaydb: connect: %w", err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// DSN builds a MySQL DSN for the relay state database.
func DSN(host string, port int, database string) string {
	return fmt.Sprintf("root@tcp(%s:%d)/%s?parseTime=true", host, port, database)
}

// Migrate creates or updates the relay state tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.OperatorSession{},
		&models.DeliveryCursor{},
	); err != nil {
		return fmt.Errorf("relaydb: migrate: %w", err)
	}
	return nil
}
