// Package database öffnet die gorm-Verbindung für Server und Hilfsprogramme.
package database

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"leaflens/config"
	"leaflens/models"
)

// Open verbindet sich mit PostgreSQL oder, für Entwicklung und Tests, mit SQLite.
func Open(cfg *config.Database) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.DBDriver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN())
	case "sqlite":
		dialector = sqlite.Open(cfg.DBSQLitePath + "?_journal_mode=WAL&_busy_timeout=5000")
	default:
		return nil, fmt.Errorf("unknown DB_DRIVER %q", cfg.DBDriver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if cfg.DBDriver == "sqlite" {
		// SQLite erlaubt nur einen Schreiber
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

// Migrate legt die Tabellen an bzw. ergänzt fehlende Spalten.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&models.Disease{}, &models.Prediction{}, &models.Suggestion{})
}
