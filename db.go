package main

import (
	"fmt"
	"os"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"spendwise/models"
)

var db *gorm.DB

func initDB() {
	driver := os.Getenv("DB_DRIVER")
	dsn := os.Getenv("DB_DSN")
	if driver == "" {
		driver = "postgres"
	}
	if dsn == "" && driver == "postgres" {
		logger.Fatal("DB_DSN is not set; provide a Postgres DSN or set DB_DRIVER=sqlite")
	}
	var err error
	db, err = openDB(driver, dsn)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect database")
	}
	if err := migrateDB(db); err != nil {
		logger.WithError(err).Fatal("migration failed")
	}
}

// openDB opens either a Postgres or a sqlite database. sqlite is meant
// for local development and tests; production runs on Postgres.
func openDB(driver, dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}
	switch driver {
	case "postgres":
		return gorm.Open(postgres.Open(dsn), cfg)
	case "sqlite":
		if dsn == "" {
			dsn = "spendwise.db"
		}
		return gorm.Open(sqlite.Open(dsn), cfg)
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", driver)
	}
}

func migrateDB(g *gorm.DB) error {
	// Migrate models individually so a failure on one doesn't block others.
	for _, m := range []any{&models.User{}, &models.Transaction{}, &models.RefreshToken{}} {
		if err := g.AutoMigrate(m); err != nil {
			return err
		}
	}
	return nil
}
