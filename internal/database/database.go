package database

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"kinguin-bot/internal/models"
)

func Initialize(databasePath string) (*gorm.DB, error) {
	if !inMemory(databasePath) {
		if dir := filepath.Dir(databasePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, errors.Wrapf(err, "create database directory %s", dir)
			}
		}
	}

	db, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite database")
	}

	// Auto migrate the schema
	err = db.AutoMigrate(
		&models.Purchase{},
		&models.FunPayLink{},
	)
	if err != nil {
		return nil, errors.Wrap(err, "migrate schema")
	}

	logrus.WithField("path", databasePath).Info("Database initialized successfully")
	return db, nil
}

func inMemory(path string) bool {
	return path == ":memory:" || strings.HasPrefix(path, "file:")
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
