package datastore

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/whipbird/chorus-go/internal/logging"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// slowQueryThreshold defines the duration after which a query is considered slow.
const slowQueryThreshold = 1 * time.Second

var dbLogger *slog.Logger

func getDbLogger() *slog.Logger {
	if dbLogger == nil {
		dbLogger = logging.ForService("datastore")
	}
	return dbLogger
}

// createGormLogger configures and returns a GORM logger instance.
func createGormLogger(debug bool) gormlogger.Interface {
	level := gormlogger.Warn
	if debug {
		level = gormlogger.Info
	}
	return gormlogger.Default.LogMode(level)
}

// performAutoMigration runs gorm auto-migration for every document record type.
func performAutoMigration(db *gorm.DB, debug bool, dbType, connectionInfo string) error {
	if err := db.AutoMigrate(
		&Project{},
		&Recorder{},
		&RecorderConfig{},
		&AudioRecord{},
		&Detection{},
		&AnalysisDefinition{},
		&Task{},
		&ModelFitRequest{},
	); err != nil {
		return fmt.Errorf("failed to auto-migrate %s database: %w", dbType, err)
	}

	if debug {
		if logger := getDbLogger(); logger != nil {
			logger.Debug("auto-migration completed", "db_type", dbType, "connection", connectionInfo)
		}
	}

	return nil
}
