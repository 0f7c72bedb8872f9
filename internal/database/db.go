package database

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"nl2sqlgen-client/internal/models"
)

var DB *gorm.DB

// Init opens the local settings database and runs auto-migration. The
// database is a per-user sqlite file; databaseURL may override the location
// with a sqlite://path form.
func Init(databaseURL string) (*gorm.DB, error) {
	if databaseURL == "" {
		databaseURL = "sqlite://./nl2sqlgen.db"
	}

	if !strings.HasPrefix(databaseURL, "sqlite://") {
		return nil, fmt.Errorf("unsupported database URL format: %s", databaseURL)
	}

	dbPath := strings.TrimPrefix(databaseURL, "sqlite://")

	// Default path lives in the user config directory
	if dbPath == "./nl2sqlgen.db" {
		configDir, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user config directory: %w", err)
		}

		appDir := filepath.Join(configDir, "nl2sqlgen")
		if err := os.MkdirAll(appDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create app directory: %w", err)
		}

		dbPath = filepath.Join(appDir, "nl2sqlgen.db")
		log.Printf("Using settings database at: %s", dbPath)
	}

	// Configure GORM logger
	gormLogger := logger.Default.LogMode(logger.Warn)
	if os.Getenv("LOG_LEVEL") == "debug" {
		gormLogger = logger.Default.LogMode(logger.Info)
	}

	var err error
	DB, err = gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxOpenConns(getEnvInt("DB_MAX_OPEN_CONNS", 5))
	sqlDB.SetMaxIdleConns(getEnvInt("DB_MAX_IDLE_CONNS", 2))
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	if err := AutoMigrate(DB); err != nil {
		return nil, fmt.Errorf("failed to auto-migrate: %w", err)
	}

	return DB, nil
}

// getEnvInt retrieves an integer from environment variable with default fallback
func getEnvInt(key string, defaultValue int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// AutoMigrate runs GORM auto-migration for all models
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Setting{},
	)
}

// Close closes the database connection
func Close() error {
	if DB != nil {
		sqlDB, err := DB.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}

// GetDB returns the database instance (helper for services)
func GetDB() *gorm.DB {
	return DB
}
