package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var db *gorm.DB

// InitDatabase opens the configured SQL database and migrates the given models.
// MySQL serves shared deployments; SQLite keeps everything in one local file.
func InitDatabase(c AppConfig, modelDefs ...interface{}) (*gorm.DB, error) {
	if db != nil {
		return db, nil
	}

	// Derive GORM log level from the app LogLevel and raise the slow-sql threshold to reduce noise
	gLogger := logger.New(
		log.New(os.Stdout, "", log.LstdFlags),
		logger.Config{
			SlowThreshold:             2 * time.Second,
			LogLevel:                  toGormLogLevel(c.LogLevel),
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	gormCfg := &gorm.Config{
		Logger:                                   gLogger,
		DisableForeignKeyConstraintWhenMigrating: true,
	}

	dialector, err := dialectorFor(c)
	if err != nil {
		return nil, err
	}
	opened, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	sqlDB, err := opened.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	if isSQLite(c.DBDriver) {
		// one writer keeps SQLite from returning SQLITE_BUSY under concurrent requests
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetMaxOpenConns(20)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
		sqlDB.SetConnMaxIdleTime(10 * time.Minute)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	for _, model := range modelDefs {
		if err := opened.AutoMigrate(model); err != nil {
			return nil, fmt.Errorf("auto migration failed for %T: %w", model, err)
		}
	}

	db = opened
	return db, nil
}

func dialectorFor(c AppConfig) (gorm.Dialector, error) {
	switch {
	case isSQLite(c.DBDriver):
		if dir := filepath.Dir(c.DBPath); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create db directory: %w", err)
			}
		}
		return sqlite.Open(fmt.Sprintf("%s?_pragma=busy_timeout(5000)", c.DBPath)), nil
	case strings.EqualFold(c.DBDriver, "mysql"):
		dsn := c.DatabaseURI
		if dsn == "" {
			dsn = fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
				c.DBUser,
				c.DBPassword,
				c.DBHost,
				c.DBPort,
				c.DBName,
			)
		}
		return mysql.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", c.DBDriver)
	}
}

func isSQLite(driver string) bool {
	return strings.EqualFold(driver, "sqlite") || strings.EqualFold(driver, "sqlite3")
}

// toGormLogLevel maps application LogLevel to GORM's logger level.
func toGormLogLevel(level string) logger.LogLevel {
	switch level {
	case "debug":
		// GORM 'Info' shows SQL; use with caution
		return logger.Info
	case "info", "", "warn":
		return logger.Warn
	case "error":
		return logger.Error
	case "silent":
		return logger.Silent
	default:
		return logger.Warn
	}
}

// DB provides access to the initialized gorm DB instance, or nil before InitDatabase.
func DB() *gorm.DB {
	return db
}
