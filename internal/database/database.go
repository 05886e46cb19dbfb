// Package database opens the relational store shared by every repository and keeps its
// schema current.
package database

import (
	"fmt"
	"strings"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/MarcoPoloResearchLab/clipshare/internal/clips"
	"github.com/MarcoPoloResearchLab/clipshare/internal/config"
	"github.com/MarcoPoloResearchLab/clipshare/internal/media"
	"github.com/MarcoPoloResearchLab/clipshare/internal/moderation"
	"github.com/MarcoPoloResearchLab/clipshare/internal/users"
)

const slowQueryThreshold = 500 * time.Millisecond

// Config selects the driver and its connection target.
type Config struct {
	Driver string
	Path   string
	DSN    string
}

// Open establishes a connection for the configured driver and performs schema migrations.
func Open(cfg Config, logger *zap.Logger) (*gorm.DB, error) {
	dialector, target, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.New(zap.NewStdLog(logger.Named("gorm")), gormlogger.Config{
			SlowThreshold:             slowQueryThreshold,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
		TranslateError:                           true,
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}

	if cfg.Driver == config.DatabaseDriverSQLite || cfg.Driver == "" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := Migrate(db, logger); err != nil {
		return nil, err
	}

	logger.Info("database initialized",
		zap.String("driver", driverName(cfg.Driver)),
		zap.String("target", target))

	return db, nil
}

// Migrate creates or updates every table and applies pending named migrations.
func Migrate(db *gorm.DB, logger *zap.Logger) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return err
	}
	return applyMigrations(db, logger)
}

// Models lists every persisted type.
func Models() []interface{} {
	models := make([]interface{}, 0, 8)
	models = append(models, users.Models()...)
	models = append(models, clips.Models()...)
	models = append(models, moderation.Models()...)
	models = append(models, &media.Blob{}, &migrationRecord{})
	return models
}

func dialectorFor(cfg Config) (gorm.Dialector, string, error) {
	switch cfg.Driver {
	case config.DatabaseDriverSQLite, "":
		if strings.TrimSpace(cfg.Path) == "" {
			return nil, "", fmt.Errorf("database path is required")
		}
		return sqlite.Open(cfg.Path), cfg.Path, nil
	case config.DatabaseDriverPostgres:
		if strings.TrimSpace(cfg.DSN) == "" {
			return nil, "", fmt.Errorf("database dsn is required")
		}
		// The DSN carries credentials, only the driver name is logged.
		return postgres.Open(cfg.DSN), "postgres", nil
	default:
		return nil, "", fmt.Errorf("database driver %q is not supported", cfg.Driver)
	}
}

func driverName(driver string) string {
	if driver == "" {
		return config.DatabaseDriverSQLite
	}
	return driver
}
