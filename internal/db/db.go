package db

import (
	"log/slog"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"aeropark-backend/config"
	"aeropark-backend/internal/errs"
	"aeropark-backend/internal/model"
)

var ErrUnknownDriver = errs.Sentinel("unknown database driver", errs.ErrInvalidInput)

func dialector(cfg *config.DatabaseConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "postgres":
		return postgres.Open(cfg.DSN), nil
	case "mysql":
		return mysql.Open(cfg.DSN), nil
	case "sqlite":
		return sqlite.Open(cfg.DSN), nil
	}
	return nil, errs.Wrapf(ErrUnknownDriver, "%q", cfg.Driver)
}

// Init opens the configured database and runs migrations.
func Init(cfg *config.DatabaseConfig, debug bool, log *slog.Logger) (*gorm.DB, error) {
	d, err := dialector(cfg)
	if err != nil {
		return nil, err
	}

	level := logger.Warn
	if debug {
		level = logger.Info
	}
	db, err := gorm.Open(d, &gorm.Config{
		Logger:         logger.Default.LogMode(level),
		TranslateError: true,
	})
	if err != nil {
		return nil, errs.Wrap(err, "connect to database")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errs.Wrap(err, "get sql.DB")
	}

	// SQLite allows one writer; a single connection serializes transactions.
	if cfg.Driver == "sqlite" {
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)

	log.Info("running database migrations", "driver", cfg.Driver)
	if err := db.AutoMigrate(
		&model.Space{},
		&model.Reservation{},
		&model.SensorRecord{},
		&model.User{},
		&model.PushSubscription{},
	); err != nil {
		return nil, errs.Wrap(err, "automigrate")
	}

	log.Info("database initialization complete")
	return db, nil
}
