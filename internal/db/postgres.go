/**
 * @description
 * PostgreSQL connection manager using GORM.
 * Handles connection pooling, initialization and schema migration.
 *
 * @dependencies
 * - gorm.io/gorm: ORM library
 * - gorm.io/driver/postgres: Postgres driver
 */

package db

import (
	"context"
	"time"

	"github.com/macronet-project/backend/internal/config"
	"github.com/macronet-project/backend/internal/logger"
	"github.com/macronet-project/backend/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// Advisory lock keys partition singleton work across worker processes.
const (
	LockKeyCrawlTick    int64 = 58101
	LockKeyAnalysisPass int64 = 58102
)

// ConnectPostgres initializes the PostgreSQL connection
func ConnectPostgres(cfg *config.Config) (*gorm.DB, error) {
	// Configure GORM logger based on environment
	gormLogLevel := gormLogger.Error
	if cfg.Server.Env == "development" {
		gormLogLevel = gormLogger.Info
	} else if cfg.Server.Env == "staging" {
		gormLogLevel = gormLogger.Warn
	}

	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  cfg.DB.URL,
		PreferSimpleProtocol: true, // disable prepared statements to avoid stmtcache collisions in serverless envs
	}), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogLevel),
	})
	if err != nil {
		return nil, err
	}

	// Get generic database object to set connection pool params
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	// Set conservative connection pool settings for managed Postgres
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	logger.Info("✅ Connected to PostgreSQL")
	return db, nil
}

// WithAdvisoryLock runs fn while holding a session advisory lock, pinning a
// single connection so the unlock pairs with the lock that took it. When the
// lock is held by another process it returns (false, nil) without running fn.
// Dialects without advisory locks (the sqlite test store) run fn directly.
func WithAdvisoryLock(ctx context.Context, gdb *gorm.DB, key int64, fn func() error) (bool, error) {
	if gdb.Dialector.Name() != "postgres" {
		return true, fn()
	}

	var ran bool
	var fnErr error
	err := gdb.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		var locked bool
		if err := conn.Raw("SELECT pg_try_advisory_lock(?)", key).Scan(&locked).Error; err != nil {
			return err
		}
		if !locked {
			return nil
		}
		defer func() {
			if err := conn.Exec("SELECT pg_advisory_unlock(?)", key).Error; err != nil {
				logger.Error("failed to release advisory lock %d: %v", key, err)
			}
		}()
		ran = true
		fnErr = fn()
		return nil
	})
	if err != nil {
		return false, err
	}
	return ran, fnErr
}

// Migrate runs GORM auto-migration for every persisted entity.
// Worker and API both call this; AutoMigrate is additive and idempotent.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.DataSource{},
		&models.EconomicSeries{},
		&models.Observation{},
		&models.Country{},
		&models.CountryCorrelation{},
		&models.TradeRelationship{},
		&models.GlobalEconomicEvent{},
		&models.EventCountryImpact{},
		&models.LeadingIndicator{},
		&models.CrawlAttempt{},
	)
}
