// Package db opens the platform's stores: the gorm/PostgreSQL domain store,
// the pgx-backed KPI time-series store, and the bbolt draft-session store.
package db

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ccmanuelf/kpi-operations-sub013/config"
	"github.com/ccmanuelf/kpi-operations-sub013/domain"
)

// Open connects to PostgreSQL and returns a configured gorm handle.
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.URL), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access connection pool: %w", err)
	}
	maxConns := cfg.MaxConnections
	if maxConns <= 0 {
		maxConns = 20
	}
	sqlDB.SetMaxOpenConns(maxConns)
	sqlDB.SetMaxIdleConns(maxConns / 2)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return db, nil
}

// Migrate creates or updates every business table. client_id rides on each
// of them and leads the composite indexes used by scoped queries.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.Client{},
		&domain.User{},
		&domain.UserClient{},
		&domain.Product{},
		&domain.Shift{},
		&domain.Employee{},
		&domain.EmployeeAssignment{},
		&domain.WorkOrder{},
		&domain.ProductionEntry{},
		&domain.DowntimeEntry{},
		&domain.HoldEntry{},
		&domain.AttendanceEntry{},
		&domain.QualityEntry{},
		&domain.PartOpportunities{},
		&domain.DefectType{},
		&domain.KPIThreshold{},
		&domain.WorkflowConfig{},
		&domain.ReportSchedule{},
		&domain.WorkbookSheet{},
		&domain.EventRecord{},
	)
}
