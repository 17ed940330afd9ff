package db

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/lila-repro/lila/internal/data/model"
	"github.com/lila-repro/lila/internal/log"
)

// ReportManager defines the interface for managing report definitions in the database.
type ReportManager interface {
	// DefineReport creates the report or replaces its definition.
	DefineReport(ctx context.Context, name string, definition []byte) (*model.Report, error)
	// GetReport retrieves a report by name.
	GetReport(ctx context.Context, name string) (*model.Report, error)
	// ListReportNames returns the names of every report.
	ListReportNames(ctx context.Context) ([]string, error)
}

// GormReportManager implements the ReportManager interface using a GORM DB connection.
type GormReportManager struct {
	db *gorm.DB
}

// NewGormReportManager creates a new GormReportManager.
func NewGormReportManager(db *gorm.DB) (*GormReportManager, error) {
	if db == nil {
		return nil, errNilDB
	}
	return &GormReportManager{db: db}, nil
}

// DefineReport stores definition under name. Redefining a report bumps its version.
func (manager *GormReportManager) DefineReport(ctx context.Context, name string, definition []byte) (*model.Report, error) {
	if ctx == nil {
		return nil, errNilCtx
	}
	if manager.db == nil {
		return nil, errNilDB
	}
	if name == "" {
		return nil, fmt.Errorf("name is required")
	}
	logger := log.NewLogger(ctx)
	logger.Debug("DefineReport", zap.String("name", name), zap.Int("size", len(definition)))

	var report model.Report
	err := manager.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("name = ?", name).Limit(1).Find(&report)
		if result.Error != nil {
			return fmt.Errorf("error finding report: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			report = model.Report{Name: name, Definition: datatypes.JSON(definition), Version: 1}
			if err := tx.Create(&report).Error; err != nil {
				return fmt.Errorf("error creating report: %w", err)
			}
			return nil
		}
		report.Definition = datatypes.JSON(definition)
		report.Version++
		if err := tx.Save(&report).Error; err != nil {
			return fmt.Errorf("error updating report: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("transaction failed: %w", err)
	}
	return &report, nil
}

// GetReport retrieves a report by name. Unknown names yield repro.ErrNotFound.
func (manager *GormReportManager) GetReport(ctx context.Context, name string) (*model.Report, error) {
	if ctx == nil {
		return nil, errNilCtx
	}
	if manager.db == nil {
		return nil, errNilDB
	}
	var report model.Report
	if err := manager.db.WithContext(ctx).Where("name = ?", name).First(&report).Error; err != nil {
		return nil, notFound(err, "report")
	}
	return &report, nil
}

// ListReportNames returns every report name in alphabetical order.
func (manager *GormReportManager) ListReportNames(ctx context.Context) ([]string, error) {
	if ctx == nil {
		return nil, errNilCtx
	}
	if manager.db == nil {
		return nil, errNilDB
	}
	names := []string{}
	if err := manager.db.WithContext(ctx).Model(&model.Report{}).Order("name").Pluck("name", &names).Error; err != nil {
		return nil, fmt.Errorf("error listing reports: %w", err)
	}
	return names, nil
}
