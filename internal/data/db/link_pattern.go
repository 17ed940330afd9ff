package db

import (
	"context"
	"fmt"
	"regexp"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lila-repro/lila/internal/data/model"
	"github.com/lila-repro/lila/pkg/repro"
)

// LinkPatternManager defines the interface for managing link patterns in the database.
type LinkPatternManager interface {
	// UpsertLinkPattern stores link for pattern, replacing any previous link.
	UpsertLinkPattern(ctx context.Context, pattern, link string) (*model.LinkPattern, error)
	// ListLinkPatterns returns every link pattern.
	ListLinkPatterns(ctx context.Context) ([]model.LinkPattern, error)
}

// GormLinkPatternManager implements the LinkPatternManager interface using a GORM DB connection.
type GormLinkPatternManager struct {
	db *gorm.DB
}

// NewGormLinkPatternManager creates a new GormLinkPatternManager.
func NewGormLinkPatternManager(db *gorm.DB) (*GormLinkPatternManager, error) {
	if db == nil {
		return nil, errNilDB
	}
	return &GormLinkPatternManager{db: db}, nil
}

// UpsertLinkPattern stores link for pattern. Patterns that do not compile are rejected
// with repro.ErrMalformedInput.
func (manager *GormLinkPatternManager) UpsertLinkPattern(ctx context.Context, pattern, link string) (*model.LinkPattern, error) {
	if ctx == nil {
		return nil, errNilCtx
	}
	if manager.db == nil {
		return nil, errNilDB
	}
	if _, err := regexp.Compile(pattern); err != nil {
		return nil, fmt.Errorf("%w: invalid pattern %q: %v", repro.ErrMalformedInput, pattern, err)
	}
	lp := model.LinkPattern{Pattern: pattern, Link: link}
	err := manager.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "pattern"}},
		DoUpdates: clause.AssignmentColumns([]string{"link"}),
	}).Create(&lp).Error
	if err != nil {
		return nil, fmt.Errorf("error upserting link pattern: %w", err)
	}
	return &lp, nil
}

// ListLinkPatterns returns every link pattern ordered by pattern.
func (manager *GormLinkPatternManager) ListLinkPatterns(ctx context.Context) ([]model.LinkPattern, error) {
	if ctx == nil {
		return nil, errNilCtx
	}
	if manager.db == nil {
		return nil, errNilDB
	}
	var patterns []model.LinkPattern
	if err := manager.db.WithContext(ctx).Order("pattern").Find(&patterns).Error; err != nil {
		return nil, fmt.Errorf("error listing link patterns: %w", err)
	}
	return patterns, nil
}
