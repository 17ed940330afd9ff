package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/lila-repro/lila/internal/data/model"
	"github.com/lila-repro/lila/internal/external"
	"github.com/lila-repro/lila/internal/log"
)

var (
	// ErrAlreadyExists is returned when a jobset name is taken.
	ErrAlreadyExists = errors.New("already exists")
	// ErrJobsetDisabled is returned when evaluating a disabled jobset.
	ErrJobsetDisabled = errors.New("jobset is disabled")
)

// JobsetManager defines the interface for managing jobsets and their evaluations.
type JobsetManager interface {
	CreateJobset(ctx context.Context, req *external.JobsetRequest) (*model.Jobset, error)
	ListJobsets(ctx context.Context) ([]model.Jobset, error)
	GetJobset(ctx context.Context, id uint) (*model.Jobset, error)
	UpdateJobset(ctx context.Context, id uint, req *external.JobsetRequest) (*model.Jobset, error)
	DeleteJobset(ctx context.Context, id uint) error
	SetJobsetEnabled(ctx context.Context, id uint, enabled bool) (*model.Jobset, error)

	CreateEvaluation(ctx context.Context, jobsetID uint) (*model.Evaluation, error)
	StartEvaluation(ctx context.Context, id uint) error
	CompleteEvaluation(ctx context.Context, id uint, derivations []external.EvaluatedDerivationDTO) (*model.Evaluation, error)
	FailEvaluation(ctx context.Context, id uint, message string) (*model.Evaluation, error)
	GetEvaluation(ctx context.Context, id uint) (*model.Evaluation, error)
	ListEvaluations(ctx context.Context, jobsetID uint) ([]model.Evaluation, error)
}

// GormJobsetManager implements the JobsetManager interface using a GORM DB connection.
type GormJobsetManager struct {
	db *gorm.DB
}

// NewGormJobsetManager creates a new GormJobsetManager.
func NewGormJobsetManager(db *gorm.DB) (*GormJobsetManager, error) {
	if db == nil {
		return nil, errNilDB
	}
	return &GormJobsetManager{db: db}, nil
}

func (manager *GormJobsetManager) check(ctx context.Context) error {
	if ctx == nil {
		return errNilCtx
	}
	if manager.db == nil {
		return errNilDB
	}
	return nil
}

// CreateJobset stores a new jobset. Taken names yield ErrAlreadyExists.
func (manager *GormJobsetManager) CreateJobset(ctx context.Context, req *external.JobsetRequest) (*model.Jobset, error) {
	if err := manager.check(ctx); err != nil {
		return nil, err
	}
	if req == nil {
		return nil, fmt.Errorf("req cannot be nil")
	}
	var count int64
	if err := manager.db.WithContext(ctx).Model(&model.Jobset{}).Where("name = ?", req.Name).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("error counting jobsets: %w", err)
	}
	if count > 0 {
		return nil, fmt.Errorf("jobset %q: %w", req.Name, ErrAlreadyExists)
	}
	jobset := model.Jobset{Name: req.Name, Flakeref: req.Flakeref, Description: req.Description}
	if err := manager.db.WithContext(ctx).Create(&jobset).Error; err != nil {
		return nil, fmt.Errorf("error creating jobset: %w", err)
	}
	if req.Enabled != nil && !*req.Enabled {
		return manager.SetJobsetEnabled(ctx, jobset.ID, false)
	}
	return &jobset, nil
}

// ListJobsets returns every jobset ordered by name.
func (manager *GormJobsetManager) ListJobsets(ctx context.Context) ([]model.Jobset, error) {
	if err := manager.check(ctx); err != nil {
		return nil, err
	}
	var jobsets []model.Jobset
	if err := manager.db.WithContext(ctx).Order("name").Find(&jobsets).Error; err != nil {
		return nil, fmt.Errorf("error listing jobsets: %w", err)
	}
	return jobsets, nil
}

// GetJobset retrieves a jobset by id.
func (manager *GormJobsetManager) GetJobset(ctx context.Context, id uint) (*model.Jobset, error) {
	if err := manager.check(ctx); err != nil {
		return nil, err
	}
	var jobset model.Jobset
	if err := manager.db.WithContext(ctx).First(&jobset, id).Error; err != nil {
		return nil, notFound(err, "jobset")
	}
	return &jobset, nil
}

// UpdateJobset replaces the editable fields of a jobset.
func (manager *GormJobsetManager) UpdateJobset(ctx context.Context, id uint, req *external.JobsetRequest) (*model.Jobset, error) {
	if req == nil {
		return nil, fmt.Errorf("req cannot be nil")
	}
	jobset, err := manager.GetJobset(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Name != jobset.Name {
		var count int64
		if err := manager.db.WithContext(ctx).Model(&model.Jobset{}).Where("name = ?", req.Name).Count(&count).Error; err != nil {
			return nil, fmt.Errorf("error counting jobsets: %w", err)
		}
		if count > 0 {
			return nil, fmt.Errorf("jobset %q: %w", req.Name, ErrAlreadyExists)
		}
	}
	jobset.Name = req.Name
	jobset.Flakeref = req.Flakeref
	jobset.Description = req.Description
	if req.Enabled != nil {
		jobset.Enabled = *req.Enabled
	}
	if err := manager.db.WithContext(ctx).Save(jobset).Error; err != nil {
		return nil, fmt.Errorf("error updating jobset: %w", err)
	}
	return jobset, nil
}

// DeleteJobset removes a jobset with its evaluations. Derivations stay.
func (manager *GormJobsetManager) DeleteJobset(ctx context.Context, id uint) error {
	jobset, err := manager.GetJobset(ctx, id)
	if err != nil {
		return err
	}
	err = manager.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		evaluations := tx.Model(&model.Evaluation{}).Select("id").Where("jobset_id = ?", jobset.ID)
		if err := tx.Where("evaluation_id IN (?)", evaluations).Delete(&model.EvaluationDerivation{}).Error; err != nil {
			return fmt.Errorf("failed to delete evaluation derivations: %w", err)
		}
		if err := tx.Where("jobset_id = ?", jobset.ID).Delete(&model.Evaluation{}).Error; err != nil {
			return fmt.Errorf("failed to delete evaluations: %w", err)
		}
		if err := tx.Delete(jobset).Error; err != nil {
			return fmt.Errorf("failed to delete jobset: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("transaction failed: %w", err)
	}
	return nil
}

// SetJobsetEnabled enables or disables a jobset.
func (manager *GormJobsetManager) SetJobsetEnabled(ctx context.Context, id uint, enabled bool) (*model.Jobset, error) {
	jobset, err := manager.GetJobset(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := manager.db.WithContext(ctx).Model(jobset).Update("enabled", enabled).Error; err != nil {
		return nil, fmt.Errorf("error updating jobset: %w", err)
	}
	jobset.Enabled = enabled
	return jobset, nil
}

// CreateEvaluation records a pending evaluation of an enabled jobset.
func (manager *GormJobsetManager) CreateEvaluation(ctx context.Context, jobsetID uint) (*model.Evaluation, error) {
	jobset, err := manager.GetJobset(ctx, jobsetID)
	if err != nil {
		return nil, err
	}
	if !jobset.Enabled {
		return nil, fmt.Errorf("jobset %q: %w", jobset.Name, ErrJobsetDisabled)
	}
	evaluation := model.Evaluation{JobsetID: jobset.ID, Status: model.EvaluationPending}
	if err := manager.db.WithContext(ctx).Create(&evaluation).Error; err != nil {
		return nil, fmt.Errorf("error creating evaluation: %w", err)
	}
	return &evaluation, nil
}

// StartEvaluation marks an evaluation running.
func (manager *GormJobsetManager) StartEvaluation(ctx context.Context, id uint) error {
	if err := manager.check(ctx); err != nil {
		return err
	}
	now := time.Now()
	result := manager.db.WithContext(ctx).Model(&model.Evaluation{}).Where("id = ?", id).
		Updates(map[string]interface{}{"status": model.EvaluationRunning, "started_at": &now})
	if result.Error != nil {
		return fmt.Errorf("error starting evaluation: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return notFound(gorm.ErrRecordNotFound, "evaluation")
	}
	return nil
}

// CompleteEvaluation registers the derivations an evaluation found and marks it completed.
func (manager *GormJobsetManager) CompleteEvaluation(ctx context.Context, id uint,
	derivations []external.EvaluatedDerivationDTO) (*model.Evaluation, error) {
	if err := manager.check(ctx); err != nil {
		return nil, err
	}
	logger := log.NewLogger(ctx)
	logger.Debug("CompleteEvaluation", zap.Uint("evaluationID", id), zap.Int("derivations", len(derivations)))

	err := manager.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		links := make([]model.EvaluationDerivation, 0, len(derivations))
		for _, d := range derivations {
			drv, err := getOrCreateDerivation(tx, d.DrvHash)
			if err != nil {
				return err
			}
			links = append(links, model.EvaluationDerivation{
				EvaluationID:  id,
				DerivationID:  drv.ID,
				AttributePath: d.AttributePath,
				OutputPaths:   datatypes.NewJSONType(d.Outputs),
			})
		}
		if len(links) > 0 {
			if err := tx.Omit("Derivation").Create(&links).Error; err != nil {
				return fmt.Errorf("error linking derivations: %w", err)
			}
		}
		now := time.Now()
		result := tx.Model(&model.Evaluation{}).Where("id = ?", id).Updates(map[string]interface{}{
			"status":           model.EvaluationCompleted,
			"completed_at":     &now,
			"derivation_count": len(links),
		})
		if result.Error != nil {
			return fmt.Errorf("error completing evaluation: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return notFound(gorm.ErrRecordNotFound, "evaluation")
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("transaction failed: %w", err)
	}
	return manager.GetEvaluation(ctx, id)
}

// FailEvaluation marks an evaluation failed with message.
func (manager *GormJobsetManager) FailEvaluation(ctx context.Context, id uint, message string) (*model.Evaluation, error) {
	if err := manager.check(ctx); err != nil {
		return nil, err
	}
	now := time.Now()
	result := manager.db.WithContext(ctx).Model(&model.Evaluation{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":        model.EvaluationFailed,
		"error_message": message,
		"completed_at":  &now,
	})
	if result.Error != nil {
		return nil, fmt.Errorf("error failing evaluation: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, notFound(gorm.ErrRecordNotFound, "evaluation")
	}
	return manager.GetEvaluation(ctx, id)
}

// GetEvaluation retrieves an evaluation with its derivations.
func (manager *GormJobsetManager) GetEvaluation(ctx context.Context, id uint) (*model.Evaluation, error) {
	if err := manager.check(ctx); err != nil {
		return nil, err
	}
	var evaluation model.Evaluation
	err := manager.db.WithContext(ctx).
		Preload("Derivations", func(db *gorm.DB) *gorm.DB { return db.Order("attribute_path") }).
		Preload("Derivations.Derivation").
		First(&evaluation, id).Error
	if err != nil {
		return nil, notFound(err, "evaluation")
	}
	return &evaluation, nil
}

// ListEvaluations returns the evaluations of a jobset, newest first. A zero jobsetID lists all.
func (manager *GormJobsetManager) ListEvaluations(ctx context.Context, jobsetID uint) ([]model.Evaluation, error) {
	if err := manager.check(ctx); err != nil {
		return nil, err
	}
	query := manager.db.WithContext(ctx).Order("id DESC")
	if jobsetID != 0 {
		if _, err := manager.GetJobset(ctx, jobsetID); err != nil {
			return nil, err
		}
		query = query.Where("jobset_id = ?", jobsetID)
	}
	var evaluations []model.Evaluation
	if err := query.Find(&evaluations).Error; err != nil {
		return nil, fmt.Errorf("error listing evaluations: %w", err)
	}
	return evaluations, nil
}
