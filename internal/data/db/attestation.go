package db

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lila-repro/lila/internal/data/model"
	"github.com/lila-repro/lila/internal/external"
	"github.com/lila-repro/lila/internal/log"
	"github.com/lila-repro/lila/pkg/repro"
	"github.com/lila-repro/lila/pkg/suggest"
)

// AttestationManager defines the interface of the attestation ledger and derivation registry.
type AttestationManager interface {
	// RecordAttestations stores attestations for the outputs of drvHash, creating the
	// derivation on first use.
	RecordAttestations(ctx context.Context, drvHash string, userID uint, dtos []external.AttestationDTO) ([]model.Attestation, error)
	// AttestationsByOutput returns every attestation of an output path.
	AttestationsByOutput(ctx context.Context, outputPath string) ([]model.Attestation, error)
	// ListDerivations returns every known derivation.
	ListDerivations(ctx context.Context) ([]model.Derivation, error)
	// DerivationAttestations returns the attestations of one derivation.
	DerivationAttestations(ctx context.Context, drvHash string) ([]model.Attestation, error)
	// DerivationSummary counts attestations per output path and hash for one derivation.
	DerivationSummary(ctx context.Context, drvHash string) (map[string]map[string]int, error)
	// PathSummaries classifies every requested path.
	PathSummaries(ctx context.Context, paths []string) (map[string]repro.State, error)
	// PathTallies counts attestations per path and submitter.
	PathTallies(ctx context.Context, paths []string) (map[string]suggest.Tally, error)
	// NarInfo builds the NAR info of the first attestation by userID for digest.
	NarInfo(ctx context.Context, userID uint, digest string) (*repro.NarInfo, error)
}

// GormAttestationManager implements the AttestationManager interface using a GORM DB connection.
type GormAttestationManager struct {
	db *gorm.DB
}

// NewGormAttestationManager creates a new GormAttestationManager.
func NewGormAttestationManager(db *gorm.DB) (*GormAttestationManager, error) {
	if db == nil {
		return nil, errNilDB
	}
	return &GormAttestationManager{db: db}, nil
}

func (manager *GormAttestationManager) check(ctx context.Context) error {
	if ctx == nil {
		return errNilCtx
	}
	if manager.db == nil {
		return errNilDB
	}
	return nil
}

// getOrCreateDerivation returns the derivation for drvHash, inserting it when missing.
// Concurrent callers race on the unique index and all end up with the same row.
func getOrCreateDerivation(tx *gorm.DB, drvHash string) (*model.Derivation, error) {
	drv := model.Derivation{DrvHash: drvHash}
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "drv_hash"}},
		DoNothing: true,
	}).Create(&drv).Error; err != nil {
		return nil, fmt.Errorf("error creating derivation: %w", err)
	}
	var stored model.Derivation
	if err := tx.Where("drv_hash = ?", drvHash).First(&stored).Error; err != nil {
		return nil, fmt.Errorf("error finding derivation: %w", err)
	}
	return &stored, nil
}

// RecordAttestations stores attestations for the outputs of drvHash in one transaction.
func (manager *GormAttestationManager) RecordAttestations(ctx context.Context, drvHash string,
	userID uint, dtos []external.AttestationDTO) ([]model.Attestation, error) {
	if err := manager.check(ctx); err != nil {
		return nil, err
	}
	if drvHash == "" {
		return nil, fmt.Errorf("%w: derivation hash cannot be empty", repro.ErrMalformedInput)
	}
	if userID == 0 {
		return nil, repro.ErrUnauthorized
	}
	logger := log.NewLogger(ctx)
	logger.Debug("RecordAttestations", zap.String("drvHash", drvHash), zap.Uint("userID", userID), zap.Int("count", len(dtos)))

	attestations := make([]model.Attestation, 0, len(dtos))
	err := manager.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		drv, err := getOrCreateDerivation(tx, drvHash)
		if err != nil {
			return err
		}
		for _, dto := range dtos {
			attestations = append(attestations, model.Attestation{
				OutputDigest: dto.OutputDigest,
				OutputName:   dto.OutputName,
				OutputHash:   dto.OutputHash,
				OutputSig:    dto.OutputSig,
				UserID:       userID,
				DerivationID: drv.ID,
			})
		}
		if len(attestations) == 0 {
			return nil
		}
		if err := tx.Create(&attestations).Error; err != nil {
			return fmt.Errorf("error creating attestations: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("transaction failed: %w", err)
	}
	return attestations, nil
}

// AttestationsByOutput returns every attestation of outputPath, oldest first.
func (manager *GormAttestationManager) AttestationsByOutput(ctx context.Context, outputPath string) ([]model.Attestation, error) {
	if err := manager.check(ctx); err != nil {
		return nil, err
	}
	var attestations []model.Attestation
	if err := manager.db.WithContext(ctx).Where("output_path = ?", outputPath).Order("id").Find(&attestations).Error; err != nil {
		return nil, fmt.Errorf("error finding attestations: %w", err)
	}
	return attestations, nil
}

// ListDerivations returns every derivation ordered by hash.
func (manager *GormAttestationManager) ListDerivations(ctx context.Context) ([]model.Derivation, error) {
	if err := manager.check(ctx); err != nil {
		return nil, err
	}
	var derivations []model.Derivation
	if err := manager.db.WithContext(ctx).Order("drv_hash").Find(&derivations).Error; err != nil {
		return nil, fmt.Errorf("error listing derivations: %w", err)
	}
	return derivations, nil
}

// DerivationAttestations returns the attestations of drvHash. Unknown hashes yield repro.ErrNotFound.
func (manager *GormAttestationManager) DerivationAttestations(ctx context.Context, drvHash string) ([]model.Attestation, error) {
	if err := manager.check(ctx); err != nil {
		return nil, err
	}
	var drv model.Derivation
	err := manager.db.WithContext(ctx).
		Preload("Attestations", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Where("drv_hash = ?", drvHash).
		First(&drv).Error
	if err != nil {
		return nil, notFound(err, "derivation")
	}
	return drv.Attestations, nil
}

// DerivationSummary counts the attestations of drvHash by output path and hash.
func (manager *GormAttestationManager) DerivationSummary(ctx context.Context, drvHash string) (map[string]map[string]int, error) {
	attestations, err := manager.DerivationAttestations(ctx, drvHash)
	if err != nil {
		return nil, err
	}
	summary := make(map[string]map[string]int)
	for i := range attestations {
		a := &attestations[i]
		if summary[a.OutputPath] == nil {
			summary[a.OutputPath] = make(map[string]int)
		}
		summary[a.OutputPath][a.OutputHash]++
	}
	return summary, nil
}

type pathCount struct {
	OutputPath     string
	Total          int
	DistinctHashes int
}

// PathSummaries classifies every path in paths with one grouped query per chunk.
// Paths without attestations are NoBuilds, so the result has one entry per distinct input path.
func (manager *GormAttestationManager) PathSummaries(ctx context.Context, paths []string) (map[string]repro.State, error) {
	if err := manager.check(ctx); err != nil {
		return nil, err
	}
	unique := uniqueStrings(paths)
	states := make(map[string]repro.State, len(unique))
	for _, p := range unique {
		states[p] = repro.NoBuilds
	}
	for _, chunk := range chunks(unique, maxInClause) {
		var rows []pathCount
		err := manager.db.WithContext(ctx).Model(&model.Attestation{}).
			Select("output_path, COUNT(*) AS total, COUNT(DISTINCT output_hash) AS distinct_hashes").
			Where("output_path IN ?", chunk).
			Group("output_path").
			Scan(&rows).Error
		if err != nil {
			return nil, fmt.Errorf("error summarizing paths: %w", err)
		}
		for _, r := range rows {
			states[r.OutputPath] = repro.ClassifyCounts(r.Total, r.DistinctHashes)
		}
	}
	return states, nil
}

type submitterCount struct {
	OutputPath string
	UserID     uint
	Total      int
}

// PathTallies counts attestations per path and submitter with one grouped query per chunk.
// Paths without attestations are absent from the result.
func (manager *GormAttestationManager) PathTallies(ctx context.Context, paths []string) (map[string]suggest.Tally, error) {
	if err := manager.check(ctx); err != nil {
		return nil, err
	}
	tallies := make(map[string]suggest.Tally)
	for _, chunk := range chunks(uniqueStrings(paths), maxInClause) {
		var rows []submitterCount
		err := manager.db.WithContext(ctx).Model(&model.Attestation{}).
			Select("output_path, user_id, COUNT(*) AS total").
			Where("output_path IN ?", chunk).
			Group("output_path, user_id").
			Scan(&rows).Error
		if err != nil {
			return nil, fmt.Errorf("error counting attestations: %w", err)
		}
		for _, r := range rows {
			t := tallies[r.OutputPath]
			t.Add(suggest.SubmitterID(r.UserID), r.Total)
			tallies[r.OutputPath] = t
		}
	}
	return tallies, nil
}

// NarInfo builds the NAR info of the first attestation by userID whose output digest is digest.
// A missing derivation record leaves Deriver empty.
func (manager *GormAttestationManager) NarInfo(ctx context.Context, userID uint, digest string) (*repro.NarInfo, error) {
	if err := manager.check(ctx); err != nil {
		return nil, err
	}
	var att model.Attestation
	err := manager.db.WithContext(ctx).
		Where("user_id = ? AND output_digest = ?", userID, digest).
		Order("id").
		First(&att).Error
	if err != nil {
		return nil, notFound(err, "attestation")
	}
	info := &repro.NarInfo{
		StorePath: att.OutputPath,
		NarHash:   att.OutputHash,
		Sig:       att.OutputSig,
	}
	var drv model.Derivation
	err = manager.db.WithContext(ctx).Where("id = ?", att.DerivationID).Limit(1).Find(&drv).Error
	if err != nil {
		return nil, fmt.Errorf("error finding derivation: %w", err)
	}
	if drv.ID != 0 {
		info.Deriver = drv.DrvHash
	}
	return info, nil
}
