package model

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/lila-repro/lila/pkg/repro"
)

// Attestation is one submitter's claim about the content hash of a build output.
// Attestations are never updated or deleted.
type Attestation struct {
	CreatedAt    time.Time `json:"created_at" gorm:"autoCreateTime"`
	OutputDigest string    `json:"output_digest" gorm:"not null"`
	OutputName   string    `json:"output_name" gorm:"not null"`
	// OutputPath is derived from OutputDigest and OutputName on save.
	OutputPath   string `json:"output_path" gorm:"not null;index"`
	OutputHash   string `json:"output_hash" gorm:"not null"`
	OutputSig    string `json:"output_sig"`
	ID           uint   `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID       uint   `json:"user_id" gorm:"not null;index"`
	DerivationID uint   `json:"derivation_id" gorm:"not null;index"`
}

// BeforeSave derives OutputPath.
func (a *Attestation) BeforeSave(_ *gorm.DB) error {
	if a.OutputDigest == "" || a.OutputName == "" {
		return fmt.Errorf("%w: attestation needs an output digest and name", repro.ErrMalformedInput)
	}
	a.OutputPath = repro.OutputPath(a.OutputDigest, a.OutputName)
	return nil
}
