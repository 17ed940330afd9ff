package model

import "time"

// Derivation is a build recipe, identified by its hash, that owns the attestations of its outputs.
type Derivation struct {
	CreatedAt    time.Time     `json:"created_at" gorm:"autoCreateTime"`
	DrvHash      string        `json:"drv_hash" gorm:"not null;uniqueIndex"`
	Attestations []Attestation `json:"attestations,omitempty" gorm:"foreignKey:DerivationID"`
	ID           uint          `json:"id" gorm:"primaryKey;autoIncrement"`
}
