package model

import (
	"time"

	"gorm.io/datatypes"
)

// Report is a named SBOM document that defines the scope of a reproducibility report.
type Report struct {
	CreatedAt  time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt  time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	Name       string         `json:"name" gorm:"not null;uniqueIndex"`
	Definition datatypes.JSON `json:"definition" gorm:"not null"`
	ID         uint           `json:"id" gorm:"primaryKey;autoIncrement"`
	Version    int            `json:"version" gorm:"not null;default:1"`
}

// LinkPattern attaches an external link to every output whose name matches Pattern.
type LinkPattern struct {
	Pattern string `json:"pattern" gorm:"primaryKey"`
	Link    string `json:"link" gorm:"not null"`
}
