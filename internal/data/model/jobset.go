package model

import (
	"time"

	"gorm.io/datatypes"
)

// EvaluationStatus is the lifecycle state of an evaluation.
type EvaluationStatus string

const (
	EvaluationPending   EvaluationStatus = "pending"
	EvaluationRunning   EvaluationStatus = "running"
	EvaluationCompleted EvaluationStatus = "completed"
	EvaluationFailed    EvaluationStatus = "failed"
)

// Jobset is a flake whose derivations are evaluated on request.
type Jobset struct {
	CreatedAt   time.Time    `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time    `json:"updated_at" gorm:"autoUpdateTime"`
	Name        string       `json:"name" gorm:"not null;uniqueIndex"`
	Flakeref    string       `json:"flakeref" gorm:"not null"`
	Description string       `json:"description"`
	Evaluations []Evaluation `json:"evaluations,omitempty" gorm:"foreignKey:JobsetID;constraint:OnDelete:CASCADE"`
	ID          uint         `json:"id" gorm:"primaryKey;autoIncrement"`
	Enabled     bool         `json:"enabled" gorm:"not null;default:true"`
}

// Evaluation is one run of the evaluator over a jobset.
type Evaluation struct {
	CreatedAt       time.Time              `json:"created_at" gorm:"autoCreateTime"`
	StartedAt       *time.Time             `json:"started_at"`
	CompletedAt     *time.Time             `json:"completed_at"`
	Status          EvaluationStatus       `json:"status" gorm:"not null;default:pending;index"`
	ErrorMessage    string                 `json:"error_message,omitempty"`
	Derivations     []EvaluationDerivation `json:"derivations,omitempty" gorm:"foreignKey:EvaluationID;constraint:OnDelete:CASCADE"`
	ID              uint                   `json:"id" gorm:"primaryKey;autoIncrement"`
	JobsetID        uint                   `json:"jobset_id" gorm:"not null;index"`
	DerivationCount int                    `json:"derivation_count"`
}

// EvaluationDerivation links a derivation found by an evaluation to its attribute path.
type EvaluationDerivation struct {
	AttributePath string                                `json:"attribute_path"`
	OutputPaths   datatypes.JSONType[map[string]string] `json:"output_paths"`
	Derivation    Derivation                            `json:"derivation" gorm:"foreignKey:DerivationID"`
	ID            uint                                  `json:"id" gorm:"primaryKey;autoIncrement"`
	EvaluationID  uint                                  `json:"evaluation_id" gorm:"not null;index"`
	DerivationID  uint                                  `json:"derivation_id" gorm:"not null;index"`
}
