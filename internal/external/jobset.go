package external

// JobsetRequest creates or updates a jobset.
type JobsetRequest struct {
	Name        string `json:"name" validate:"required,max=255"`
	Flakeref    string `json:"flakeref" validate:"required"`
	Description string `json:"description"`
	Enabled     *bool  `json:"enabled"`
}

// Validate checks the request fields.
func (r *JobsetRequest) Validate() error {
	return validate.Struct(r)
}

// EvaluatedDerivationDTO is one derivation found by an evaluation.
type EvaluatedDerivationDTO struct {
	// Outputs maps output names to store paths.
	Outputs       map[string]string
	DrvHash       string
	AttributePath string
}
