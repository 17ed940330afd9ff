package external

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/lila-repro/lila/pkg/repro"
)

var validate = validator.New()

// AttestationRequest is one output of a POST /attestation/:drv_hash body. Either
// OutputPath or both OutputDigest and OutputName identify the output.
type AttestationRequest struct {
	OutputDigest string `json:"output_digest,omitempty" validate:"required_without=OutputPath"`
	OutputName   string `json:"output_name,omitempty" validate:"required_without=OutputPath"`
	OutputPath   string `json:"output_path,omitempty" validate:"required_without_all=OutputDigest OutputName"`
	OutputHash   string `json:"output_hash" validate:"required"`
	OutputSig    string `json:"output_sig"`
}

// AttestationDTO is a validated attestation ready to be recorded.
type AttestationDTO struct {
	OutputDigest string
	OutputName   string
	OutputHash   string
	OutputSig    string
}

// MapAttestationRequestsToDTO validates every request and resolves output paths
// into digest and name. Output paths must live directly under the default store.
func MapAttestationRequestsToDTO(requests []AttestationRequest) ([]AttestationDTO, error) {
	dtos := make([]AttestationDTO, 0, len(requests))
	for i := range requests {
		req := &requests[i]
		if err := validate.Struct(req); err != nil {
			return nil, err
		}
		dto := AttestationDTO{
			OutputDigest: req.OutputDigest,
			OutputName:   req.OutputName,
			OutputHash:   req.OutputHash,
			OutputSig:    req.OutputSig,
		}
		if dto.OutputDigest == "" || dto.OutputName == "" {
			p, err := repro.ParseStorePath(req.OutputPath)
			if err != nil {
				return nil, fmt.Errorf("attestation %d: %w", i, err)
			}
			if p.Prefix != repro.DefaultStorePrefix {
				return nil, fmt.Errorf("attestation %d: %w: output path %q is not under %s",
					i, repro.ErrMalformedInput, req.OutputPath, repro.DefaultStorePrefix)
			}
			dto.OutputDigest, dto.OutputName = p.Digest, p.Name
		}
		dtos = append(dtos, dto)
	}
	return dtos, nil
}

// ValidationErrors maps each failing field to the tag it failed. It returns nil
// when err does not come from the validator.
func ValidationErrors(err error) map[string]string {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return nil
	}
	out := make(map[string]string, len(validationErrors))
	for _, ve := range validationErrors {
		out[ve.Field()] = ve.Tag()
	}
	return out
}
