package repro

import "errors"

var (
	// ErrNotFound is returned when a report, derivation, user or attestation has no record.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized is returned when a mutation carries no resolvable submitter.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrMalformedInput is returned for documents or paths that do not have the expected shape.
	ErrMalformedInput = errors.New("malformed input")
)
