// Package apperr defines the error taxonomy shared by the import pipeline.
package apperr

import "errors"

var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrValidation = errors.New("validation failed")
	ErrAPI        = errors.New("api error")

	// ErrTransfer marks network and timeout faults, both against the entity
	// store and while streaming assets for verification.
	ErrTransfer = errors.New("transfer failed")

	// ErrMalformedRecord marks source records missing required structure.
	ErrMalformedRecord = errors.New("malformed record")

	// ErrInterrupted is returned when an operator stop ends a run early.
	ErrInterrupted = errors.New("interrupted")
)
