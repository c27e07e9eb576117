package domain

import "errors"

var (
	ErrInvalidTransition = errors.New("invalid transition")
	ErrNotEditable       = errors.New("report not editable")
	ErrConflict          = errors.New("conflict")
	ErrNotFound          = errors.New("not found")
	ErrGenerationFailed  = errors.New("document generation failed")
	ErrIntegrityMismatch = errors.New("integrity mismatch")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrForbidden         = errors.New("forbidden")
	ErrRateLimited       = errors.New("rate limited")

	// ErrReportCancelled ends a generation job whose report was cancelled mid-flight.
	ErrReportCancelled = errors.New("report cancelled")
)
