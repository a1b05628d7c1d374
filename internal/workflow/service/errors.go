package service

import "errors"

// Error categories returned by the services. Callers match them with errors.Is;
// the HTTP layer is the only place that maps them to status codes.
var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrForbidden  = errors.New("forbidden")
	ErrIntegrity  = errors.New("integrity violation")
	ErrConflict   = errors.New("revision conflict")
	ErrInternal   = errors.New("internal error")
)
