package domain

import "errors"

// Error kinds for the federation core. Callers wrap these with context via
// fmt.Errorf("...: %w", Err...) and branch with errors.Is; the web layer maps
// them to HTTP status codes.
var (
	ErrBadRequest   = errors.New("bad request")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUpstream     = errors.New("upstream failure")
)
