package domain

import "errors"

var (
	ErrValidation     = errors.New("validation error")
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("conflict")
	ErrNotConfigured  = errors.New("provider not configured")
	ErrInvalidAddress = errors.New("invalid address")
)
