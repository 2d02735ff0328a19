package twamp

import "errors"

// Sentinel errors for TWAMP sessions.
var (
	ErrInvalidOption   = errors.New("invalid twamp option")
	ErrNetwork         = errors.New("twamp network failure")
	ErrSessionExists   = errors.New("twamp session already exists")
	ErrSessionNotFound = errors.New("twamp session not found")
)
