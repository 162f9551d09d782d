package capability

import "errors"

// Sentinel errors for the capability registry.
var (
	ErrNotFound      = errors.New("capability not found")
	ErrAlreadyExists = errors.New("capability already registered")
	ErrEmptyID       = errors.New("capability id is empty")
)
