package container

import "errors"

// Sentinel errors for the container lifecycle. Lower layers wrap tool
// failures with %w; callers match with errors.Is.
var (
	ErrNotFound       = errors.New("container does not exist")
	ErrAlreadyExists  = errors.New("container already exists")
	ErrWrongPassword  = errors.New("invalid password")
	ErrAlreadyMounted = errors.New("container already mounted")
	ErrNotMounted     = errors.New("container not mounted")
	ErrNoConfig       = errors.New("no container configuration found")
)
