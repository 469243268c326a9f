package authz

import "errors"

// Common errors
var (
	ErrForbidden       = errors.New("forbidden: you don't have permission to perform this action")
	ErrNotFound        = errors.New("resource not found")
	ErrAlreadyExists   = errors.New("resource already exists")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrSystemRole      = errors.New("system roles cannot be deleted")
)
