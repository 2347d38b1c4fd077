package domain

import "errors"

// Sentinel errors for the application.
var (
	ErrNotFound            = errors.New("resource not found")
	ErrUnauthorized        = errors.New("unauthorized access")
	ErrForbidden           = errors.New("forbidden")
	ErrBanned              = errors.New("account is banned")
	ErrConflict            = errors.New("resource was modified concurrently or already exists")
	ErrInternal            = errors.New("internal server error")
	ErrInvalidInput        = errors.New("invalid input")
	ErrUpstreamUnavailable = errors.New("payment service unavailable")
	ErrDatabaseConnection  = errors.New("database connection error")
)
