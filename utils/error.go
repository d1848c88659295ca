package utils

import "errors"

var ErrorRecordNotFound = errors.New("record not found")

// Failure taxonomy shared by the restore core, the upstream client and the HTTP layer.
var (
	ErrValidation          = errors.New("validation error")
	ErrNotFound            = ErrorRecordNotFound
	ErrAuth                = errors.New("authentication failed")
	ErrUpstream            = errors.New("upstream error")
	ErrEntitlementMismatch = errors.New("entitlement mismatch")
)
