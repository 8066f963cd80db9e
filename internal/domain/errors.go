package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("already exists")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidInput       = errors.New("invalid input")
	ErrPreconditionFailed = errors.New("action not allowed in current device state")
	ErrActionInFlight     = errors.New("another lifecycle action is already in flight for this device")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrDeviceArchived     = errors.New("device has been archived")
)
