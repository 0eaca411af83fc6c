package model

import "errors"

// Auth errors
var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrAccountDisabled    = errors.New("account is disabled")
	ErrForbidden          = errors.New("access denied")
)

// Request errors
var (
	ErrRateLimited               = errors.New("too many requests, please try again later")
	ErrPayloadTooLarge           = errors.New("content exceeds the size limit")
	ErrPayloadCorrupted          = errors.New("encrypted payload is corrupted")
	ErrNoSessionKey              = errors.New("no session key established, perform key exchange first")
	ErrInvalidInput              = errors.New("invalid input")
	ErrNotFound                  = errors.New("not found")
	ErrUsernameTaken             = errors.New("username already exists")
	ErrCannotRemoveCurrentDevice = errors.New("cannot remove the device used for this session")
)

// Infrastructure errors
var (
	ErrTransport        = errors.New("connection closed")
	ErrStoreUnavailable = errors.New("backing store unavailable")
)
