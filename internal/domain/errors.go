package domain

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrRateLimited    = errors.New("rate limited")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrRejected       = errors.New("order rejected")
	ErrTransport      = errors.New("transport failure")
	ErrAuthFailed     = errors.New("authentication failed")
	ErrInvalidOrder   = errors.New("invalid order parameters")
	ErrInvalidSide    = errors.New("invalid side")
	ErrWSDisconnect   = errors.New("websocket disconnected")
	ErrLockHeld       = errors.New("lock already held")
	ErrNoCredential   = errors.New("no credential")
	ErrDecryptFailure = errors.New("decryption failed")
)
