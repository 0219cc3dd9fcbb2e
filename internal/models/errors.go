package models

import "errors"

// Error taxonomy shared by the realtime core, auth and storage.
var (
	// ErrUnauthenticated means a missing or invalid credential. The channel is closed.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrAccountInactive means the account is disabled or locked. The channel is closed.
	ErrAccountInactive = errors.New("account inactive")
	// ErrPermissionDenied means the caller is not a party to the conversation or call.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrNotFound means a referenced call session or message does not exist.
	ErrNotFound = errors.New("not found")
	// ErrValidationFailed means a malformed event payload.
	ErrValidationFailed = errors.New("validation failed")
)
