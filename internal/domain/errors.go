package domain

import "errors"

// Error taxonomy for the capture and application flows. Collaborator error
// text is always preserved by wrapping, never rewritten, so support staff
// can correlate with gateway/ledger logs.
var (
	ErrSessionCreationFailed = errors.New("session creation failed")
	ErrWidgetInitFailed      = errors.New("widget init failed")
	ErrAuthorizationFailed   = errors.New("authorization failed")
	ErrVoidFailed            = errors.New("void failed")
	ErrPersistenceFailed     = errors.New("credential persistence failed")
	ErrApplyRejected         = errors.New("apply rejected")
	ErrNoRemainingBalance    = errors.New("no remaining balance")
)
