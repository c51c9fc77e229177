package herald

import "errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("herald: no store configured")
	ErrQueueBackend    = errors.New("herald: queue backend unavailable")
	ErrMigrationFailed = errors.New("herald: migration failed")

	// Not found errors.
	ErrJobNotFound     = errors.New("herald: job not found")
	ErrDLQNotFound     = errors.New("herald: dlq entry not found")
	ErrContactNotFound = errors.New("herald: contact not found")
	ErrGroupNotFound   = errors.New("herald: group not found")
	ErrBalanceNotFound = errors.New("herald: balance not found")
	ErrMessageNotFound = errors.New("herald: message not found")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("herald: job already exists")

	// Send errors.
	ErrValidation          = errors.New("herald: validation failed")
	ErrInsufficientBalance = errors.New("herald: insufficient balance")
	ErrTransport           = errors.New("herald: transport failure")
	ErrNoHandler           = errors.New("herald: no handler registered")

	// State errors.
	ErrInvalidState = errors.New("herald: invalid state transition")
	ErrJobStale     = errors.New("herald: worker heartbeat lost")
)
