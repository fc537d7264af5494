package recq

import "errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("recq: no store configured")
	ErrStoreClosed     = errors.New("recq: store closed")
	ErrMigrationFailed = errors.New("recq: migration failed")

	// Not found errors.
	ErrJobNotFound = errors.New("recq: job not found")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("recq: job already exists")
	ErrVersionConflict  = errors.New("recq: record changed concurrently")
	ErrAlreadyClaimed   = errors.New("recq: job already claimed")

	// State errors.
	ErrNotClaimable  = errors.New("recq: job not claimable")
	ErrNotProcessing = errors.New("recq: job not processing")
	ErrTerminalState = errors.New("recq: job in terminal state")
	ErrResultsSet    = errors.New("recq: results already set")

	// Dispatch errors.
	ErrNoneAvailable = errors.New("recq: no job available")
	ErrNoRunner      = errors.New("recq: no runner registered for model type")

	// Submission errors.
	ErrInvalidPriority    = errors.New("recq: priority must be between 1 and 4")
	ErrInvalidMaxAttempts = errors.New("recq: max attempts must be between 1 and 10")
	ErrInvalidModelType   = errors.New("recq: unknown model type")
	ErrMissingTenant      = errors.New("recq: tenant id is required")
)
