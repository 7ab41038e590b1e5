package errors

import "errors"

// Configuration errors. These surface at engine construction time, before
// any inspection runs.
var (
	ErrEmptyTrustStore       = errors.New("trust anchor set cannot be empty")
	ErrInvalidTrustAnchor    = errors.New("invalid trust anchor")
	ErrMissingLogDirectory   = errors.New("CT log directory is required")
	ErrInvalidLogDirectory   = errors.New("invalid CT log directory")
	ErrInvalidWeights        = errors.New("invalid scoring weights")
	ErrInvalidPenalties      = errors.New("invalid severity penalties")
	ErrInvalidProtocolPolicy = errors.New("invalid protocol policy")
	ErrInvalidCTPolicy       = errors.New("invalid certificate transparency policy")
	ErrInvalidRunnerConfig   = errors.New("invalid runner configuration")
)

// Request errors.
var (
	ErrInvalidTarget   = errors.New("invalid target")
	ErrInvalidHostname = errors.New("invalid hostname")
	ErrInvalidPort     = errors.New("port must be between 1 and 65535")
	ErrInvalidTimeout  = errors.New("timeout must be greater than zero")
)

// Job errors.
var (
	ErrJobNotFound      = errors.New("job not found")
	ErrJobManagerClosed = errors.New("job manager is shutting down")
)
