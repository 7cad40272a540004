package config

import "errors"

// Configuration errors. Validate returns them wrapped with the offending value.
var (
	// ErrConfigNotFound is returned when an explicitly requested file does not exist.
	ErrConfigNotFound = errors.New("configuration file not found")

	// ErrUnsupportedFormat is returned for a file extension other than .toml, .yaml or .yml.
	ErrUnsupportedFormat = errors.New("unsupported configuration format")

	ErrInvalidPort      = errors.New("invalid port: must be between 1 and 65535")
	ErrInvalidWorkers   = errors.New("invalid workers: must be non-negative")
	ErrInvalidMaxPages  = errors.New("invalid max pages: must be non-negative")
	ErrInvalidDepth     = errors.New("invalid depth: must be non-negative")
	ErrInvalidDelay     = errors.New("invalid delay: must be non-negative")
	ErrInvalidRPS       = errors.New("invalid rps: must be non-negative")
	ErrInvalidRetries   = errors.New("invalid retries: must be non-negative")
	ErrInvalidTimeout   = errors.New("invalid timeout: must be non-negative")
	ErrInvalidChunkSize = errors.New("invalid chunk size: must be non-negative")
	ErrInvalidProvider  = errors.New("invalid llm provider: expected openai or ollama")
	ErrInvalidMode      = errors.New("invalid llm mode: expected json or text")
	ErrInvalidLogLevel  = errors.New("invalid log level")
	ErrInvalidDuration  = errors.New("invalid duration")
)
