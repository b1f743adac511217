// Package exitcode defines process exit codes for the snapshot CLI.
// Orchestrators can use these to decide retry strategy.
package exitcode

const (
	// Success - run completed successfully
	Success = 0

	// ConfigError - missing or invalid configuration
	// Don't retry: fix the config first
	ConfigError = 1

	// StorageError - the storage backend rejected an operation
	// Retry with backoff
	StorageError = 2

	// DataError - a source produced invalid or empty data
	// Don't retry: investigate the source file
	DataError = 3
)
