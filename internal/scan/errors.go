package scan

import "errors"

// Sentinel errors for scan operations, checked with errors.Is().
var (
	ErrScanInProgress = errors.New("scan already in progress")
	ErrDirNotFound    = errors.New("cache directory not found")
)
