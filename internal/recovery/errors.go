package recovery

import (
	"errors"
	"fmt"
)

// Sentinel errors for recovery operations, checked with errors.Is().
var (
	ErrRecoveryInProgress = errors.New("recovery already in progress")
	ErrResourceNotFound   = errors.New("resource not found")
	ErrPermissionDenied   = errors.New("permission denied reading source file")
)

func resourceNotFoundError(id string) error {
	return fmt.Errorf("%w: %s", ErrResourceNotFound, id)
}
