package interfaces

import "errors"

// Common interface errors used across components.
var (
	ErrTestNotFound  = errors.New("test not found")
	ErrClassNotFound = errors.New("class not found")
)
