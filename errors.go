package coursechange

import "errors"

var (
	// The catalog or the store could not be reached
	ErrDependencyUnavailable = errors.New("dependency unavailable")
	// The section (or user) does not exist
	ErrNotFound = errors.New("not found")
	// An email could not be sent
	ErrDispatchFailure = errors.New("dispatch failure")
	// A stored or fetched record is missing expected fields
	ErrDataInconsistency = errors.New("data inconsistency")
)
