package repository

import "errors"

var (
	// ErrNotFound indicates an entity was not located.
	ErrNotFound = errors.New("repository: not found")
	// ErrInvalidArgument indicates the store rejected malformed values.
	ErrInvalidArgument = errors.New("repository: invalid argument")
	// ErrDuplicate indicates a unique constraint rejected the write.
	ErrDuplicate = errors.New("repository: duplicate")
	// ErrStaleStatus indicates a compare-and-set transition lost the race
	// because the stored status no longer matched the expected one.
	ErrStaleStatus = errors.New("repository: stale deployment status")
)
