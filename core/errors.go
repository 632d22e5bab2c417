package core

import "errors"

// Sentinel errors returned by the backing store and by the public facade.
// The original C implementation's precondition violations were silent
// no-ops; this rendition surfaces each distinct failure kind as its own
// sentinel error so callers can tell them apart with errors.Is instead of
// having a failure swallowed or lumped in with an unrelated one.
var (
	ErrInvalidSegmentName = errors.New("rvm: invalid segment name")
	ErrDirectoryUnusable  = errors.New("rvm: backing directory could not be created or opened")
	ErrSegmentNotFound    = errors.New("rvm: segment not found")
	ErrUnknownTransaction = errors.New("rvm: unknown transaction id")
	ErrSegmentNotLocked   = errors.New("rvm: segment not locked by this transaction")
	ErrSegmentLocked      = errors.New("rvm: segment is locked by another transaction")
	ErrRangeOutOfBounds   = errors.New("rvm: byte range out of bounds for segment")
)
