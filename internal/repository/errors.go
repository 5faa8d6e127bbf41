package repository

import "errors"

// ErrNotFound indicates an entity was not located.
var ErrNotFound = errors.New("repository: not found")

// ErrConflict indicates a uniqueness constraint rejected the write.
var ErrConflict = errors.New("repository: conflict")

// ErrStaleZone indicates a guarded zone update found the zone no longer verifying.
var ErrStaleZone = errors.New("repository: zone no longer verifying")
