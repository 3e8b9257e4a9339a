package domain

import "errors"

// ErrDuplicateKey is returned by repositories when an insert collides with an
// existing unique key.
var ErrDuplicateKey = errors.New("duplicate key")

// ErrNotFound is returned by repositories when a lookup matches no row.
var ErrNotFound = errors.New("not found")
