// Package cache holds cross-process coordination primitives.
package cache

import "errors"

// ErrLockHeld is returned when another process owns the lock.
var ErrLockHeld = errors.New("lock already held")
