package config

import "errors"

// ErrNotFound is returned when a requested resource does not exist in the store.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when an update loses an optimistic-concurrency
// race. The caller should refetch and retry.
var ErrConflict = errors.New("conflict")

// ErrDuplicate is returned when an insert violates a uniqueness
// constraint, e.g. a duplicate rule name or assignment.
var ErrDuplicate = errors.New("duplicate")
