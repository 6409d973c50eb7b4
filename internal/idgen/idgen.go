// Package idgen produces the opaque identifiers used for requests, tasks,
// history entries, rules, delegates and events. Callers must treat the
// returned strings as opaque.
package idgen

import "github.com/google/uuid"

// NewFunc is swapped in tests that need deterministic ids.
var NewFunc = func() string { return uuid.New().String() }

// New returns a new globally unique identifier.
func New() string { return NewFunc() }
