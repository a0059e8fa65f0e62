// Package system provides a real clock implementation.
package system

import "time"

// Clock implements crawler.Clock using time.Now.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Frozen is a Clock that always reports the same instant.
type Frozen struct {
	At time.Time
}

// Now returns the frozen instant in UTC.
func (f Frozen) Now() time.Time {
	return f.At.UTC()
}
