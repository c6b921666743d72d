// Package system provides the wall clock used by run windows and daily sources.
package system

import "time"

// Clock implements ingest.Clock in a fixed location.
type Clock struct {
	loc *time.Location
}

// New returns a clock in the process's local time zone, which is what run
// windows and "yesterday" are expressed in.
func New() *Clock {
	return &Clock{loc: time.Local}
}

// NewIn returns a clock in loc.
func NewIn(loc *time.Location) *Clock {
	if loc == nil {
		loc = time.Local
	}
	return &Clock{loc: loc}
}

// Now returns the current time in the clock's location.
func (c *Clock) Now() time.Time {
	return time.Now().In(c.loc)
}
