// Package system provides a real clock implementation.
package system

import "time"

// Clock implements causelist.Clock using time.Now in a fixed location.
type Clock struct {
	loc *time.Location
}

// New creates a Clock reporting times in loc; nil means UTC.
func New(loc *time.Location) *Clock {
	if loc == nil {
		loc = time.UTC
	}
	return &Clock{loc: loc}
}

// Now returns the current time in the clock's location.
func (c Clock) Now() time.Time {
	if c.loc == nil {
		return time.Now().UTC()
	}
	return time.Now().In(c.loc)
}

// Location reports the clock's time zone.
func (c Clock) Location() *time.Location {
	if c.loc == nil {
		return time.UTC
	}
	return c.loc
}
