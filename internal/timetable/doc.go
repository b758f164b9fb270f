// Package timetable resolves which rotating day order applies on a date,
// which class period is active at an instant, and how long until the next
// period boundary.
//
// A Resolver is immutable. Service swaps resolvers atomically when the
// configured timetable or the calendar overrides change.
package timetable
