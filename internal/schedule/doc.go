// Package schedule holds the daily timeline: slots of commands keyed by
// time of day, the reminder expansion pass, and the cursor that walks the
// timeline forever, wrapping at midnight.
//
// A Schedule is immutable once built. Rebuilding (for example after the
// schedule file changes) produces a new Schedule; the cursor is then
// re-derived from the current time rather than carried over.
package schedule
