package schedule

import (
	"time"

	"dayloop/internal/clock"
)

// Cursor points at the next slot expected to fire.
//
// It holds an index, never a reference into the slot slice, so replacing
// the schedule is a plain Reset. A Cursor is owned by a single goroutine.
type Cursor struct {
	sched *Schedule
	next  int
}

// NewCursor positions a cursor on the first slot strictly after now,
// wrapping to the first slot of the day when now is past the last one.
func NewCursor(s *Schedule, now clock.TimeOfDay) *Cursor {
	c := &Cursor{}
	c.Reset(s, now)
	return c
}

// Reset swaps in s and re-derives the position from now.
func (c *Cursor) Reset(s *Schedule, now clock.TimeOfDay) {
	c.sched = s
	c.next = s.first(now)
}

func (c *Cursor) Schedule() *Schedule { return c.sched }

func (c *Cursor) Index() int { return c.next }

// Current returns the slot the cursor points at.
func (c *Cursor) Current() Slot { return c.sched.slots[c.next].clone() }

// CurrentAt returns the time of the slot the cursor points at.
func (c *Cursor) CurrentAt() clock.TimeOfDay { return c.sched.slots[c.next].At }

// Advance moves to the following slot, wrapping to the first after the last.
func (c *Cursor) Advance() {
	c.next = (c.next + 1) % len(c.sched.slots)
}

// Due reports whether now is exactly the current slot's time.
func (c *Cursor) Due(now clock.TimeOfDay) bool {
	return c.sched.slots[c.next].At == now
}

// Until returns the time left before the current slot fires.
func (c *Cursor) Until(now time.Time) time.Duration {
	return c.sched.slots[c.next].At.DurationUntil(now)
}
