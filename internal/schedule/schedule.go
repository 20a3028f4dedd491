package schedule

import (
	"errors"
	"fmt"
	"sort"

	"dayloop/internal/clock"
)

var ErrEmptySchedule = errors.New("schedule has no slots")

// Schedule is an ordered timeline of slots, strictly increasing by time.
type Schedule struct {
	slots    []Slot
	expanded bool
}

// New sorts slots by time and merges slots that share a time, keeping the
// relative order of their commands. Slots without commands are dropped.
// Reminder commands are rejected: they only come out of Expand.
func New(slots []Slot) (*Schedule, error) {
	in := make([]Slot, 0, len(slots))
	for i, s := range slots {
		for j, c := range s.Commands {
			if c.Lead.IsReminder() {
				return nil, fmt.Errorf("slot %d command %d: %w -2 (reserved)", i, j, ErrInvalidLead)
			}
		}
		if len(s.Commands) == 0 {
			continue
		}
		in = append(in, s.clone())
	}
	if len(in) == 0 {
		return nil, ErrEmptySchedule
	}

	sort.SliceStable(in, func(i, j int) bool { return in[i].At.Before(in[j].At) })

	out := in[:1]
	for _, s := range in[1:] {
		last := &out[len(out)-1]
		if last.At == s.At {
			last.Commands = append(last.Commands, s.Commands...)
			continue
		}
		out = append(out, s)
	}
	return &Schedule{slots: out}, nil
}

func (s *Schedule) Len() int { return len(s.slots) }

// At returns a copy of slot i.
func (s *Schedule) At(i int) Slot { return s.slots[i].clone() }

// Slots returns a deep copy of the timeline.
func (s *Schedule) Slots() []Slot {
	out := make([]Slot, len(s.slots))
	for i := range s.slots {
		out[i] = s.slots[i].clone()
	}
	return out
}

// Expanded reports whether s is the output of Expand.
func (s *Schedule) Expanded() bool { return s.expanded }

// Commands counts commands across all slots.
func (s *Schedule) Commands() int {
	n := 0
	for _, sl := range s.slots {
		n += len(sl.Commands)
	}
	return n
}

// first returns the index of the first slot strictly after t, wrapping to 0.
func (s *Schedule) first(t clock.TimeOfDay) int {
	i := sort.Search(len(s.slots), func(i int) bool { return s.slots[i].At.After(t) })
	if i == len(s.slots) {
		return 0
	}
	return i
}
