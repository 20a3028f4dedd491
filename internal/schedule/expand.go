package schedule

import "dayloop/internal/clock"

// ExpandReport counts what Expand did with the synthesized reminders.
type ExpandReport struct {
	Reminders int // reminders synthesized
	NewSlots  int // reminders that opened a slot of their own
	Merged    int // reminders appended to an existing slot
}

// Expand returns a new Schedule that also contains one reminder command for
// every command whose lead expands, placed at slot time minus lead (wrapping
// modulo 24h).
//
// Every slot and every reminder goes through insert, so a reminder that
// wraps past midnight still lands in sorted position. Reminders carry
// LeadReminder and are never expanded again; expanding an expanded
// schedule returns an identical copy.
func Expand(s *Schedule) (*Schedule, ExpandReport) {
	var rep ExpandReport
	if s.expanded {
		return &Schedule{slots: s.Slots(), expanded: true}, rep
	}

	out := make([]Slot, 0, len(s.slots)*2)
	for _, sl := range s.slots {
		out, _ = insert(out, sl.At, sl.Commands...)

		for _, c := range sl.Commands {
			if !c.Lead.Expands() {
				continue
			}
			fire := clock.Sub(sl.At, clock.FromSeconds(c.Lead.Seconds))
			var created bool
			out, created = insert(out, fire, c.reminder())
			rep.Reminders++
			if created {
				rep.NewSlots++
			} else {
				rep.Merged++
			}
		}
	}
	return &Schedule{slots: out, expanded: true}, rep
}

// insert places cmds at time at, scanning backward from the tail.
//
// Tie-break: an existing slot with exactly at receives cmds appended to its
// command list (returns false). Otherwise a new slot is inserted right after
// the last slot strictly before at, or at index 0 when there is none
// (returns true). Because the scan starts at the tail, appending in time
// order costs O(1) per slot; reminders usually land within a few slots.
func insert(slots []Slot, at clock.TimeOfDay, cmds ...Command) ([]Slot, bool) {
	for i := len(slots) - 1; i >= 0; i-- {
		switch clock.Compare(slots[i].At, at) {
		case 0:
			slots[i].Commands = append(slots[i].Commands, cmds...)
			return slots, false
		case -1:
			return insertAt(slots, i+1, Slot{At: at, Commands: append([]Command(nil), cmds...)}), true
		}
	}
	return insertAt(slots, 0, Slot{At: at, Commands: append([]Command(nil), cmds...)}), true
}

func insertAt(slots []Slot, i int, s Slot) []Slot {
	slots = append(slots, Slot{})
	copy(slots[i+1:], slots[i:])
	slots[i] = s
	return slots
}
