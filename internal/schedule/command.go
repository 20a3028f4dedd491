package schedule

import (
	"errors"
	"fmt"
	"strings"

	"dayloop/internal/clock"
)

var ErrInvalidLead = errors.New("invalid notify value")

// LeadKind selects how (and whether) a command produces a reminder.
type LeadKind uint8

const (
	// LeadDisabled: no reminder (notify: -1, the default).
	LeadDisabled LeadKind = iota
	// LeadAtStart: a reminder at the same instant as the command (notify: 0).
	LeadAtStart
	// LeadBefore: a reminder Seconds before the command (notify: n > 0).
	LeadBefore
	// LeadReminder marks a command synthesized by Expand. Never read from config.
	LeadReminder
)

// Lead is the tagged reminder setting of a command.
//
// For LeadBefore, Seconds is the lead time. For LeadReminder, Seconds
// carries the lead of the command it reminds of (0 for at-start), so the
// reminder text can say how far away the real run is.
type Lead struct {
	Kind    LeadKind
	Seconds int
}

func NoLead() Lead { return Lead{Kind: LeadDisabled} }

func AtStart() Lead { return Lead{Kind: LeadAtStart} }

func Before(seconds int) Lead { return Lead{Kind: LeadBefore, Seconds: seconds} }

func reminderOf(seconds int) Lead { return Lead{Kind: LeadReminder, Seconds: seconds} }

// Expands reports whether expansion derives a reminder from this lead.
func (l Lead) Expands() bool { return l.Kind == LeadAtStart || l.Kind == LeadBefore }

func (l Lead) IsReminder() bool { return l.Kind == LeadReminder }

// LeadFromNotify maps the persisted integer encoding onto a Lead:
// -1 disabled, 0 at start, n > 0 n seconds before. Anything else
// (including the -2 marker, which only expansion may produce) is rejected.
func LeadFromNotify(n int) (Lead, error) {
	switch {
	case n == -1:
		return NoLead(), nil
	case n == 0:
		return AtStart(), nil
	case n > 0:
		return Before(n), nil
	default:
		return Lead{}, fmt.Errorf("%w %d (use -1, 0 or a positive number of seconds)", ErrInvalidLead, n)
	}
}

// Notify returns the persisted integer encoding of l (-2 for reminders).
func (l Lead) Notify() int {
	switch l.Kind {
	case LeadAtStart:
		return 0
	case LeadBefore:
		return l.Seconds
	case LeadReminder:
		return -2
	default:
		return -1
	}
}

func (l Lead) String() string {
	switch l.Kind {
	case LeadAtStart:
		return "at start"
	case LeadBefore:
		return fmt.Sprintf("%ds before", l.Seconds)
	case LeadReminder:
		return "reminder"
	default:
		return "off"
	}
}

// Command is one action bound to a slot.
//
// Program is the program path, or the audio file path when Audio is set.
// Params is the raw parameter string, split into argv at launch time.
type Command struct {
	Program string
	Params  string
	Audio   bool
	Lead    Lead
}

// reminder builds the synthesized reminder for c. It copies the command
// text so the notification can reference what it reminds of.
func (c Command) reminder() Command {
	return Command{
		Program: c.Program,
		Params:  c.Params,
		Audio:   c.Audio,
		Lead:    reminderOf(c.Lead.Seconds),
	}
}

// Label renders "program params" for logs and notifications.
func (c Command) Label() string {
	p := strings.TrimSpace(c.Params)
	if p == "" {
		return c.Program
	}
	return c.Program + " " + p
}

// Slot is one time of day with the commands that fire at it, in order.
type Slot struct {
	At       clock.TimeOfDay
	Commands []Command
}

func (s Slot) clone() Slot {
	return Slot{At: s.At, Commands: append([]Command(nil), s.Commands...)}
}
