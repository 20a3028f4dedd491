package schedule

import (
	"fmt"
	"io"
	"strings"

	"dayloop/internal/clock"
)

// Describe writes a human readable listing of s, one block per slot:
//
//	09:00:00 command: backup.sh
//	         params:  --full
//	         audio:   no
//	         notify:  30s before, at 08:59:30
func Describe(w io.Writer, s *Schedule) error {
	const indent = "         "
	for _, sl := range s.slots {
		for i, c := range sl.Commands {
			head := sl.At.String() + " "
			if i > 0 {
				head = indent
			}
			params := strings.TrimSpace(c.Params)
			if params == "" {
				params = "none"
			}
			audio := "no"
			if c.Audio {
				audio = "yes"
			}
			_, err := fmt.Fprintf(w, "%scommand: %s\n%sparams:  %s\n%saudio:   %s\n%snotify:  %s\n",
				head, c.Program, indent, params, indent, audio, indent, describeLead(sl.At, c.Lead))
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func describeLead(at clock.TimeOfDay, l Lead) string {
	switch l.Kind {
	case LeadAtStart:
		return "at start"
	case LeadBefore:
		return fmt.Sprintf("%ds before, at %s", l.Seconds, clock.Sub(at, clock.FromSeconds(l.Seconds)))
	case LeadReminder:
		return "reminder"
	default:
		return "no"
	}
}
