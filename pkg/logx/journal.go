package logx

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/coreos/go-systemd/v22/journal"
	"github.com/rs/zerolog"
)

// journalWriter forwards zerolog JSON events to the systemd journal,
// turning event fields into journal fields (comp -> COMP, slot -> SLOT).
type journalWriter struct {
	send func(msg string, pri journal.Priority, vars map[string]string) error
}

func newJournalWriter() journalWriter { return journalWriter{send: journal.Send} }

func (w journalWriter) Write(p []byte) (int, error) {
	return w.WriteLevel(zerolog.NoLevel, p)
}

func (w journalWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	var ev map[string]any
	if err := json.Unmarshal(p, &ev); err != nil {
		return 0, fmt.Errorf("logx: journal decode: %w", err)
	}
	msg, _ := ev[zerolog.MessageFieldName].(string)
	vars := make(map[string]string, len(ev))
	for k, v := range ev {
		switch k {
		case zerolog.MessageFieldName, zerolog.LevelFieldName, zerolog.TimestampFieldName:
			continue
		}
		key := journalKey(k)
		if key == "" {
			continue
		}
		if s, ok := v.(string); ok {
			vars[key] = s
		} else {
			b, _ := json.Marshal(v)
			vars[key] = string(b)
		}
	}
	if err := w.send(msg, journalPriority(level), vars); err != nil {
		return 0, err
	}
	return len(p), nil
}

// journalKey maps a field name to the journal's [A-Z0-9_] alphabet.
// Leading underscores are reserved for trusted fields and are dropped.
func journalKey(k string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(k) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return strings.TrimLeft(b.String(), "_")
}

func journalPriority(l zerolog.Level) journal.Priority {
	switch l {
	case zerolog.TraceLevel, zerolog.DebugLevel:
		return journal.PriDebug
	case zerolog.WarnLevel:
		return journal.PriWarning
	case zerolog.ErrorLevel:
		return journal.PriErr
	case zerolog.FatalLevel, zerolog.PanicLevel:
		return journal.PriCrit
	default:
		return journal.PriInfo
	}
}
