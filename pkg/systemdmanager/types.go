// Package systemdmanager inspects and controls one systemd unit over D-Bus.
package systemdmanager

import (
	"errors"
	"strings"
	"time"
)

var ErrUnsupported = errors.New("systemdmanager: unsupported OS (linux only)")

// UnitStatus is the current state of a unit.
type UnitStatus struct {
	Name        string
	Active      string // active, inactive, failed, etc.
	SubState    string // running, dead, etc.
	LoadState   string // loaded, not-found, etc.
	Description string
	MainPID     uint32
	Memory      uint64 // bytes; 0 when unknown
	Enabled     bool   // enabled on boot
	ActiveSince time.Time
	StateChange time.Time
}

// Found reports whether systemd knows the unit.
func (s UnitStatus) Found() bool { return s.LoadState != "" && s.LoadState != "not-found" }

// Uptime returns how long the unit has been active, 0 when it is not.
func (s UnitStatus) Uptime(now time.Time) time.Duration {
	if s.Active != "active" || s.ActiveSince.IsZero() {
		return 0
	}
	return now.Sub(s.ActiveSince)
}

// UnitName appends ".service" when name has no unit suffix.
func UnitName(name string) string {
	name = strings.TrimSpace(name)
	for _, suf := range []string{".service", ".timer", ".socket", ".target", ".path"} {
		if strings.HasSuffix(name, suf) {
			return name
		}
	}
	return name + ".service"
}

func parseTimestamp(props map[string]interface{}, key string) time.Time {
	if ts, ok := props[key].(uint64); ok && ts > 0 {
		// systemd timestamps are in microseconds since the Unix epoch
		return time.Unix(int64(ts/1_000_000), 0)
	}
	return time.Time{}
}

func getStringProperty(props map[string]interface{}, key string) string {
	v, _ := props[key].(string)
	return v
}

func getUint64Property(props map[string]interface{}, key string) uint64 {
	v, _ := props[key].(uint64)
	// systemd reports "unset" as the max value
	if v == ^uint64(0) {
		return 0
	}
	return v
}

func isNoSuchUnitErr(err error) bool {
	if err == nil {
		return false
	}
	es := err.Error()
	// systemd returns org.freedesktop.systemd1.NoSuchUnit for missing units.
	return strings.Contains(es, "NoSuchUnit") || strings.Contains(es, "not-found")
}
