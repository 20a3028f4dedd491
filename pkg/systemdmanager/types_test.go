package systemdmanager

import (
	"errors"
	"testing"
	"time"
)

func TestUnitName(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"dayloop":         "dayloop.service",
		" dayloop ":       "dayloop.service",
		"dayloop.service": "dayloop.service",
		"backup.timer":    "backup.timer",
	}
	for in, want := range cases {
		if got := UnitName(in); got != want {
			t.Fatalf("UnitName(%q)=%q want %q", in, got, want)
		}
	}
}

func TestPropertyHelpers(t *testing.T) {
	t.Parallel()

	props := map[string]interface{}{
		"ActiveEnterTimestamp": uint64(1_700_000_000_000_000),
		"ActiveState":          "active",
		"MemoryCurrent":        ^uint64(0),
		"Other":                uint64(42),
	}
	if got := parseTimestamp(props, "ActiveEnterTimestamp"); !got.Equal(time.Unix(1_700_000_000, 0)) {
		t.Fatalf("timestamp=%v", got)
	}
	if !parseTimestamp(props, "Missing").IsZero() {
		t.Fatalf("missing timestamp should be zero")
	}
	if getStringProperty(props, "ActiveState") != "active" || getStringProperty(props, "Other") != "" {
		t.Fatalf("string property mismatch")
	}
	if getUint64Property(props, "MemoryCurrent") != 0 || getUint64Property(props, "Other") != 42 {
		t.Fatalf("uint64 property mismatch")
	}
}

func TestStatusHelpers(t *testing.T) {
	t.Parallel()

	now := time.Now()
	st := UnitStatus{Active: "active", LoadState: "loaded", ActiveSince: now.Add(-time.Hour)}
	if !st.Found() || st.Uptime(now) != time.Hour {
		t.Fatalf("active status: found=%v uptime=%v", st.Found(), st.Uptime(now))
	}
	down := UnitStatus{Active: "failed", LoadState: "not-found", ActiveSince: now}
	if down.Found() || down.Uptime(now) != 0 {
		t.Fatalf("missing unit misreported")
	}
	if !isNoSuchUnitErr(errors.New("org.freedesktop.systemd1.NoSuchUnit: x")) || isNoSuchUnitErr(nil) {
		t.Fatalf("isNoSuchUnitErr mismatch")
	}
}
