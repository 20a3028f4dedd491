package clock

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	secondsPerMinute = 60
	secondsPerHour   = 60 * secondsPerMinute
	// SecondsPerDay is the modulus of every TimeOfDay computation.
	SecondsPerDay = 24 * secondsPerHour
)

var ErrOutOfRange = errors.New("time of day out of range")

// TimeOfDay is a wall-clock position within a day, with second resolution.
//
// The zero value is 00:00:00. Fields are unexported so that every value in
// circulation is in range; arithmetic wraps modulo 24h and never fails.
type TimeOfDay struct {
	hour, minute, second uint8
}

// New returns h:m:s or ErrOutOfRange.
func New(h, m, s int) (TimeOfDay, error) {
	if h < 0 || h > 23 || m < 0 || m > 59 || s < 0 || s > 59 {
		return TimeOfDay{}, fmt.Errorf("%w: %02d:%02d:%02d", ErrOutOfRange, h, m, s)
	}
	return TimeOfDay{hour: uint8(h), minute: uint8(m), second: uint8(s)}, nil
}

// MustNew is New for literals; it panics on out-of-range input.
func MustNew(h, m, s int) TimeOfDay {
	t, err := New(h, m, s)
	if err != nil {
		panic(err)
	}
	return t
}

// FromSeconds converts a plain count of seconds into a TimeOfDay, wrapping
// modulo 24h. Negative counts wrap backwards.
func FromSeconds(n int) TimeOfDay {
	n %= SecondsPerDay
	if n < 0 {
		n += SecondsPerDay
	}
	return TimeOfDay{
		hour:   uint8(n / secondsPerHour),
		minute: uint8(n % secondsPerHour / secondsPerMinute),
		second: uint8(n % secondsPerMinute),
	}
}

// FromTime takes the local wall-clock fields of t. Sub-second precision is dropped.
func FromTime(t time.Time) TimeOfDay {
	return TimeOfDay{hour: uint8(t.Hour()), minute: uint8(t.Minute()), second: uint8(t.Second())}
}

// Parse accepts "HH:MM" or "HH:MM:SS".
func Parse(s string) (TimeOfDay, error) {
	raw := strings.TrimSpace(s)
	parts := strings.Split(raw, ":")
	if len(parts) != 2 && len(parts) != 3 {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q (use HH:MM or HH:MM:SS)", s)
	}
	var v [3]int
	for i, p := range parts {
		if len(p) == 0 || len(p) > 2 {
			return TimeOfDay{}, fmt.Errorf("invalid time of day %q", s)
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return TimeOfDay{}, fmt.Errorf("invalid time of day %q: %w", s, err)
		}
		v[i] = n
	}
	return New(v[0], v[1], v[2])
}

func (t TimeOfDay) Hour() int   { return int(t.hour) }
func (t TimeOfDay) Minute() int { return int(t.minute) }
func (t TimeOfDay) Second() int { return int(t.second) }

// SecondsOfDay returns the offset from midnight, in [0, SecondsPerDay).
func (t TimeOfDay) SecondsOfDay() int {
	return int(t.hour)*secondsPerHour + int(t.minute)*secondsPerMinute + int(t.second)
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.hour, t.minute, t.second)
}

// Add is component-wise addition with carry, wrapped modulo 24h.
func Add(a, b TimeOfDay) TimeOfDay {
	return FromSeconds(a.SecondsOfDay() + b.SecondsOfDay())
}

// Sub is component-wise subtraction with borrow, wrapped modulo 24h.
// 00:00:10 - 00:00:30 is 23:59:40: a clock-face position, not "yesterday".
func Sub(a, b TimeOfDay) TimeOfDay {
	return FromSeconds(a.SecondsOfDay() - b.SecondsOfDay())
}

// Compare orders by (hour, minute, second): -1, 0 or +1.
func Compare(a, b TimeOfDay) int {
	as, bs := a.SecondsOfDay(), b.SecondsOfDay()
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	default:
		return 0
	}
}

func (t TimeOfDay) Before(u TimeOfDay) bool { return Compare(t, u) < 0 }
func (t TimeOfDay) After(u TimeOfDay) bool  { return Compare(t, u) > 0 }

// Between returns the forward distance in seconds from a to b, in [0, SecondsPerDay).
func Between(a, b TimeOfDay) int {
	d := b.SecondsOfDay() - a.SecondsOfDay()
	if d < 0 {
		d += SecondsPerDay
	}
	return d
}

// DurationUntil returns how long after now this time of day next occurs,
// wrapping forward across midnight. The result lies in [0, 24h); an exact
// match (to the nanosecond) yields 0.
func (t TimeOfDay) DurationUntil(now time.Time) time.Duration {
	since := time.Duration(now.Hour())*time.Hour +
		time.Duration(now.Minute())*time.Minute +
		time.Duration(now.Second())*time.Second +
		time.Duration(now.Nanosecond())
	d := time.Duration(t.SecondsOfDay())*time.Second - since
	if d < 0 {
		d += 24 * time.Hour
	}
	return d
}

// On returns the instant at which t occurs on the calendar day of ref, in ref's location.
func (t TimeOfDay) On(ref time.Time) time.Time {
	y, mo, d := ref.Date()
	return time.Date(y, mo, d, int(t.hour), int(t.minute), int(t.second), 0, ref.Location())
}

// MarshalText renders HH:MM:SS.
func (t TimeOfDay) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// UnmarshalJSON accepts "HH:MM[:SS]" or {"hour":h,"minute":m,"second":s}.
func (t *TimeOfDay) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		v, err := Parse(s)
		if err != nil {
			return err
		}
		*t = v
		return nil
	}
	var obj struct {
		Hour   int `json:"hour"`
		Minute int `json:"minute"`
		Second int `json:"second"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return fmt.Errorf("invalid time of day %s: want \"HH:MM:SS\" or {hour, minute, second}", string(b))
	}
	v, err := New(obj.Hour, obj.Minute, obj.Second)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// MarshalYAML writes the compact string form.
func (t TimeOfDay) MarshalYAML() (interface{}, error) { return t.String(), nil }
