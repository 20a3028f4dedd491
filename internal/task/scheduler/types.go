package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"dayloop/internal/clock"
	"dayloop/internal/eventbus"
	rtsup "dayloop/internal/runtime/supervisor"
	"dayloop/internal/schedule"
	logx "dayloop/pkg/logx"
)

// MissedTick selects what happens to slots crossed between two samples.
type MissedTick string

const (
	// MissedCatchUp fires crossed slots that are at most CatchUpGrace late.
	MissedCatchUp MissedTick = "catch_up"
	// MissedSkip fires a slot only when a sample lands on its exact second.
	MissedSkip MissedTick = "skip"
)

func ParseMissedTick(s string) (MissedTick, error) {
	switch MissedTick(strings.ToLower(strings.TrimSpace(s))) {
	case "", MissedCatchUp:
		return MissedCatchUp, nil
	case MissedSkip:
		return MissedSkip, nil
	default:
		return "", fmt.Errorf("invalid missed_tick %q (use catch_up or skip)", s)
	}
}

// Config controls the poll loop.
type Config struct {
	PollInterval time.Duration
	MissedTick   MissedTick
	CatchUpGrace time.Duration
	Timezone     string // IANA TZ; empty means Local
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.MissedTick == "" {
		c.MissedTick = MissedCatchUp
	}
	if c.CatchUpGrace <= 0 {
		c.CatchUpGrace = time.Minute
	}
	return c
}

// Firer receives due slots. It must not block the loop for long.
type Firer interface {
	Fire(ctx context.Context, slot schedule.Slot) error
}

type Service struct {
	mu  sync.Mutex
	cfg Config
	loc *time.Location

	log   logx.Logger
	bus   eventbus.Bus
	clock clock.Clock
	fire  Firer

	replaceCh chan *schedule.Schedule
	sup       *rtsup.Supervisor

	// Loop-owned. Kept on the Service so a restarted loop resumes the cursor.
	sched  *schedule.Schedule
	cursor *schedule.Cursor
	prev   time.Time

	view     view
	lastTick atomic.Int64
	fired    atomic.Uint64
	missed   atomic.Uint64
}

// view is the part of the loop state published for Snapshot.
type view struct {
	slots     int
	commands  int
	nextIndex int
	nextAt    clock.TimeOfDay
	nextIn    time.Duration
	valid     bool
}

type Snapshot struct {
	Running      bool
	Timezone     string
	MissedTick   MissedTick
	PollInterval time.Duration
	Slots        int
	Commands     int
	NextIndex    int
	NextAt       string
	NextIn       time.Duration
	LastTick     time.Time
	Fired        uint64
	Missed       uint64
}
