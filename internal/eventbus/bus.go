package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the scheduler, dispatcher and task engine.
const (
	TypeSlotFired     = "slot.fired"     // Data: SlotEvent
	TypeSlotMissed    = "slot.missed"    // Data: SlotEvent
	TypeScheduleSwap  = "schedule.swap"  // Data: ScheduleEvent
	TypeCommandDone   = "command.done"   // Data: CommandEvent
	TypeProcessExited = "process.exited" // Data: CommandEvent
	TypeTaskStarted   = "task.started"   // Data: TaskEvent (engine package)
	TypeTaskFinished  = "task.finished"
	TypeTaskFailed    = "task.failed"
	TypeTaskDropped   = "task.dropped"
)

// Event is a lightweight, in-memory signal used to decouple components.
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Subscribers MUST use buffered channels.
//   - Slow subscribers may drop events (bounded backpressure).
type Event struct {
	Type string
	Time time.Time
	Data any
}

// SlotEvent describes a slot reaching (or missing) its fire time.
type SlotEvent struct {
	At       string        `json:"at"`
	Index    int           `json:"index"`
	Commands int           `json:"commands"`
	Late     time.Duration `json:"late"`
}

// CommandEvent is the outcome of one dispatched command.
type CommandEvent struct {
	RunID   string `json:"run_id"`
	At      string `json:"at"`
	Kind    string `json:"kind"`
	Program string `json:"program"`
	PID     int    `json:"pid,omitempty"`
	Code    int    `json:"code,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ScheduleEvent announces a schedule replacement.
type ScheduleEvent struct {
	Slots    int `json:"slots"`
	Commands int `json:"commands"`
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fan-out bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// A concurrent unsubscribe may close ch; recover from the send panic.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

// Publish is a nil-safe helper for optional buses.
func Publish(b Bus, typ string, data any) {
	if b == nil {
		return
	}
	b.Publish(Event{Type: typ, Data: data})
}
