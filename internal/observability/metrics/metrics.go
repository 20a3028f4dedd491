// Package metrics exposes scheduler, dispatcher and task engine activity as
// Prometheus metrics, fed from the event bus.
package metrics

import (
	"context"
	"net/http"

	"dayloop/internal/eventbus"
	"dayloop/internal/task/engine"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dayloop"

// Collector owns a private registry so tests and multiple instances never
// collide on the global one.
type Collector struct {
	reg *prometheus.Registry

	slotsFired    prometheus.Counter
	slotsMissed   prometheus.Counter
	fireLateness  prometheus.Histogram
	commands      *prometheus.CounterVec
	processExits  *prometheus.CounterVec
	tasks         *prometheus.CounterVec
	taskDuration  prometheus.Histogram
	taskQueueWait prometheus.Histogram
	scheduleSlots prometheus.Gauge
	scheduleCmds  prometheus.Gauge
	scheduleSwaps prometheus.Counter
}

func NewCollector() *Collector {
	c := &Collector{
		reg: prometheus.NewRegistry(),
		slotsFired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "slots_fired_total",
			Help: "Slots whose commands were dispatched.",
		}),
		slotsMissed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "slots_missed_total",
			Help: "Slots skipped because they were crossed too late.",
		}),
		fireLateness: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "slot_lateness_seconds",
			Help:    "Delay between a slot's time and its dispatch.",
			Buckets: []float64{0, 0.5, 1, 2, 5, 15, 30, 60, 300},
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "commands_total",
			Help: "Dispatched commands by kind and result.",
		}, []string{"kind", "result"}),
		processExits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "process_exits_total",
			Help: "Launched programs that exited, by result.",
		}, []string{"result"}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "tasks_total",
			Help: "Task engine outcomes.",
		}, []string{"result"}),
		taskDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "task_duration_seconds",
			Help:    "Time spent running a slot's commands.",
			Buckets: prometheus.DefBuckets,
		}),
		taskQueueWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "task_queue_delay_seconds",
			Help:    "Time a slot waited for a worker.",
			Buckets: prometheus.DefBuckets,
		}),
		scheduleSlots: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "schedule_slots",
			Help: "Slots in the active (expanded) schedule.",
		}),
		scheduleCmds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "schedule_commands",
			Help: "Commands in the active (expanded) schedule.",
		}),
		scheduleSwaps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "schedule_swaps_total",
			Help: "Schedule replacements after a reload.",
		}),
	}
	c.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.slotsFired, c.slotsMissed, c.fireLateness,
		c.commands, c.processExits,
		c.tasks, c.taskDuration, c.taskQueueWait,
		c.scheduleSlots, c.scheduleCmds, c.scheduleSwaps,
	)
	return c
}

// Registry exposes the private registry (for tests and extra collectors).
func (c *Collector) Registry() *prometheus.Registry { return c.reg }

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

// SetSchedule records the size of the active schedule.
func (c *Collector) SetSchedule(slots, commands int) {
	c.scheduleSlots.Set(float64(slots))
	c.scheduleCmds.Set(float64(commands))
}

// Observe updates metrics from one bus event. Unknown events are ignored.
func (c *Collector) Observe(e eventbus.Event) {
	switch e.Type {
	case eventbus.TypeSlotFired:
		c.slotsFired.Inc()
		if ev, ok := e.Data.(eventbus.SlotEvent); ok {
			c.fireLateness.Observe(ev.Late.Seconds())
		}
	case eventbus.TypeSlotMissed:
		c.slotsMissed.Inc()
	case eventbus.TypeScheduleSwap:
		c.scheduleSwaps.Inc()
		if ev, ok := e.Data.(eventbus.ScheduleEvent); ok {
			c.SetSchedule(ev.Slots, ev.Commands)
		}
	case eventbus.TypeCommandDone:
		if ev, ok := e.Data.(eventbus.CommandEvent); ok {
			c.commands.WithLabelValues(ev.Kind, result(ev.Error == "")).Inc()
		}
	case eventbus.TypeProcessExited:
		if ev, ok := e.Data.(eventbus.CommandEvent); ok {
			c.processExits.WithLabelValues(result(ev.Error == "" && ev.Code == 0)).Inc()
		}
	case eventbus.TypeTaskFinished, eventbus.TypeTaskFailed:
		res := "ok"
		if e.Type == eventbus.TypeTaskFailed {
			res = "failed"
		}
		c.tasks.WithLabelValues(res).Inc()
		if ev, ok := e.Data.(engine.TaskEvent); ok {
			c.taskDuration.Observe(ev.Duration.Seconds())
			c.taskQueueWait.Observe(ev.QueueDelay.Seconds())
		}
	case eventbus.TypeTaskDropped:
		c.tasks.WithLabelValues("dropped").Inc()
	}
}

// Run feeds bus events into the collector until ctx is done.
func (c *Collector) Run(ctx context.Context, bus eventbus.Bus) error {
	ch, unsub := bus.Subscribe(256)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			c.Observe(e)
		}
	}
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}
