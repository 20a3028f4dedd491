package app

import (
	"context"
	"fmt"
	"time"

	"dayloop/internal/config"
	"dayloop/internal/storage"
	logx "dayloop/pkg/logx"

	"github.com/robfig/cron/v3"
)

// retention prunes old run history on a cron schedule.
type retention struct {
	store storage.Store
	keep  time.Duration
	log   logx.Logger
	now   func() time.Time

	cron *cron.Cron
}

func newRetention(store storage.Store, keep time.Duration, log logx.Logger) *retention {
	return &retention{store: store, keep: keep, log: log, now: time.Now}
}

// prune removes runs older than the retention window. keep <= 0 keeps everything.
func (r *retention) prune(ctx context.Context) {
	if r.store == nil || r.keep <= 0 {
		return
	}
	cutoff := r.now().Add(-r.keep)
	n, err := r.store.PruneBefore(ctx, cutoff)
	if err != nil {
		r.log.Warn("run history prune failed", logx.Err(err))
		return
	}
	if n > 0 {
		r.log.Info("run history pruned", logx.Int("removed", n), logx.Time("before", cutoff))
	} else {
		r.log.Debug("run history prune: nothing to remove", logx.Time("before", cutoff))
	}
}

// start prunes once, then on every spec match until ctx is done or stop is called.
func (r *retention) start(ctx context.Context, spec string, loc *time.Location) error {
	if r.store == nil || r.keep <= 0 || spec == "" {
		return nil
	}
	if loc == nil {
		loc = time.Local
	}
	c := cron.New(
		cron.WithParser(config.CronParser),
		cron.WithLocation(loc),
		cron.WithLogger(cronLogger{r.log}),
		cron.WithChain(cron.Recover(cronLogger{r.log}), cron.SkipIfStillRunning(cronLogger{r.log})),
	)
	id, err := c.AddFunc(spec, func() { r.prune(ctx) })
	if err != nil {
		return fmt.Errorf("storage.prune_schedule: %w", err)
	}
	r.prune(ctx)
	c.Start()
	r.cron = c
	r.log.Info("run history retention enabled",
		logx.Duration("keep", r.keep),
		logx.String("schedule", spec),
		logx.Time("next", c.Entry(id).Next),
	)
	return nil
}

func (r *retention) stop(ctx context.Context) {
	if r.cron == nil {
		return
	}
	select {
	case <-r.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...interface{}) {
	l.log.Debug("cron: "+msg, logx.Any("kv", kv))
}

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	l.log.Warn("cron: "+msg, logx.Err(err), logx.Any("kv", kv))
}
