package schedule

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	logx "subwatch/pkg/logx"
)

// RunFunc is one loop iteration. A positive retry overrides the schedule
// for the next wait.
type RunFunc func(ctx context.Context) (retry time.Duration, err error)

// Loop runs fn immediately and then at every activation of sched until
// ctx is done. Errors and panics are logged and never end the loop.
func Loop(ctx context.Context, log logx.Logger, name string, sched Schedule, fn RunFunc) {
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("loop", name))
	log.Info("loop started", logx.String("schedule", sched.String()))

	for {
		retry, err := runOnce(ctx, fn)
		if ctx.Err() != nil {
			log.Info("loop stopped")
			return
		}
		if err != nil {
			log.Error("loop iteration failed", logx.Err(err))
		}

		now := time.Now()
		wait := sched.Next(now).Sub(now)
		if retry > 0 {
			wait = retry
			log.Warn("retrying later", logx.Duration("after", retry))
		}
		if wait < 0 {
			wait = 0
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			log.Info("loop stopped")
			return
		case <-t.C:
		}
	}
}

func runOnce(ctx context.Context, fn RunFunc) (retry time.Duration, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn(ctx)
}
