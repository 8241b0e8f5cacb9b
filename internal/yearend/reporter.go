// Package yearend sends the school-year summary to every server once the
// configured end date has passed, then resets the yearly statistics.
package yearend

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"subwatch/internal/config"
	"subwatch/internal/notifier"
	"subwatch/internal/observability/metrics"
	"subwatch/internal/schedule"
	"subwatch/internal/stats"
	"subwatch/internal/storage"
	logx "subwatch/pkg/logx"
)

// ErrConfig marks a missing or malformed end date. Run backs off
// schedule.retry on it.
var ErrConfig = errors.New("year end not configured")

type Notifier interface {
	NotifySummary(ctx context.Context, s notifier.Summary) error
}

type ConfigSource interface {
	Snapshot() *config.Config
}

type Reporter struct {
	cfg     ConfigSource
	store   storage.Store
	notify  Notifier
	metrics *metrics.Metrics
	log     logx.Logger

	now func() time.Time
}

func New(cfg ConfigSource, st storage.Store, n Notifier, m *metrics.Metrics, log logx.Logger) *Reporter {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Reporter{
		cfg:     cfg,
		store:   st,
		notify:  n,
		metrics: m,
		log:     log.With(logx.String("comp", "yearend")),
		now:     time.Now,
	}
}

// Run checks on schedule.year_end until ctx is done.
func (r *Reporter) Run(ctx context.Context) error {
	cfg := r.cfg.Snapshot()
	loc, err := cfg.Schedule.Location()
	if err != nil {
		return err
	}
	sched, err := schedule.Compile(cfg.Schedule.YearEndOrDefault(), loc)
	if err != nil {
		return fmt.Errorf("schedule.year_end: %w", err)
	}
	schedule.Loop(ctx, r.log, "yearend", sched, r.tick)
	return ctx.Err()
}

func (r *Reporter) tick(ctx context.Context) (time.Duration, error) {
	err := r.Check(ctx, r.now())
	if errors.Is(err, ErrConfig) {
		return r.cfg.Snapshot().Schedule.RetryOrDefault(), err
	}
	return 0, err
}

// Check reports and resets every server when now is at or past the end
// date. It is idempotent per distinct end date value.
func (r *Reporter) Check(ctx context.Context, now time.Time) error {
	cfg := r.cfg.Snapshot()
	loc, err := cfg.Schedule.Location()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}
	date := strings.TrimSpace(cfg.YearEnd)
	end, err := config.ParseYearEnd(date, loc)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if now.Before(end) {
		r.log.Debug("school year still running", logx.Time("end", end))
		return nil
	}

	for _, id := range cfg.ServerIDs() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		srv := cfg.Servers[id]
		if srv.Channel == 0 {
			continue
		}
		r.safeCheck(ctx, id, srv, date)
	}
	return nil
}

func (r *Reporter) safeCheck(ctx context.Context, id string, srv config.Server, date string) {
	log := r.log.With(logx.String("server", id), logx.String("date", date))
	defer func() {
		if p := recover(); p != nil {
			log.Error("year-end check panicked", logx.Any("panic", p), logx.Stack(string(debug.Stack())))
		}
	}()
	outcome, err := r.checkServer(ctx, id, srv, date)
	r.metrics.ObserveReport(outcome)
	switch {
	case err != nil:
		log.Error("year-end report failed", logx.Int64("chat", srv.Channel), logx.Err(err))
	case outcome == "sent":
		log.Info("year-end report delivered")
	case outcome == "reset":
		log.Info("yearly statistics reset")
	}
}

func (r *Reporter) checkServer(ctx context.Context, id string, srv config.Server, date string) (string, error) {
	rec, err := r.store.Read(ctx, id)
	if err != nil {
		return "failed", fmt.Errorf("read record: %w", err)
	}

	if rec.Counter == 0 {
		if rec.LastReport == date && len(rec.Tally) == 0 {
			return "skipped", nil
		}
		if err := r.reset(ctx, id, date); err != nil {
			return "failed", err
		}
		return "reset", nil
	}
	if rec.LastReport == date {
		return "skipped", nil
	}

	view := stats.Build(rec, srv, stats.SummaryLimit)
	outcome := "reset"
	if !view.Unconfigured {
		err := r.notify.NotifySummary(ctx, notifier.Summary{Chat: srv.Channel, Server: id, View: view})
		if err != nil {
			return "failed", fmt.Errorf("notify: %w", err)
		}
		outcome = "sent"
	}
	if err := r.reset(ctx, id, date); err != nil {
		return "failed", err
	}
	return outcome, nil
}

func (r *Reporter) reset(ctx context.Context, id, date string) error {
	err := r.store.Update(ctx, id, func(rec *storage.Record) error {
		rec.Reset(date)
		return nil
	})
	if err != nil {
		return fmt.Errorf("reset record: %w", err)
	}
	return nil
}
