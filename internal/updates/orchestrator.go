// Package updates runs the polling cycle: fetch every school once, select
// each subscriber's rows, notify changed subscribers and persist their new
// state.
package updates

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"subwatch/internal/config"
	"subwatch/internal/document"
	"subwatch/internal/extract"
	"subwatch/internal/fetcher"
	"subwatch/internal/fingerprint"
	"subwatch/internal/notifier"
	"subwatch/internal/observability/metrics"
	"subwatch/internal/schedule"
	"subwatch/internal/storage"
	logx "subwatch/pkg/logx"
)

type Fetcher interface {
	Fetch(ctx context.Context, url, encoding string) (*document.Element, error)
}

type Notifier interface {
	NotifyUpdate(ctx context.Context, u notifier.Update) error
}

// ConfigSource hands out configuration snapshots.
type ConfigSource interface {
	Snapshot() *config.Config
}

type Orchestrator struct {
	cfg     ConfigSource
	fetch   Fetcher
	store   storage.Store
	notify  Notifier
	metrics *metrics.Metrics
	log     logx.Logger

	now func() time.Time
}

func New(cfg ConfigSource, f Fetcher, st storage.Store, n Notifier, m *metrics.Metrics, log logx.Logger) *Orchestrator {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Orchestrator{
		cfg:     cfg,
		fetch:   f,
		store:   st,
		notify:  n,
		metrics: m,
		log:     log.With(logx.String("comp", "updates")),
		now:     time.Now,
	}
}

// Run cycles on schedule.updates until ctx is done.
func (o *Orchestrator) Run(ctx context.Context) error {
	cfg := o.cfg.Snapshot()
	loc, err := cfg.Schedule.Location()
	if err != nil {
		return err
	}
	sched, err := schedule.Compile(cfg.Schedule.UpdatesOrDefault(), loc)
	if err != nil {
		return fmt.Errorf("schedule.updates: %w", err)
	}
	schedule.Loop(ctx, o.log, "updates", sched, o.Cycle)
	return ctx.Err()
}

// Cycle polls every school once. Schools run concurrently; subscribers of
// all schools share one bounded pool.
func (o *Orchestrator) Cycle(ctx context.Context) (time.Duration, error) {
	start := o.now()
	cfg := o.cfg.Snapshot()
	log := o.log.With(logx.String("cycle", uuid.NewString()))

	sem := semaphore.NewWeighted(int64(cfg.Schedule.ConcurrencyOrDefault()))
	var g errgroup.Group
	for _, id := range cfg.SchoolIDs() {
		id := id
		g.Go(func() error {
			o.runSchool(ctx, log, cfg, id, sem)
			return nil
		})
	}
	_ = g.Wait()

	d := time.Since(start)
	o.metrics.ObserveCycle(d)
	log.Debug("cycle finished", logx.Duration("took", d))
	return 0, nil
}

func (o *Orchestrator) runSchool(ctx context.Context, log logx.Logger, cfg *config.Config, id string, sem *semaphore.Weighted) {
	log = log.With(logx.String("school", id))
	school := cfg.Schools[id]
	servers := cfg.ServersForSchool(id)
	if len(servers) == 0 {
		return
	}
	if school.URL == "" {
		log.Warn("school has no url, skipped")
		return
	}

	started := time.Now()
	doc, err := o.fetch.Fetch(ctx, school.URL, school.Encoding)
	o.metrics.ObserveFetch(id, fetcher.Label(err), time.Since(started))
	if err != nil {
		if ctx.Err() == nil {
			log.Warn("fetch failed, school skipped", logx.String("category", fetcher.Label(err)), logx.Err(err))
		}
		return
	}

	page := extract.Scan(doc)
	known := school.KnownClasses()

	var g errgroup.Group
	for _, sid := range servers {
		sid := sid
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		srv := cfg.Servers[sid]
		g.Go(func() error {
			defer sem.Release(1)
			o.safeProcess(ctx, log, id, page, sid, srv, known)
			return nil
		})
	}
	_ = g.Wait()
}

// safeProcess isolates one subscriber: errors and panics are logged and
// never reach siblings.
func (o *Orchestrator) safeProcess(ctx context.Context, log logx.Logger, school string, page *extract.Page, id string, srv config.Server, known []string) {
	log = log.With(logx.String("server", id))
	defer func() {
		if r := recover(); r != nil {
			log.Error("server processing panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	if err := o.processServer(ctx, log, school, page, id, srv, known); err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Error("server update failed", logx.Int64("chat", srv.Channel), logx.Err(err))
	}
}

func (o *Orchestrator) processServer(ctx context.Context, log logx.Logger, school string, page *extract.Page, id string, srv config.Server, known []string) error {
	if srv.Channel == 0 {
		log.Debug("server has no channel, skipped")
		return nil
	}
	if !srv.Configured() {
		log.Debug("server has no filters, skipped")
		return nil
	}

	res := page.Select(extract.Filters{Classes: srv.Classes, Teachers: srv.Teachers, KnownClasses: known})
	infoFP := fingerprint.Text(res.ExtraInfo)
	entriesFP := fingerprint.Groups(res.Groups)

	rec, err := o.store.Read(ctx, id)
	if err != nil {
		return fmt.Errorf("read record: %w", err)
	}
	infoChanged := rec.ExtraInfoFingerprint != infoFP
	entriesChanged := rec.EntriesFingerprint != entriesFP
	if !infoChanged && !entriesChanged {
		log.Debug("no changes")
		return nil
	}

	u := notifier.Update{
		Chat:      srv.Channel,
		Server:    id,
		ExtraInfo: res.ExtraInfo,
		At:        o.now(),
	}
	if entriesChanged {
		u.Groups = res.Groups
	}
	// Persisting only after delivery resends the delta on failure.
	if err := o.notify.NotifyUpdate(ctx, u); err != nil {
		return fmt.Errorf("notify: %w", err)
	}

	added := 0
	err = o.store.Update(ctx, id, func(r *storage.Record) error {
		r.ExtraInfoFingerprint = infoFP
		r.EntriesFingerprint = entriesFP
		if entriesChanged {
			added = extract.CountEntries(res.Groups)
			r.Counter += added
			r.AddTally(extract.Tally(res.Groups))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("persist record: %w", err)
	}
	o.metrics.AddSubstitutions(school, added)
	log.Info("update delivered",
		logx.Bool("extra_info_changed", infoChanged),
		logx.Bool("entries_changed", entriesChanged),
		logx.Int("groups", len(u.Groups)),
		logx.Int("added", added))
	return nil
}
