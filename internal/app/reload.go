package app

import (
	"context"
	"slices"
	"strings"

	"subwatch/internal/config"
	logx "subwatch/pkg/logx"
)

// reloadLoop applies published config snapshots until ctx is done.
func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	lastApplied := a.cfgm.Snapshot()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.apply(ctx, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) apply(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	a.log.Debug("config change summary",
		append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)

	if slices.Contains(sections, "logging") {
		a.logs.Apply(newCfg.Logging.Logx())
	}
	if slices.Contains(sections, "storage") {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}
	if slices.Contains(sections, "telegram") {
		if oldCfg.BotToken() != newCfg.BotToken() || oldCfg.Telegram.PollTimeout != newCfg.Telegram.PollTimeout {
			a.log.Warn("telegram token or poll timeout changed; restart required for changes to take effect")
		}
	}
	if slices.Contains(sections, "fetch") {
		a.log.Warn("fetch config changed; restart required for changes to take effect")
	}

	if ncfg, err := mapNotifierConfig(newCfg); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(ncfg)
	}

	if slices.Contains(sections, "metrics") {
		a.msrv.Reconfigure(ctx, mapMetricsConfig(newCfg))
	}

	if slices.Contains(sections, "schedule") {
		grace := newCfg.Schedule.ShutdownGraceOrDefault()
		sctx, cancel := context.WithTimeout(ctx, grace)
		if err := a.stopLoops(sctx); err != nil {
			a.log.Warn("loops did not stop within grace", logx.Err(err))
		}
		cancel()
		if ctx.Err() == nil {
			a.startLoops(ctx)
			a.log.Info("loops restarted with new schedule",
				logx.String("updates", newCfg.Schedule.UpdatesOrDefault()),
				logx.String("year_end", newCfg.Schedule.YearEndOrDefault()))
		}
	}

	// A removed server takes its persisted state with it.
	for _, id := range removedServers(oldCfg, newCfg) {
		if err := a.store.Delete(ctx, id); err != nil {
			a.log.Warn("delete removed server state failed", logx.String("server", id), logx.Err(err))
			continue
		}
		a.log.Info("removed server state deleted", logx.String("server", id))
	}

	a.log.Info("config reloaded",
		append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)
}
