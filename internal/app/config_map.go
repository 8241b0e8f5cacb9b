package app

import (
	"time"

	"subwatch/internal/config"
	"subwatch/internal/fetcher"
	"subwatch/internal/notifier"
	"subwatch/internal/observability/metrics"
	"subwatch/internal/storage"
	telegram "subwatch/internal/transport/telegram/adapter"
)

func mapStorageConfig(cfg *config.Config) storage.Config {
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.PathOrDefault(),
		BusyTimeout: cfg.Storage.BusyTimeoutOrDefault(),
	}
}

func mapFetchOptions(cfg *config.Config) fetcher.Options {
	return fetcher.Options{
		Timeout:   cfg.Fetch.TimeoutOrDefault(),
		UserAgent: cfg.Fetch.UserAgentOrDefault(),
	}
}

func mapTelegramConfig(cfg *config.Config) telegram.Config {
	return telegram.Config{
		Token:       cfg.BotToken(),
		PollTimeout: cfg.Telegram.PollTimeoutOrDefault(),
	}
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	loc, err := cfg.Schedule.Location()
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		RatePerSec:   cfg.Telegram.RatePerSecOrDefault(),
		RetryMax:     cfg.Telegram.RetryMaxOrDefault(),
		BroadcastTTL: cfg.Telegram.BroadcastTTLOrDefault(),
		SendTimeout:  10 * time.Second,
		Location:     loc,
	}, nil
}

func mapMetricsConfig(cfg *config.Config) metrics.Config {
	return metrics.Config{
		Enabled: cfg.Metrics.Enabled,
		Addr:    cfg.Metrics.AddrOrDefault(),
		Pprof:   cfg.Metrics.Pprof,
	}
}

// removedServers lists the server ids present in oldCfg but not in newCfg.
func removedServers(oldCfg, newCfg *config.Config) []string {
	if oldCfg == nil || newCfg == nil {
		return nil
	}
	var out []string
	for _, id := range oldCfg.ServerIDs() {
		if _, ok := newCfg.Servers[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}
