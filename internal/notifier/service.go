package notifier

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"subwatch/internal/observability/metrics"
	kit "subwatch/internal/transport"
	logx "subwatch/pkg/logx"
	"subwatch/pkg/tgui"
)

var ErrNoAdapter = errors.New("notifier has no adapter")

// Service is safe for concurrent use.
type Service struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	adapter kit.Adapter
	log     logx.Logger
	metrics *metrics.Metrics

	// slot admits one broadcast mention at a time.
	slot chan struct{}
}

func New(cfg Config, adapter kit.Adapter, m *metrics.Metrics, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		adapter: adapter,
		log:     log.With(logx.String("comp", "notifier")),
		metrics: m,
		slot:    make(chan struct{}, 1),
	}
	s.applyLocked(cfg)
	return s
}

// Apply swaps the delivery settings. In-flight sends keep the old ones.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 20
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.BroadcastTTL < 0 {
		cfg.BroadcastTTL = 0
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	s.cfg = cfg
	burst := int(cfg.RatePerSec)
	if burst < 1 {
		burst = 1
	}
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
}

func (s *Service) snapshot() (Config, *rate.Limiter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg, s.limiter
}

// NotifyUpdate sends u: the banner message alone when u has no groups,
// otherwise the mention, the banner and one message per group. The first
// failure aborts the rest and is returned.
func (s *Service) NotifyUpdate(ctx context.Context, u Update) (err error) {
	if u.ExtraInfo == "" && len(u.Groups) == 0 {
		return nil
	}
	defer func() { s.metrics.ObserveNotification("update", err) }()

	cfg, _ := s.snapshot()
	to := kit.ChatTarget{ChatID: u.Chat, ThreadID: u.Thread}
	log := s.log.With(logx.String("server", u.Server), logx.Int64("chat", u.Chat))

	if len(u.Groups) == 0 {
		_, err := s.send(ctx, to, headerMessage(u.ExtraInfo, false, u.At, cfg.Location), false)
		return err
	}

	silent, err := s.broadcast(ctx, to, updateMention, log)
	if err != nil {
		return err
	}
	if _, err := s.send(ctx, to, headerMessage(u.ExtraInfo, true, u.At, cfg.Location), silent); err != nil {
		return err
	}
	var last kit.MessageRef
	for _, g := range u.Groups {
		ref, err := s.send(ctx, to, groupMessage(g), silent)
		if err != nil {
			return fmt.Errorf("group %q: %w", g.Title, err)
		}
		last = ref
	}
	if !u.Groups[len(u.Groups)-1].Classless() {
		s.react(ctx, last, log)
	}
	log.Debug("update delivered", logx.Int("groups", len(u.Groups)))
	return nil
}

// react marks ref with updateReaction when the adapter supports it.
// Failures are logged only.
func (s *Service) react(ctx context.Context, ref kit.MessageRef, log logx.Logger) {
	r, ok := s.adapter.(kit.Reactor)
	if !ok || ref.MessageID == 0 {
		return
	}
	cfg, lim := s.snapshot()
	if err := lim.Wait(ctx); err != nil {
		return
	}
	rctx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
	defer cancel()
	if err := r.React(rctx, ref, updateReaction); err != nil {
		log.Debug("reaction failed", logx.Err(err))
	}
}

// NotifySummary sends the year-end summary preceded by a mention.
func (s *Service) NotifySummary(ctx context.Context, sum Summary) (err error) {
	defer func() { s.metrics.ObserveNotification("summary", err) }()

	to := kit.ChatTarget{ChatID: sum.Chat, ThreadID: sum.Thread}
	log := s.log.With(logx.String("server", sum.Server), logx.Int64("chat", sum.Chat))

	silent, err := s.broadcast(ctx, to, summaryMention, log)
	if err != nil {
		return err
	}
	_, err = s.send(ctx, to, summaryMessage(sum.View), silent)
	return err
}

// Reply sends markdown to a chat without a mention.
func (s *Service) Reply(ctx context.Context, to kit.ChatTarget, markdown string) (err error) {
	defer func() { s.metrics.ObserveNotification("reply", err) }()
	_, err = s.send(ctx, to, markdown, false)
	return err
}

// broadcast posts a loud mention and removes it after BroadcastTTL while
// holding the process-wide slot. It reports whether the mention went out,
// in which case the following messages are sent silently.
func (s *Service) broadcast(ctx context.Context, to kit.ChatTarget, text string, log logx.Logger) (bool, error) {
	if s.adapter == nil {
		return false, ErrNoAdapter
	}
	ok, err := s.adapter.CanBroadcast(ctx, to.ChatID)
	if err != nil {
		log.Warn("broadcast permission check failed, mention skipped", logx.Err(err))
		return false, nil
	}
	if !ok {
		log.Warn("missing rights for a broadcast mention, mention skipped")
		return false, nil
	}

	select {
	case s.slot <- struct{}{}:
	case <-ctx.Done():
		return false, ctx.Err()
	}
	defer func() { <-s.slot }()

	cfg, _ := s.snapshot()
	ref, err := s.sendHTML(ctx, to, tgui.B(text), false)
	if err != nil {
		return false, fmt.Errorf("mention: %w", err)
	}

	t := time.NewTimer(cfg.BroadcastTTL)
	select {
	case <-t.C:
	case <-ctx.Done():
		t.Stop()
	}
	// The mention is removed even when ctx is done.
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.SendTimeout)
	defer cancel()
	if err := s.adapter.Delete(dctx, ref); err != nil {
		log.Debug("mention delete failed", logx.Err(err))
	}
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	return true, nil
}

// send renders markdown in chunks cut on entry boundaries and returns the
// last message sent.
func (s *Service) send(ctx context.Context, to kit.ChatTarget, markdown string, silent bool) (kit.MessageRef, error) {
	var last kit.MessageRef
	for _, part := range tgui.Chunk(markdown, chunkLimit) {
		if part == "" {
			continue
		}
		ref, err := s.sendHTML(ctx, to, tgui.Markdown(part), silent)
		if err != nil {
			return kit.MessageRef{}, err
		}
		last = ref
	}
	return last, nil
}

func (s *Service) sendHTML(ctx context.Context, to kit.ChatTarget, text tgui.H, silent bool) (kit.MessageRef, error) {
	if s.adapter == nil {
		return kit.MessageRef{}, ErrNoAdapter
	}
	cfg, lim := s.snapshot()
	opts := &kit.SendOptions{ParseMode: "HTML", DisablePreview: true, Silent: silent}

	attempts := 1 + cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return kit.MessageRef{}, err
		}
		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		ref, err := s.adapter.SendText(callCtx, to, text.String(), opts)
		cancel()
		if err == nil {
			return ref, nil
		}
		lastErr = err
		if errors.Is(err, kit.ErrPermanent) || attempt >= attempts {
			break
		}

		delay := retryDelay(cfg, attempt)
		if d, ok := kit.RetryDelay(err); ok {
			delay = d
		}
		s.log.Debug("send failed, retrying",
			logx.Int64("chat", to.ChatID), logx.Int("attempt", attempt), logx.Duration("delay", delay), logx.Err(err))

		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return kit.MessageRef{}, ctx.Err()
		}
	}
	return kit.MessageRef{}, lastErr
}

func retryDelay(cfg Config, attempt int) time.Duration {
	// attempt starts at 1; the delay is for the NEXT attempt.
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	// Jitter 0.7..1.3
	j := 0.7 + rand.Float64()*0.6
	d = time.Duration(float64(d) * j)
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	return d
}
