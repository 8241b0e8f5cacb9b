package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"subwatch/internal/storage"
	logx "subwatch/pkg/logx"
)

// Store owns the configuration document. Readers take snapshots; writers
// go through Update, which persists atomically before publishing.
type Store struct {
	path string

	mu  sync.RWMutex
	cfg *Config

	// writeMu serializes Update so two writers never persist stale copies.
	writeMu sync.Mutex

	// subsMu guards subs and keeps publish from sending on a channel
	// that Unsubscribe is closing.
	subsMu sync.Mutex
	subs   []chan *Config

	log       logx.Logger
	validator func(ctx context.Context, cfg *Config) error

	// lastHash is the content hash of the committed config. Editors often
	// fire several events for one save.
	lastHash uint64
}

func NewStore(path string) *Store {
	return &Store{path: path, log: logx.Nop()}
}

func (s *Store) SetLogger(log logx.Logger) {
	if log.IsZero() {
		log = logx.Nop()
	}
	s.log = log
}

// SetValidator installs the hook Watch runs before committing a reload.
func (s *Store) SetValidator(fn func(ctx context.Context, cfg *Config) error) {
	s.validator = fn
}

func (s *Store) Path() string { return s.path }

// Parse reads and strictly decodes the file without committing it.
func (s *Store) Parse() (*Config, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	jb, err := coerceToJSONBytes(s.path, b)
	if err != nil {
		return nil, err
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	// reject trailing tokens (e.g. concatenated JSON)
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("invalid config: trailing data")
		}
		return nil, err
	}
	if cfg.Servers == nil {
		cfg.Servers = map[string]Server{}
	}
	if cfg.Schools == nil {
		cfg.Schools = map[string]School{}
	}
	return &cfg, nil
}

// Load reads the file and commits it. A missing file is replaced by the
// default document; an outdated version field is rewritten.
func (s *Store) Load() (*Config, error) {
	cfg, err := s.Parse()
	if errors.Is(err, fs.ErrNotExist) {
		cfg = Default()
		if err := s.persist(cfg); err != nil {
			return nil, err
		}
		s.log.Warn("config file created with default content; fill in the missing values",
			logx.String("path", s.path))
		s.Commit(cfg)
		return cfg.Clone(), nil
	}
	if err != nil {
		return nil, err
	}

	if cfg.Version != Version {
		s.log.Warn("updating config version",
			logx.String("from", cfg.Version), logx.String("to", Version))
		cfg.Version = Version
		if err := s.persist(cfg); err != nil {
			return nil, err
		}
	}
	s.Commit(cfg)
	return cfg.Clone(), nil
}

func (s *Store) Commit(cfg *Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.lastHash = hashConfig(cfg)
	s.mu.Unlock()
}

// Snapshot returns a deep copy of the committed config, or nil before Load.
func (s *Store) Snapshot() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Clone()
}

func (s *Store) Server(id string) (Server, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cfg == nil {
		return Server{}, false
	}
	srv, ok := s.cfg.Servers[id]
	if ok {
		srv.Classes = cloneStrings(srv.Classes)
		srv.Teachers = cloneStrings(srv.Teachers)
	}
	return srv, ok
}

func (s *Store) School(id string) (School, bool) {
	snap := s.Snapshot()
	if snap == nil {
		return School{}, false
	}
	sc, ok := snap.Schools[id]
	return sc, ok
}

// Update applies fn to a copy of the config, persists it and then commits
// and publishes it. If fn or the write fails nothing changes.
func (s *Store) Update(fn func(*Config) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	next := s.Snapshot()
	if next == nil {
		return errors.New("config not loaded")
	}
	if err := fn(next); err != nil {
		return err
	}
	if err := s.persist(next); err != nil {
		return err
	}
	s.Commit(next)
	s.publish(next)
	return nil
}

// RemoveServer drops a server from the config. It reports whether the
// server existed.
func (s *Store) RemoveServer(id string) (bool, error) {
	found := false
	err := s.Update(func(c *Config) error {
		if _, ok := c.Servers[id]; ok {
			delete(c.Servers, id)
			found = true
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	if found {
		s.log.Info("server removed from config", logx.String("server", id))
	} else {
		s.log.Warn("server not found in config", logx.String("server", id))
	}
	return found, nil
}

func (s *Store) persist(cfg *Config) error {
	b, err := encode(s.path, cfg)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return storage.WriteFileAtomic(s.path, b, s.log)
}

func marshalJSON(cfg *Config) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(cfg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func hashConfig(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil || len(b) == 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

func (s *Store) Subscribe(buffer int) chan *Config {
	ch := make(chan *Config, buffer)
	s.subsMu.Lock()
	s.subs = append(s.subs, ch)
	s.subsMu.Unlock()
	return ch
}

func (s *Store) Unsubscribe(ch chan *Config) {
	if ch == nil {
		return
	}
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for i, c := range s.subs {
		if c == ch {
			last := len(s.subs) - 1
			s.subs[i] = s.subs[last]
			s.subs[last] = nil
			s.subs = s.subs[:last]
			close(ch)
			return
		}
	}
}

// publish delivers the latest config to every subscriber. A full buffer
// loses its oldest item.
func (s *Store) publish(cfg *Config) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- cfg.Clone():
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- cfg.Clone():
		default:
			s.log.Debug("config update dropped (subscriber slow)",
				logx.Int("queue_len", len(ch)), logx.Int("queue_cap", cap(ch)))
		}
	}
}

// reload parses, validates, commits and publishes the file if its
// content changed.
func (s *Store) reload(ctx context.Context) {
	cfg, err := s.Parse()
	if err != nil {
		s.log.Warn("config parse failed", logx.String("path", s.path), logx.Err(err))
		return
	}

	h := hashConfig(cfg)
	s.mu.RLock()
	unchanged := h != 0 && h == s.lastHash
	s.mu.RUnlock()
	if unchanged {
		s.log.Debug("config unchanged; skipping publish", logx.String("path", s.path))
		return
	}

	if s.validator != nil {
		vctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := s.validator(vctx, cfg)
		cancel()
		if err != nil {
			s.log.Warn("config rejected", logx.String("path", s.path), logx.Err(err))
			return
		}
	}

	s.writeMu.Lock()
	s.Commit(cfg)
	s.publish(cfg)
	s.writeMu.Unlock()
	s.log.Debug("config published", logx.String("path", s.path), logx.String("hash", fmt.Sprintf("%x", h)))
}

// Watch reloads the file on change until ctx is done. A broken watcher is
// recreated with jittered exponential backoff.
func (s *Store) Watch(ctx context.Context) error {
	dir := filepath.Dir(s.path)
	file := filepath.Base(s.path)

	const (
		restartBackoffBase = 250 * time.Millisecond
		restartBackoffMax  = 5 * time.Second
		debounceDelay      = 250 * time.Millisecond
	)
	backoff := restartBackoffBase
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	nextWait := func() time.Duration {
		wait := backoff + time.Duration(rng.Int63n(int64(backoff/2)+1))
		backoff *= 2
		if backoff > restartBackoffMax {
			backoff = restartBackoffMax
		}
		return wait
	}
	sleep := func(d time.Duration) bool {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return false
		case <-t.C:
			return true
		}
	}

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	debounce := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounceDelay, func() { s.reload(ctx) })
	}
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	for ctx.Err() == nil {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			s.log.Warn("config watch init failed", logx.Err(err), logx.String("dir", dir))
			if !sleep(nextWait()) {
				return nil
			}
			continue
		}
		if err := w.Add(dir); err != nil {
			_ = w.Close()
			s.log.Warn("config watch add failed", logx.Err(err), logx.String("dir", dir))
			if !sleep(nextWait()) {
				return nil
			}
			continue
		}

		backoff = restartBackoffBase
		s.log.Debug("config watcher started", logx.String("dir", dir), logx.String("file", file))

		broken := false
		for !broken {
			select {
			case <-ctx.Done():
				_ = w.Close()
				return nil
			case ev, ok := <-w.Events:
				if !ok {
					broken = true
					break
				}
				if strings.EqualFold(filepath.Base(ev.Name), file) &&
					ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove|fsnotify.Chmod) != 0 {
					debounce()
				}
			case err, ok := <-w.Errors:
				if !ok {
					broken = true
					break
				}
				if err == nil {
					continue
				}
				if errors.Is(err, fsnotify.ErrEventOverflow) {
					s.log.Warn("config watch overflow; forcing reload", logx.Err(err))
					debounce()
					continue
				}
				s.log.Warn("config watch error", logx.Err(err), logx.String("dir", dir))
			}
		}

		_ = w.Close()
		wait := nextWait()
		s.log.Warn("config watcher stopped; restarting",
			logx.String("dir", dir), logx.Duration("backoff", wait))
		if !sleep(wait) {
			return nil
		}
	}
	return nil
}
