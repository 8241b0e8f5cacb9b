package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	logx "subwatch/pkg/logx"
)

// fileStore keeps one JSON document per tenant.
//
// Files per tenant:
//   - <id>.json      live record
//   - <id>.json.tmp  in-flight write, never read
//   - <id>.json.old  previous record
//   - <id>.json.bad  last record that failed to decode
type fileStore struct {
	dir    string
	log    logx.Logger
	locks  KeyedMutex
	closed atomic.Bool
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	dir := strings.TrimSpace(cfg.Path)
	if dir == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &fileStore{dir: dir, log: log}, nil
}

func (s *fileStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *fileStore) lock(ctx context.Context, id string) (func(), error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if err := validID(id); err != nil {
		return nil, err
	}
	return s.locks.Lock(ctx, id)
}

func (s *fileStore) Read(ctx context.Context, id string) (Record, error) {
	unlock, err := s.lock(ctx, id)
	if err != nil {
		return Record{}, err
	}
	defer unlock()
	return s.readLocked(id)
}

func (s *fileStore) Write(ctx context.Context, id string, rec Record) error {
	unlock, err := s.lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()
	return s.writeLocked(id, rec)
}

func (s *fileStore) Update(ctx context.Context, id string, fn func(*Record) error) error {
	unlock, err := s.lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	rec, err := s.readLocked(id)
	if err != nil {
		return err
	}
	if err := fn(&rec); err != nil {
		return err
	}
	return s.writeLocked(id, rec)
}

func (s *fileStore) Delete(ctx context.Context, id string) error {
	unlock, err := s.lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	p := s.path(id)
	var errs []error
	for _, f := range []string{p, p + ".tmp", p + ".old", p + ".bad"} {
		if err := removeIfExists(f); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *fileStore) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *fileStore) readLocked(id string) (Record, error) {
	p := s.path(id)
	b, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return emptyRecord(), nil
	}
	if err != nil {
		return Record{}, err
	}

	rec, err := decodeRecord(b)
	if err != nil {
		// Quarantine so the next write starts clean and the bad bytes survive.
		if rerr := os.Rename(p, p+".bad"); rerr != nil {
			s.log.Error("quarantine failed", logx.String("tenant", id), logx.Err(rerr))
		}
		s.log.Error("corrupt record quarantined",
			logx.String("tenant", id), logx.String("path", p+".bad"), logx.Err(err))
		return emptyRecord(), nil
	}
	return rec, nil
}

func (s *fileStore) writeLocked(id string, rec Record) error {
	b, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	return WriteFileAtomic(s.path(id), b, s.log)
}

func emptyRecord() Record {
	return Record{Tally: map[string]int{}}
}

func decodeRecord(b []byte) (Record, error) {
	var rec Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return Record{}, err
	}
	rec.normalize()
	return rec, nil
}

func encodeRecord(rec Record) ([]byte, error) {
	rec.normalize()
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(rec); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
