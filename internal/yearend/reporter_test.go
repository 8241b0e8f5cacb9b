package yearend

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subwatch/internal/config"
	"subwatch/internal/notifier"
	"subwatch/internal/storage"
	logx "subwatch/pkg/logx"
)

type staticConfig struct{ cfg *config.Config }

func (s staticConfig) Snapshot() *config.Config { return s.cfg.Clone() }

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notifier.Summary
	err  error
}

func (f *fakeNotifier) NotifySummary(_ context.Context, s notifier.Summary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, s)
	return nil
}

func (f *fakeNotifier) Sent() []notifier.Summary {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]notifier.Summary(nil), f.sent...)
}

const endDate = "2025-06-27"

func setup(t *testing.T, servers map[string]config.Server) (*Reporter, storage.Store, *fakeNotifier, *config.Config) {
	t.Helper()
	cfg := config.Default()
	cfg.YearEnd = endDate
	cfg.Servers = servers
	st, err := storage.Open(storage.Config{Path: t.TempDir()}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	fn := &fakeNotifier{}
	return New(staticConfig{cfg}, st, fn, nil, logx.Nop()), st, fn, cfg
}

func warsaw(t *testing.T, s string) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Warsaw")
	require.NoError(t, err)
	ts, err := time.ParseInLocation("2006-01-02 15:04:05", s, loc)
	require.NoError(t, err)
	return ts
}

func seed(t *testing.T, st storage.Store, id string, rec storage.Record) {
	t.Helper()
	require.NoError(t, st.Write(context.Background(), id, rec))
}

func TestBeforeEndDoesNothing(t *testing.T) {
	t.Parallel()
	r, st, fn, _ := setup(t, map[string]config.Server{"a": {Channel: 1, Classes: []string{"1A"}}})
	seed(t, st, "a", storage.Record{Counter: 4, Tally: map[string]int{"Ewa Lis": 4}})

	require.NoError(t, r.Check(context.Background(), warsaw(t, "2025-06-26 23:59:59")))
	assert.Empty(t, fn.Sent())
	rec, _ := st.Read(context.Background(), "a")
	assert.Equal(t, 4, rec.Counter)
}

func TestReportAndResetOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r, st, fn, _ := setup(t, map[string]config.Server{"a": {Channel: 1, Classes: []string{"1A"}}})
	seed(t, st, "a", storage.Record{EntriesFingerprint: "fp", Counter: 4, Tally: map[string]int{"Ewa Lis": 3, "Jan Kowalski": 1}})

	now := warsaw(t, "2025-06-27 00:00:00")
	require.NoError(t, r.Check(ctx, now))
	sent := fn.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, int64(1), sent[0].Chat)
	assert.Equal(t, 4, sent[0].View.Counter)
	require.Len(t, sent[0].View.Rows, 2)
	assert.Equal(t, "Ewa Lis", sent[0].View.Rows[0].Name)

	rec, err := st.Read(ctx, "a")
	require.NoError(t, err)
	assert.Zero(t, rec.Counter)
	assert.Empty(t, rec.Tally)
	assert.Equal(t, endDate, rec.LastReport)
	assert.Equal(t, "fp", rec.EntriesFingerprint)

	require.NoError(t, r.Check(ctx, now.Add(24*time.Hour)))
	assert.Len(t, fn.Sent(), 1)
	again, _ := st.Read(ctx, "a")
	assert.Equal(t, rec, again)
}

func TestNewDateReportsAgain(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r, st, fn, cfg := setup(t, map[string]config.Server{"a": {Channel: 1, Teachers: []string{"Kowalski"}}})
	seed(t, st, "a", storage.Record{Counter: 2, Tally: map[string]int{"Jan Kowalski": 2}, LastReport: "2024-06-21"})

	require.NoError(t, r.Check(ctx, warsaw(t, "2025-07-01 12:00:00")))
	sent := fn.Sent()
	require.Len(t, sent, 1)
	assert.True(t, sent[0].View.Excluded)
	assert.True(t, sent[0].View.NoData())

	cfg.YearEnd = "2026-06-26 12:00:00"
	seed(t, st, "a", storage.Record{Counter: 1, Tally: map[string]int{"Ewa Lis": 1}, LastReport: endDate})
	require.NoError(t, r.Check(ctx, warsaw(t, "2026-06-26 11:59:59")))
	assert.Len(t, fn.Sent(), 1)
	require.NoError(t, r.Check(ctx, warsaw(t, "2026-06-26 12:00:00")))
	assert.Len(t, fn.Sent(), 2)
}

func TestZeroCounterResetsSilently(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r, st, fn, _ := setup(t, map[string]config.Server{"a": {Channel: 1, Classes: []string{"1A"}}})

	require.NoError(t, r.Check(ctx, warsaw(t, "2025-06-28 08:00:00")))
	assert.Empty(t, fn.Sent())
	rec, err := st.Read(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, endDate, rec.LastReport)
}

func TestUnconfiguredAndChannelless(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r, st, fn, _ := setup(t, map[string]config.Server{
		"bare":   {Channel: 1},
		"nochat": {Classes: []string{"1A"}},
	})
	seed(t, st, "bare", storage.Record{Counter: 5, Tally: map[string]int{"x": 5}})
	seed(t, st, "nochat", storage.Record{Counter: 5, Tally: map[string]int{"x": 5}})

	require.NoError(t, r.Check(ctx, warsaw(t, "2025-06-28 08:00:00")))
	assert.Empty(t, fn.Sent())

	bare, _ := st.Read(ctx, "bare")
	assert.Zero(t, bare.Counter)
	assert.Equal(t, endDate, bare.LastReport)
	nochat, _ := st.Read(ctx, "nochat")
	assert.Equal(t, 5, nochat.Counter)
}

func TestFailedSendKeepsRecord(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r, st, fn, _ := setup(t, map[string]config.Server{"a": {Channel: 1, Classes: []string{"1A"}}})
	seed(t, st, "a", storage.Record{Counter: 3, Tally: map[string]int{"Ewa Lis": 3}})
	fn.err = errors.New("forbidden")

	require.NoError(t, r.Check(ctx, warsaw(t, "2025-06-28 08:00:00")))
	rec, _ := st.Read(ctx, "a")
	assert.Equal(t, 3, rec.Counter)
	assert.Empty(t, rec.LastReport)
}

func TestConfigErrorsBackOff(t *testing.T) {
	t.Parallel()
	r, _, _, cfg := setup(t, map[string]config.Server{})

	cfg.YearEnd = ""
	err := r.Check(context.Background(), time.Now())
	require.ErrorIs(t, err, ErrConfig)

	cfg.YearEnd = "27.06.2025"
	retry, err := r.tick(context.Background())
	require.ErrorIs(t, err, ErrConfig)
	assert.Equal(t, time.Hour, retry)
}
