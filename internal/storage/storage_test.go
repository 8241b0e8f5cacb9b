package storage

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "subwatch/pkg/logx"
)

func openTest(t *testing.T, driver string) Store {
	t.Helper()
	dir := t.TempDir()
	path := dir
	if driver == "sqlite" {
		path = filepath.Join(dir, "records.db")
	}
	st, err := Open(Config{Driver: driver, Path: path}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestMissingRecordIsEmpty(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"file", "sqlite"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			st := openTest(t, driver)
			rec, err := st.Read(context.Background(), "szkola-1")
			require.NoError(t, err)
			assert.Equal(t, Record{Tally: map[string]int{}}, rec)
		})
	}
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"file", "sqlite"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			st := openTest(t, driver)
			ctx := context.Background()
			want := Record{
				ExtraInfoFingerprint: "a",
				EntriesFingerprint:   "b",
				Counter:              7,
				Tally:                map[string]int{"Jan Kowalski": 3},
				LastReport:           "2026-06-26",
			}
			require.NoError(t, st.Write(ctx, "s1", want))
			got, err := st.Read(ctx, "s1")
			require.NoError(t, err)
			assert.Equal(t, want, got)

			require.NoError(t, st.Delete(ctx, "s1"))
			got, err = st.Read(ctx, "s1")
			require.NoError(t, err)
			assert.Zero(t, got.Counter)
		})
	}
}

func TestInvalidTenantID(t *testing.T) {
	t.Parallel()
	st := openTest(t, "file")
	for _, id := range []string{"", "../etc", ".hidden", "a/b", "a b"} {
		_, err := st.Read(context.Background(), id)
		assert.ErrorIs(t, err, ErrInvalidID, "id=%q", id)
	}
}

func TestFileLayoutAndBackup(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	st, err := Open(Config{Path: dir}, logx.Nop())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, st.Write(ctx, "s1", Record{Counter: 1}))
	require.NoError(t, st.Write(ctx, "s1", Record{Counter: 2}))

	live, err := os.ReadFile(filepath.Join(dir, "s1.json"))
	require.NoError(t, err)
	assert.Contains(t, string(live), `    "licznik-zastepstw": 2`)
	assert.Contains(t, string(live), `"statystyki-nauczycieli": {}`)

	old, err := os.ReadFile(filepath.Join(dir, "s1.json.old"))
	require.NoError(t, err)
	assert.Contains(t, string(old), `"licznik-zastepstw": 1`)

	assert.NoFileExists(t, filepath.Join(dir, "s1.json.tmp"))
}

func TestStaleTempIsIgnored(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	st, err := Open(Config{Path: dir}, logx.Nop())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, st.Write(ctx, "s1", Record{Counter: 4}))
	// Leftover from an interrupted write.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "s1.json.tmp"), []byte(`{"licznik-zastepstw": 99}`), 0o600))

	rec, err := st.Read(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 4, rec.Counter)
}

func TestCorruptRecordQuarantined(t *testing.T) {
	t.Parallel()
	t.Run("file", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		st, err := Open(Config{Path: dir}, logx.Nop())
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "s1.json"), []byte("{nie json"), 0o600))

		rec, err := st.Read(context.Background(), "s1")
		require.NoError(t, err)
		assert.Zero(t, rec.Counter)
		assert.NoFileExists(t, filepath.Join(dir, "s1.json"))

		bad, err := os.ReadFile(filepath.Join(dir, "s1.json.bad"))
		require.NoError(t, err)
		assert.Equal(t, "{nie json", string(bad))
	})

	t.Run("sqlite", func(t *testing.T) {
		t.Parallel()
		st := openTest(t, "sqlite")
		db := st.(*sqliteStore).db
		ctx := context.Background()
		_, err := db.ExecContext(ctx,
			`INSERT INTO records(id, data, updated_at) VALUES(?,?,?)`,
			"s1", "{nie json", time.Now().UTC().Format(time.RFC3339Nano))
		require.NoError(t, err)

		rec, err := st.Read(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, Record{Tally: map[string]int{}}, rec)

		var live int
		require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records WHERE id = ?`, "s1").Scan(&live))
		assert.Zero(t, live)

		var data, reason string
		require.NoError(t, db.QueryRowContext(ctx,
			`SELECT data, err FROM records_bad WHERE id = ?`, "s1").Scan(&data, &reason))
		assert.Equal(t, "{nie json", data)
		assert.NotEmpty(t, reason)

		// A fresh write after quarantine reads back normally.
		require.NoError(t, st.Write(ctx, "s1", Record{Counter: 2}))
		rec, err = st.Read(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, 2, rec.Counter)
	})
}

func TestDeleteRemovesArtifacts(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	st, err := Open(Config{Path: dir}, logx.Nop())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, st.Write(ctx, "s1", Record{Counter: 1}))
	require.NoError(t, st.Write(ctx, "s1", Record{Counter: 2}))
	for _, suffix := range []string{".tmp", ".bad"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "s1.json"+suffix), []byte("x"), 0o600))
	}

	require.NoError(t, st.Delete(ctx, "s1"))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestConcurrentUpdatesAreSerialized(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"file", "sqlite"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			st := openTest(t, driver)
			ctx := context.Background()

			var wg sync.WaitGroup
			for i := 0; i < 50; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					assert.NoError(t, st.Update(ctx, "s1", func(r *Record) error {
						r.Counter++
						r.AddTally(map[string]int{"Jan Kowalski": 1})
						return nil
					}))
				}()
			}
			wg.Wait()

			rec, err := st.Read(ctx, "s1")
			require.NoError(t, err)
			assert.Equal(t, 50, rec.Counter)
			assert.Equal(t, 50, rec.Tally["Jan Kowalski"])
		})
	}
}

func TestUpdateErrorWritesNothing(t *testing.T) {
	t.Parallel()
	st := openTest(t, "file")
	ctx := context.Background()
	require.NoError(t, st.Write(ctx, "s1", Record{Counter: 3}))

	boom := assert.AnError
	err := st.Update(ctx, "s1", func(r *Record) error {
		r.Counter = 100
		return boom
	})
	assert.ErrorIs(t, err, boom)

	rec, err := st.Read(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 3, rec.Counter)
}

func TestKeyedMutexHonorsContext(t *testing.T) {
	t.Parallel()
	var km KeyedMutex
	unlock, err := km.Lock(context.Background(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = km.Lock(ctx, "a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	other, err := km.Lock(context.Background(), "b")
	require.NoError(t, err)
	other()

	unlock()
	unlock()
	again, err := km.Lock(context.Background(), "a")
	require.NoError(t, err)
	again()
}

func TestRecordReset(t *testing.T) {
	t.Parallel()
	r := Record{Counter: 5, Tally: map[string]int{"x": 5}, EntriesFingerprint: "keep"}
	r.Reset("2026-06-26")
	assert.Equal(t, Record{Tally: map[string]int{}, LastReport: "2026-06-26", EntriesFingerprint: "keep"}, r)
}

func TestUnknownDriver(t *testing.T) {
	t.Parallel()
	_, err := Open(Config{Driver: "redis", Path: t.TempDir()}, logx.Nop())
	assert.Error(t, err)
}
