package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleJSON = `{
    "wersja": "2.3.3.0-stable",
    "token": "abc",
    "koniec-roku-szkolnego": "2026-06-26",
    "serwery": {
        "-1001": {"szkoła": "01", "identyfikator-kanalu": -1001, "wybrane-klasy": ["3A"], "wybrani-nauczyciele": []},
        "-1002": {"szkoła": "01", "identyfikator-kanalu": -1002, "wybrane-klasy": [], "wybrani-nauczyciele": ["Jan Kowalski"]}
    },
    "szkoły": {
        "01": {"nazwa": "ZSP", "url": "https://example.com/01", "kodowanie": "iso-8859-2",
               "lista-klas": {"10": ["10A"], "2": ["2A", "2B"], "1": ["1A"]}, "lista-nauczycieli": []}
    }
}
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	st := NewStore(writeFile(t, "config.json", sampleJSON))
	cfg, err := st.Load()
	require.NoError(t, err)

	assert.Equal(t, "abc", cfg.BotToken())
	assert.Len(t, cfg.Servers, 2)
	assert.Equal(t, []string{"1A", "2A", "2B", "10A"}, cfg.Schools["01"].KnownClasses())
	assert.Equal(t, []string{"-1001", "-1002"}, cfg.ServersForSchool("01"))
	assert.Empty(t, cfg.ServersForSchool("02"))

	id, srv, ok := cfg.ServerByChannel(-1002)
	require.True(t, ok)
	assert.Equal(t, "-1002", id)
	assert.Equal(t, []string{"Jan Kowalski"}, srv.Teachers)
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	st := NewStore(writeFile(t, "config.json", `{"wersja": "x", "nieznane": 1}`))
	_, err := st.Parse()
	assert.Error(t, err)

	st = NewStore(writeFile(t, "config.json", `{} {}`))
	_, err = st.Parse()
	assert.Error(t, err)
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	st := NewStore(writeFile(t, "config.yaml", `
wersja: 2.3.3.0-stable
koniec-roku-szkolnego: "2026-06-26 12:00:00"
szkoły:
  "01":
    url: https://example.com/01
    lista-klas:
      1: [1A]
      2: [2A]
telegram:
  token: xyz
`))
	cfg, err := st.Load()
	require.NoError(t, err)
	assert.Equal(t, "xyz", cfg.BotToken())
	assert.Equal(t, []string{"1A", "2A"}, cfg.Schools["01"].KnownClasses())
	assert.NotNil(t, cfg.Servers)
}

func TestLoadMissingWritesDefault(t *testing.T) {
	t.Parallel()
	p := filepath.Join(t.TempDir(), "config.json")
	st := NewStore(p)
	cfg, err := st.Load()
	require.NoError(t, err)
	assert.Equal(t, Version, cfg.Version)
	assert.Contains(t, cfg.Schools, "01")

	b, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"nazwa": "Zespół Szkół Przykładowych w Przykładowicach"`)

	again, err := NewStore(p).Load()
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestLoadUpgradesVersion(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "config.json", `{"wersja": "1.0"}`)
	cfg, err := NewStore(p).Load()
	require.NoError(t, err)
	assert.Equal(t, Version, cfg.Version)

	b, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Contains(t, string(b), Version)
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	t.Parallel()
	st := NewStore(writeFile(t, "config.json", sampleJSON))
	_, err := st.Load()
	require.NoError(t, err)

	snap := st.Snapshot()
	snap.Servers["-1001"].Classes[0] = "zmienione"
	snap.Schools["01"].Classes["1"][0] = "zmienione"
	delete(snap.Servers, "-1002")

	srv, ok := st.Server("-1001")
	require.True(t, ok)
	assert.Equal(t, []string{"3A"}, srv.Classes)
	sc, ok := st.School("01")
	require.True(t, ok)
	assert.Equal(t, []string{"1A"}, sc.Classes["1"])
	_, ok = st.Server("-1002")
	assert.True(t, ok)
}

func TestUpdatePersistsAndPublishes(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "config.json", sampleJSON)
	st := NewStore(p)
	_, err := st.Load()
	require.NoError(t, err)
	sub := st.Subscribe(1)
	defer st.Unsubscribe(sub)

	require.NoError(t, st.Update(func(c *Config) error {
		c.YearEnd = "2027-06-25"
		return nil
	}))

	select {
	case got := <-sub:
		assert.Equal(t, "2027-06-25", got.YearEnd)
	default:
		t.Fatal("update was not published")
	}

	reloaded, err := NewStore(p).Parse()
	require.NoError(t, err)
	assert.Equal(t, "2027-06-25", reloaded.YearEnd)
	assert.FileExists(t, p+".old")

	err = st.Update(func(c *Config) error {
		c.YearEnd = "ignored"
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, "2027-06-25", st.Snapshot().YearEnd)
}

func TestRemoveServer(t *testing.T) {
	t.Parallel()
	st := NewStore(writeFile(t, "config.json", sampleJSON))
	_, err := st.Load()
	require.NoError(t, err)

	found, err := st.RemoveServer("-1001")
	require.NoError(t, err)
	assert.True(t, found)
	_, ok := st.Server("-1001")
	assert.False(t, ok)

	found, err = st.RemoveServer("-1001")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestValidate(t *testing.T) {
	t.Parallel()
	cfg := Default()
	require.NoError(t, Validate(cfg))

	cfg.YearEnd = "26.06.2026"
	cfg.Servers["x"] = Server{School: "99"}
	cfg.Fetch.Timeout = "soon"
	cfg.Storage.Driver = "redis"
	sc := cfg.Schools["01"]
	sc.URL = "ftp://example.com"
	cfg.Schools["01"] = sc

	err := Validate(cfg)
	require.Error(t, err)
	for _, want := range []string{"koniec-roku-szkolnego", "serwery.x", "fetch.timeout", "storage.driver", "szkoły.01.url"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestParseYearEnd(t *testing.T) {
	t.Parallel()
	loc, err := time.LoadLocation("Europe/Warsaw")
	require.NoError(t, err)

	d, err := ParseYearEnd("2026-06-26", loc)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 6, 26, 0, 0, 0, 0, loc), d)

	dt, err := ParseYearEnd(" 2026-06-26 14:30:00 ", loc)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 6, 26, 14, 30, 0, 0, loc), dt)

	_, err = ParseYearEnd("", loc)
	assert.Error(t, err)
	_, err = ParseYearEnd("2026/06/26", loc)
	assert.Error(t, err)
}

func TestDurationHelpers(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationOrDefault("x", "", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, d)

	_, err = ParseDurationField("x", "-1s")
	assert.Error(t, err)

	var s ScheduleConfig
	assert.Equal(t, DefaultRetry, s.RetryOrDefault())
	assert.Equal(t, DefaultConcurrency, s.ConcurrencyOrDefault())
	assert.Equal(t, "5m", s.UpdatesOrDefault())
}

func TestDefaultStoragePathFollowsDriver(t *testing.T) {
	t.Parallel()
	cfg := Default()
	assert.Empty(t, cfg.Storage.Path)
	assert.Equal(t, DefaultStorageDir, cfg.Storage.PathOrDefault())

	cfg.Storage.Driver = "sqlite"
	assert.Equal(t, DefaultStorageDir+"/subwatch.db", cfg.Storage.PathOrDefault())

	cfg.Storage.Path = "/var/lib/subwatch/state.db"
	assert.Equal(t, "/var/lib/subwatch/state.db", cfg.Storage.PathOrDefault())
}

func TestSummarizeChange(t *testing.T) {
	t.Parallel()
	a := Default()
	b := a.Clone()
	b.Telegram.Token = "secret"
	b.Servers["s1"] = Server{School: "01"}
	b.Schedule.Concurrency = 5

	changed, attrs := SummarizeChange(a, b)
	assert.Equal(t, []string{"telegram", "schedule", "serwery"}, changed)
	assert.NotEmpty(t, attrs)

	changed, _ = SummarizeChange(a, a.Clone())
	assert.Empty(t, changed)
}

func TestWatchPublishesValidChanges(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "config.json", sampleJSON)
	st := NewStore(p)
	st.SetValidator(func(_ context.Context, c *Config) error { return Validate(c) })
	_, err := st.Load()
	require.NoError(t, err)
	sub := st.Subscribe(4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = st.Watch(ctx) }()
	time.Sleep(200 * time.Millisecond)

	cfg := st.Snapshot()
	cfg.YearEnd = "2027-06-25"
	b, err := marshalJSON(cfg)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(p, b, 0o600))

	select {
	case got := <-sub:
		assert.Equal(t, "2027-06-25", got.YearEnd)
	case <-time.After(5 * time.Second):
		t.Fatal("reload not published")
	}
}
