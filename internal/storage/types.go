package storage

import (
	"context"
	"errors"
	"regexp"
	"time"
)

var (
	ErrClosed    = errors.New("storage closed")
	ErrInvalidID = errors.New("invalid tenant id")
)

// Config configures storage.
//
// Driver values:
//   - "file" (default): Path is the directory holding <id>.json records
//   - "sqlite": Path is the database file
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Record is the persisted state of one tenant.
type Record struct {
	ExtraInfoFingerprint string         `json:"suma-kontrolna-informacji-dodatkowych"`
	EntriesFingerprint   string         `json:"suma-kontrolna-wpisow-zastepstw"`
	Counter              int            `json:"licznik-zastepstw"`
	Tally                map[string]int `json:"statystyki-nauczycieli"`
	LastReport           string         `json:"ostatni-raport"`
}

// Reset clears the yearly counters and marks date as reported.
func (r *Record) Reset(date string) {
	r.Counter = 0
	r.Tally = map[string]int{}
	r.LastReport = date
}

// AddTally accumulates per-teacher counts.
func (r *Record) AddTally(counts map[string]int) {
	if r.Tally == nil {
		r.Tally = map[string]int{}
	}
	for name, n := range counts {
		r.Tally[name] += n
	}
}

func (r *Record) normalize() {
	if r.Tally == nil {
		r.Tally = map[string]int{}
	}
	if r.Counter < 0 {
		r.Counter = 0
	}
}

// Store is the tenant record API.
type Store interface {
	// Read returns the record of id, or an empty record if none exists.
	Read(ctx context.Context, id string) (Record, error)
	// Write replaces the record of id.
	Write(ctx context.Context, id string, rec Record) error
	// Update runs fn on the current record and writes the result while
	// holding the tenant lock. If fn returns an error nothing is written.
	Update(ctx context.Context, id string, fn func(*Record) error) error
	// Delete removes every persisted artifact of id.
	Delete(ctx context.Context, id string) error
	Close() error
}

var reTenantID = regexp.MustCompile(`^[A-Za-z0-9_-][A-Za-z0-9_.-]*$`)

func validID(id string) error {
	if !reTenantID.MatchString(id) {
		return ErrInvalidID
	}
	return nil
}
