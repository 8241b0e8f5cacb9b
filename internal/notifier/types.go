package notifier

import (
	"time"

	"subwatch/internal/extract"
	"subwatch/internal/stats"
)

// Config controls delivery.
type Config struct {
	RatePerSec    float64
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	// BroadcastTTL is how long a mention message stays before deletion.
	BroadcastTTL time.Duration
	SendTimeout  time.Duration
	// Location formats update timestamps.
	Location *time.Location
}

// Update is one tenant's delta.
type Update struct {
	Chat      int64
	Thread    int
	Server    string
	ExtraInfo string
	// Groups is empty for a banner-only change.
	Groups []extract.Group
	At     time.Time
}

// Summary is one tenant's year-end report.
type Summary struct {
	Chat   int64
	Thread int
	Server string
	View   stats.View
}

// chunkLimit keeps rendered HTML under Telegram's 4096 character cap.
const chunkLimit = 3500
