package notifier

import (
	"time"

	kit "scibot/internal/transport"
)

// Config controls the async notification pipeline.
type Config struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	SendTimeout     time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
}

type Notification struct {
	Priority int // 0 low .. 10 high
	Target   kit.ChatTarget
	Text     string
	Options  *kit.SendOptions
}

const (
	PriorityInfo  = 5
	PriorityWarn  = 7
	PriorityAlert = 9
)

type HistoryItem struct {
	At     time.Time
	ChatID int64
	Text   string
}

type EventType string

const (
	EventQueued  EventType = "queued"
	EventDeduped EventType = "deduped"
	EventDropped EventType = "dropped"
	EventSent    EventType = "sent"
	EventFailed  EventType = "failed"
)

// Event describes one step of a notification's life. Err is set for dropped and failed.
type Event struct {
	Type   EventType
	ChatID int64
	Key    string
	At     time.Time
	Err    error
}
