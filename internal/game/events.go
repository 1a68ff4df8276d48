package game

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"molt/internal/api"
)

// MaxEvents bounds the player-visible event feed
const MaxEvents = 200

var printer = message.NewPrinter(language.English)

// FormatCredits renders an amount with thousands separators, e.g. ₡12,500
func FormatCredits(amount int64) string {
	return printer.Sprintf("₡%d", amount)
}

// Feed is the bounded player-visible event log, newest first
type Feed struct {
	entries  []api.EventEntry
	now      func() time.Time
	listener func(api.EventEntry)
}

// NewFeed creates an empty feed. now defaults to time.Now.
func NewFeed(now func() time.Time) *Feed {
	if now == nil {
		now = time.Now
	}
	return &Feed{now: now}
}

// SetListener registers a callback run for every added entry
func (f *Feed) SetListener(fn func(api.EventEntry)) {
	f.listener = fn
}

// Add prepends an entry and drops the oldest beyond MaxEvents
func (f *Feed) Add(kind api.EventType, msg string) api.EventEntry {
	if kind == "" {
		kind = api.EventInfo
	}
	entry := api.EventEntry{
		ID:        uuid.NewString(),
		Timestamp: f.now(),
		Type:      kind,
		Message:   msg,
	}
	f.entries = append([]api.EventEntry{entry}, f.entries...)
	if len(f.entries) > MaxEvents {
		f.entries = f.entries[:MaxEvents]
	}
	if f.listener != nil {
		f.listener(entry)
	}
	return entry
}

// Addf formats and adds an entry
func (f *Feed) Addf(kind api.EventType, format string, args ...any) api.EventEntry {
	return f.Add(kind, fmt.Sprintf(format, args...))
}

// Entries returns a copy of the feed, newest first
func (f *Feed) Entries() []api.EventEntry {
	out := make([]api.EventEntry, len(f.entries))
	copy(out, f.entries)
	return out
}

// Filter returns entries of one type, newest first
func (f *Feed) Filter(kind api.EventType) []api.EventEntry {
	var out []api.EventEntry
	for _, e := range f.entries {
		if e.Type == kind {
			out = append(out, e)
		}
	}
	return out
}

// Latest returns the newest entry
func (f *Feed) Latest() (api.EventEntry, bool) {
	if len(f.entries) == 0 {
		return api.EventEntry{}, false
	}
	return f.entries[0], true
}

func (f *Feed) Len() int { return len(f.entries) }

func (f *Feed) Reset() { f.entries = nil }
