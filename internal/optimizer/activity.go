package optimizer

import (
	"sync"
	"time"
)

// LogEntry is one line of the activity log. Size-comparison entries carry the
// before and after sizes.
type LogEntry struct {
	Time           time.Time `json:"time"`
	Text           string    `json:"text"`
	HasSizes       bool      `json:"has_sizes,omitempty"`
	OriginalSize   int64     `json:"original_size,omitempty"`
	OptimizedSize  int64     `json:"optimized_size,omitempty"`
	SavingsPercent float64   `json:"savings_percent,omitempty"`
}

// NewSizeLogEntry builds a size-comparison entry. SavingsPercent stays 0 when
// the original size is unknown.
func NewSizeLogEntry(at time.Time, text string, original, optimized int64) LogEntry {
	return LogEntry{
		Time:           at,
		Text:           text,
		HasSizes:       true,
		OriginalSize:   original,
		OptimizedSize:  optimized,
		SavingsPercent: savingsPercent(original, optimized),
	}
}

// ActivityLog collects entries newest-first. It is safe for concurrent use and
// can be passed directly as Callbacks.Log.
type ActivityLog struct {
	mu      sync.Mutex
	entries []LogEntry
}

// Append records entry as the newest line.
func (l *ActivityLog) Append(entry LogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
}

// Entries returns a copy of the log, newest first.
func (l *ActivityLog) Entries() []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]LogEntry, len(l.entries))
	for i, entry := range l.entries {
		out[len(l.entries)-1-i] = entry
	}
	return out
}

// Len reports how many entries have been appended.
func (l *ActivityLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Reset clears the log.
func (l *ActivityLog) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
}
