package job

import "time"

// MaxLogEntries caps the processing log. Oldest entries are dropped on
// overflow; this is an invariant of the record, not a display concern.
const MaxLogEntries = 100

// Level classifies a processing log entry.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// LogEntry is one line of a job's processing log.
type LogEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Stage     string         `json:"stage,omitempty"`
	Message   string         `json:"message"`
	Level     Level          `json:"level"`
	Data      map[string]any `json:"data,omitempty"`
}

// ProcessingLog is the bounded, append-only log attached to a job.
type ProcessingLog []LogEntry

// Append adds an entry, evicting the oldest entries first so the log
// never exceeds MaxLogEntries. The receiver is not mutated; the
// returned slice is the new log.
func (l ProcessingLog) Append(e LogEntry) ProcessingLog {
	out := make(ProcessingLog, 0, min(len(l)+1, MaxLogEntries))
	if len(l) >= MaxLogEntries {
		out = append(out, l[len(l)-MaxLogEntries+1:]...)
	} else {
		out = append(out, l...)
	}
	return append(out, e)
}

// ErrorEntry records one failed attempt. The history is unbounded and
// kept for audit.
type ErrorEntry struct {
	Attempt   int            `json:"attempt"`
	Timestamp time.Time      `json:"timestamp"`
	Message   string         `json:"message"`
	Context   map[string]any `json:"context,omitempty"`
}
