// Package transcript accumulates the running conversation text of a live
// session and watches the user's side for spoken stop phrases.
//
// Providers emit transcript fragments in arbitrary sizes — single words,
// partial sentences, or whole utterances. The Log appends them into one
// running string per speaker so the UI can render a stable, growing
// transcript without caring about fragment boundaries.
package transcript

import (
	"strings"
	"sync"

	"github.com/synchronvoice/synchron/pkg/live"
)

// maxEntries bounds the retained fragment history. The running text is
// unaffected; only the structured entry list is trimmed.
const maxEntries = 512

// Log is a thread-safe accumulator of transcript fragments.
type Log struct {
	mu      sync.Mutex
	entries []live.TranscriptEntry
	running map[live.Role]*strings.Builder
}

// NewLog returns an empty transcript log.
func NewLog() *Log {
	return &Log{
		running: map[live.Role]*strings.Builder{
			live.RoleUser:      {},
			live.RoleAssistant: {},
		},
	}
}

// Append records a fragment and extends the speaker's running text. A space
// is inserted between fragments that do not already provide one.
func (l *Log) Append(entry live.TranscriptEntry) {
	if entry.Text == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, entry)
	if len(l.entries) > maxEntries {
		l.entries = l.entries[len(l.entries)-maxEntries:]
	}

	b, ok := l.running[entry.Role]
	if !ok {
		b = &strings.Builder{}
		l.running[entry.Role] = b
	}
	if b.Len() > 0 && !strings.HasPrefix(entry.Text, " ") {
		b.WriteByte(' ')
	}
	b.WriteString(strings.TrimSpace(entry.Text))
}

// Text returns the accumulated running text for a speaker.
func (l *Log) Text(role live.Role) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.running[role]; ok {
		return b.String()
	}
	return ""
}

// Entries returns a copy of the retained fragment history in arrival order.
func (l *Log) Entries() []live.TranscriptEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]live.TranscriptEntry(nil), l.entries...)
}

// Len returns the number of retained fragments.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Reset clears all entries and running text. Called when a new session
// starts.
func (l *Log) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
	for _, b := range l.running {
		b.Reset()
	}
}
