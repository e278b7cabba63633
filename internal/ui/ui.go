// Package ui renders session state and transcript lines to a terminal.
package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/synchronvoice/synchron/internal/session"
	"github.com/synchronvoice/synchron/pkg/live"
)

// Renderer writes human-readable status and transcript lines to an
// [io.Writer]. It is safe for concurrent use; the session controller and the
// provider's receive loop both feed it.
type Renderer struct {
	mu        sync.Mutex
	w         io.Writer
	lastState string
}

// New creates a renderer writing to w.
func New(w io.Writer) *Renderer {
	return &Renderer{w: w}
}

// State renders a session state transition. Repeated snapshots with the same
// visible state are suppressed to keep the terminal quiet.
func (r *Renderer) State(snap session.Snapshot) {
	line := stateLine(snap)

	r.mu.Lock()
	defer r.mu.Unlock()
	if line == r.lastState {
		return
	}
	r.lastState = line
	fmt.Fprintln(r.w, line)
}

// Transcript renders a finalised transcript entry. Partial fragments are
// ignored; the provider re-delivers the full text on finalisation.
func (r *Renderer) Transcript(entry live.TranscriptEntry) {
	if !entry.Final || strings.TrimSpace(entry.Text) == "" {
		return
	}

	speaker := "you"
	if entry.Role == live.RoleAssistant {
		speaker = "assistant"
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.w, "  %s: %s\n", speaker, strings.TrimSpace(entry.Text))
}

// stateLine formats a snapshot as a single status line.
func stateLine(snap session.Snapshot) string {
	switch snap.State {
	case session.StateConnecting:
		return "● connecting…"
	case session.StateConnected:
		switch {
		case snap.Speaking:
			return "● connected — speaking"
		case snap.Listening:
			return "● connected — listening"
		default:
			return "● connected"
		}
	case session.StateError:
		msg := snap.ErrorMsg
		if msg == "" {
			msg = "unknown error"
		}
		return "✗ error: " + msg
	default:
		return "○ idle"
	}
}
