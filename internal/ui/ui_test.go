package ui

import (
	"bytes"
	"strings"
	"testing"

	"github.com/synchronvoice/synchron/internal/session"
	"github.com/synchronvoice/synchron/pkg/live"
)

func TestState_RendersTransitions(t *testing.T) {
	var buf bytes.Buffer
	r := New(&buf)

	r.State(session.Snapshot{State: session.StateConnecting})
	r.State(session.Snapshot{State: session.StateConnected, Listening: true})
	r.State(session.Snapshot{State: session.StateConnected, Listening: true, Speaking: true})
	r.State(session.Snapshot{State: session.StateIdle})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	want := []string{
		"● connecting…",
		"● connected — listening",
		"● connected — speaking",
		"○ idle",
	}
	if len(lines) != len(want) {
		t.Fatalf("got %d lines, want %d: %q", len(lines), len(want), lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestState_SuppressesRepeats(t *testing.T) {
	var buf bytes.Buffer
	r := New(&buf)

	snap := session.Snapshot{State: session.StateConnected, Listening: true}
	r.State(snap)
	r.State(snap)
	r.State(snap)

	if got := strings.Count(buf.String(), "\n"); got != 1 {
		t.Errorf("got %d lines, want 1", got)
	}
}

func TestState_ErrorIncludesMessage(t *testing.T) {
	var buf bytes.Buffer
	r := New(&buf)

	r.State(session.Snapshot{State: session.StateError, ErrorMsg: "connect: dial refused"})

	if !strings.Contains(buf.String(), "connect: dial refused") {
		t.Errorf("output %q missing error message", buf.String())
	}
}

func TestTranscript_FinalEntries(t *testing.T) {
	var buf bytes.Buffer
	r := New(&buf)

	r.Transcript(live.TranscriptEntry{Role: live.RoleUser, Text: "what is the weather", Final: true})
	r.Transcript(live.TranscriptEntry{Role: live.RoleAssistant, Text: "It is sunny.", Final: true})

	out := buf.String()
	if !strings.Contains(out, "you: what is the weather") {
		t.Errorf("output %q missing user line", out)
	}
	if !strings.Contains(out, "assistant: It is sunny.") {
		t.Errorf("output %q missing assistant line", out)
	}
}

func TestTranscript_IgnoresPartialsAndEmpty(t *testing.T) {
	var buf bytes.Buffer
	r := New(&buf)

	r.Transcript(live.TranscriptEntry{Role: live.RoleUser, Text: "partial frag", Final: false})
	r.Transcript(live.TranscriptEntry{Role: live.RoleAssistant, Text: "   ", Final: true})

	if buf.Len() != 0 {
		t.Errorf("output should be empty, got %q", buf.String())
	}
}
