package playback

import (
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/synchronvoice/synchron/pkg/audio"
)

// ── Test doubles ──────────────────────────────────────────────────────────────

// fakeClock is a manually advanced Clock. Timers fire synchronously during
// Advance, in due-time order, outside the clock's own lock.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	when    time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	// Arbitrary fixed epoch so tests can reason in absolute offsets.
	return &fakeClock{now: time.Unix(1000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, when: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves the clock forward and fires all due timers in time order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.fired && !t.stopped && !t.when.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].when.Before(due[j].when) })
	for _, t := range due {
		t.f()
	}
}

// captureSink records every chunk written to it.
type captureSink struct {
	mu     sync.Mutex
	writes [][]byte
	err    error
}

func (s *captureSink) Write(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, pcm)
	return s.err
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.writes)
}

// speakingRecorder collects onSpeaking transitions.
type speakingRecorder struct {
	mu     sync.Mutex
	states []bool
}

func (r *speakingRecorder) record(on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, on)
}

func (r *speakingRecorder) snapshot() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.states...)
}

// oneSecond returns a PCM16 mono chunk lasting exactly one second at the
// given sample rate.
func oneSecond(rate int) []byte {
	return make([]byte, rate*2)
}

func newTestScheduler(t *testing.T, opts ...SchedulerOption) (*Scheduler, *fakeClock, *captureSink) {
	t.Helper()
	clock := newFakeClock()
	sink := &captureSink{}
	opts = append([]SchedulerOption{WithClock(clock)}, opts...)
	return NewScheduler(sink, opts...), clock, sink
}

// ── Cursor behaviour ──────────────────────────────────────────────────────────

func TestSchedule_TwoChunksBackToBack(t *testing.T) {
	s, clock, _ := newTestScheduler(t)
	base := clock.Now()

	start1 := s.Schedule(oneSecond(audio.OutputSampleRate))
	start2 := s.Schedule(oneSecond(audio.OutputSampleRate))

	if !start1.Equal(base) {
		t.Errorf("first chunk starts at %v; want %v", start1, base)
	}
	if want := base.Add(time.Second); !start2.Equal(want) {
		t.Errorf("second chunk starts at %v; want %v", start2, want)
	}
	if got := s.ActiveCount(); got != 2 {
		t.Errorf("active count = %d; want 2", got)
	}
}

func TestSchedule_CursorMonotonic(t *testing.T) {
	s, clock, _ := newTestScheduler(t)

	durations := []time.Duration{
		250 * time.Millisecond,
		time.Second,
		40 * time.Millisecond,
		700 * time.Millisecond,
	}

	var prevEnd time.Time
	for i, d := range durations {
		samples := int(d.Seconds() * float64(audio.OutputSampleRate))
		start := s.Schedule(make([]byte, samples*2))

		if i > 0 && start.Before(prevEnd) {
			t.Errorf("chunk %d starts at %v, before previous end %v", i, start, prevEnd)
		}
		if i > 0 && !start.Equal(prevEnd) {
			t.Errorf("chunk %d starts at %v; want gapless start %v", i, start, prevEnd)
		}
		prevEnd = start.Add(d)

		// Jitter in arrival time must not affect scheduling while the cursor
		// stays ahead of the clock.
		clock.Advance(10 * time.Millisecond)
	}
}

func TestSchedule_CursorBehindClock_StartsNow(t *testing.T) {
	s, clock, _ := newTestScheduler(t)

	s.Schedule(oneSecond(audio.OutputSampleRate))

	// Let playback finish entirely, then wait with an idle line.
	clock.Advance(5 * time.Second)

	start := s.Schedule(oneSecond(audio.OutputSampleRate))
	if !start.Equal(clock.Now()) {
		t.Errorf("chunk after idle period starts at %v; want now (%v)", start, clock.Now())
	}
}

func TestCursorLead(t *testing.T) {
	s, clock, _ := newTestScheduler(t)

	if got := s.CursorLead(); got != 0 {
		t.Errorf("idle cursor lead = %v; want 0", got)
	}

	s.Schedule(oneSecond(audio.OutputSampleRate))
	s.Schedule(oneSecond(audio.OutputSampleRate))

	if got := s.CursorLead(); got != 2*time.Second {
		t.Errorf("cursor lead = %v; want 2s", got)
	}

	clock.Advance(500 * time.Millisecond)
	if got := s.CursorLead(); got != 1500*time.Millisecond {
		t.Errorf("cursor lead after 500ms = %v; want 1.5s", got)
	}
}

// ── Playback and completion ───────────────────────────────────────────────────

func TestPlayback_WritesChunksInOrder(t *testing.T) {
	s, clock, sink := newTestScheduler(t)

	chunk1 := []byte{1, 1, 1, 1}
	chunk2 := []byte{2, 2, 2, 2}
	s.Schedule(append(chunk1, oneSecond(audio.OutputSampleRate)...))
	s.Schedule(append(chunk2, oneSecond(audio.OutputSampleRate)...))

	clock.Advance(0) // first chunk starts immediately
	if sink.count() != 1 {
		t.Fatalf("after start: %d writes; want 1", sink.count())
	}

	clock.Advance(2 * time.Second)
	if sink.count() != 2 {
		t.Fatalf("after playback: %d writes; want 2", sink.count())
	}
	if sink.writes[0][0] != 1 || sink.writes[1][0] != 2 {
		t.Error("chunks written out of order")
	}
}

func TestCompletion_EmptiesActiveSet(t *testing.T) {
	s, clock, _ := newTestScheduler(t)

	s.Schedule(oneSecond(audio.OutputSampleRate))
	s.Schedule(oneSecond(audio.OutputSampleRate))

	clock.Advance(time.Second)
	if got := s.ActiveCount(); got != 1 {
		t.Errorf("after 1s: active = %d; want 1", got)
	}

	clock.Advance(time.Second)
	if got := s.ActiveCount(); got != 0 {
		t.Errorf("after 2s: active = %d; want 0", got)
	}
	if s.Speaking() {
		t.Error("Speaking() should be false once all chunks complete")
	}
}

func TestSpeakingTransitions(t *testing.T) {
	rec := &speakingRecorder{}
	s, clock, _ := newTestScheduler(t, WithSpeakingFunc(rec.record))

	s.Schedule(oneSecond(audio.OutputSampleRate))
	s.Schedule(oneSecond(audio.OutputSampleRate))
	clock.Advance(2 * time.Second)

	got := rec.snapshot()
	want := []bool{true, false}
	if len(got) != len(want) {
		t.Fatalf("transitions = %v; want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("transitions = %v; want %v", got, want)
		}
	}
}

func TestSinkError_IsLoggedNotFatal(t *testing.T) {
	clock := newFakeClock()
	sink := &captureSink{err: errors.New("device gone")}
	s := NewScheduler(sink, WithClock(clock))

	s.Schedule(oneSecond(audio.OutputSampleRate))
	s.Schedule(oneSecond(audio.OutputSampleRate))
	clock.Advance(2 * time.Second)

	// Both chunks are still attempted and completion still runs.
	if sink.count() != 2 {
		t.Errorf("writes = %d; want 2", sink.count())
	}
	if got := s.ActiveCount(); got != 0 {
		t.Errorf("active = %d; want 0", got)
	}
}

// ── StopAll ───────────────────────────────────────────────────────────────────

func TestStopAll_ClearsActiveAndResetsCursor(t *testing.T) {
	s, clock, sink := newTestScheduler(t)

	s.Schedule(oneSecond(audio.OutputSampleRate))
	s.Schedule(oneSecond(audio.OutputSampleRate))
	clock.Advance(0) // first chunk playing

	s.StopAll()

	if got := s.ActiveCount(); got != 0 {
		t.Errorf("active after StopAll = %d; want 0", got)
	}
	if got := s.CursorLead(); got != 0 {
		t.Errorf("cursor lead after StopAll = %v; want 0", got)
	}

	// The second chunk must never reach the sink.
	clock.Advance(5 * time.Second)
	if sink.count() != 1 {
		t.Errorf("writes after StopAll = %d; want 1 (only the already started chunk)", sink.count())
	}

	// A fresh chunk starts immediately, from the reset cursor.
	start := s.Schedule(oneSecond(audio.OutputSampleRate))
	if !start.Equal(clock.Now()) {
		t.Errorf("post-stop chunk starts at %v; want now", start)
	}
}

func TestStopAll_NoLateCompletionCallbacks(t *testing.T) {
	rec := &speakingRecorder{}
	s, clock, _ := newTestScheduler(t, WithSpeakingFunc(rec.record))

	s.Schedule(oneSecond(audio.OutputSampleRate))
	s.StopAll()

	before := len(rec.snapshot())
	clock.Advance(10 * time.Second)
	after := len(rec.snapshot())

	if before != after {
		t.Errorf("callbacks fired after StopAll: %d new transitions", after-before)
	}

	got := rec.snapshot()
	want := []bool{true, false} // speaking on schedule, off on StopAll
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("transitions = %v; want %v", got, want)
	}
}

func TestStopAll_Idle_NoCallback(t *testing.T) {
	rec := &speakingRecorder{}
	s, _, _ := newTestScheduler(t, WithSpeakingFunc(rec.record))

	s.StopAll()
	if n := len(rec.snapshot()); n != 0 {
		t.Errorf("StopAll on idle scheduler fired %d transitions; want 0", n)
	}
}

// ── ScheduleEncoded ───────────────────────────────────────────────────────────

func TestScheduleEncoded_Malformed(t *testing.T) {
	s, _, _ := newTestScheduler(t)

	if _, err := s.ScheduleEncoded("not base64 !!!"); err == nil {
		t.Fatal("expected error for malformed base64")
	}
	if got := s.ActiveCount(); got != 0 {
		t.Errorf("malformed chunk was scheduled: active = %d", got)
	}
}

func TestScheduleEncoded_Valid(t *testing.T) {
	s, clock, sink := newTestScheduler(t)

	pcm := oneSecond(audio.OutputSampleRate)
	start, err := s.ScheduleEncoded(audio.EncodeBase64(pcm))
	if err != nil {
		t.Fatalf("ScheduleEncoded: %v", err)
	}
	if !start.Equal(clock.Now()) {
		t.Errorf("start = %v; want now", start)
	}

	clock.Advance(time.Second)
	if sink.count() != 1 {
		t.Errorf("writes = %d; want 1", sink.count())
	}
}

func TestChunkDuration(t *testing.T) {
	cases := []struct {
		bytes, rate int
		want        time.Duration
	}{
		{audio.OutputSampleRate * 2, audio.OutputSampleRate, time.Second},
		{audio.OutputSampleRate, audio.OutputSampleRate, 500 * time.Millisecond},
		{0, audio.OutputSampleRate, 0},
		{audio.InputSampleRate * 2, audio.InputSampleRate, time.Second},
	}
	for _, c := range cases {
		if got := chunkDuration(c.bytes, c.rate); got != c.want {
			t.Errorf("chunkDuration(%d, %d) = %v; want %v", c.bytes, c.rate, got, c.want)
		}
	}
}
