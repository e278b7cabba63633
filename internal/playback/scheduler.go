// Package playback sequences decoded audio chunks into gapless output.
//
// Synthesised speech arrives from the live session in chunks whose size bears
// no relation to their playback duration: a burst of small chunks can arrive
// in a few milliseconds, or one large chunk can cover seconds of speech.
// Playing each chunk the moment it arrives would overlap them into garbage;
// waiting for the previous chunk to finish before looking at the next would
// introduce gaps. The Scheduler instead keeps a monotonically advancing
// cursor: each chunk is scheduled to start exactly where the previous one
// ends, or immediately if the cursor has fallen behind the clock.
//
// On barge-in the whole pipeline of scheduled chunks is discarded at once via
// StopAll, which also guarantees that no completion callback from a stopped
// chunk fires afterwards.
package playback

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/synchronvoice/synchron/pkg/audio"
)

// Sink consumes raw PCM16 mono audio for immediate output, e.g. a speaker
// device. Write is called from timer goroutines and must be safe for
// concurrent use.
type Sink interface {
	Write(pcm []byte) error
}

// unit is one scheduled chunk: its timers and identity for the active set.
type unit struct {
	startTimer Timer
	doneTimer  Timer
}

// Scheduler schedules audio chunks for gapless sequential playback.
// All methods are safe for concurrent use.
type Scheduler struct {
	clock      Clock
	sink       Sink
	sampleRate int
	logger     *slog.Logger
	onSpeaking func(bool)

	mu         sync.Mutex
	nextStart  time.Time // zero value means the cursor is reset
	active     map[uint64]*unit
	nextID     uint64
	generation uint64
}

// SchedulerOption is a functional option for configuring a Scheduler.
type SchedulerOption func(*Scheduler)

// WithClock overrides the clock used for scheduling. Used in tests to drive
// the scheduler deterministically.
func WithClock(c Clock) SchedulerOption {
	return func(s *Scheduler) { s.clock = c }
}

// WithSampleRate overrides the assumed sample rate of incoming PCM chunks.
func WithSampleRate(rate int) SchedulerOption {
	return func(s *Scheduler) { s.sampleRate = rate }
}

// WithLogger sets the logger for decode and sink failures.
func WithLogger(logger *slog.Logger) SchedulerOption {
	return func(s *Scheduler) { s.logger = logger }
}

// WithSpeakingFunc registers a callback invoked with true when playback
// starts from silence and false when the last active chunk completes or
// playback is stopped. The callback runs on scheduler goroutines and must not
// call back into the Scheduler.
func WithSpeakingFunc(fn func(bool)) SchedulerOption {
	return func(s *Scheduler) { s.onSpeaking = fn }
}

// NewScheduler creates a Scheduler writing to sink. By default chunks are
// assumed to be PCM16 mono at the live output rate (24 kHz) and timers use
// real time.
func NewScheduler(sink Sink, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		clock:      SystemClock(),
		sink:       sink,
		sampleRate: audio.OutputSampleRate,
		logger:     slog.Default(),
		active:     make(map[uint64]*unit),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Schedule queues a raw PCM16 mono chunk for playback immediately after all
// previously scheduled audio. Returns the time the chunk will start playing.
func (s *Scheduler) Schedule(pcm []byte) time.Time {
	d := chunkDuration(len(pcm), s.sampleRate)

	s.mu.Lock()

	now := s.clock.Now()
	startAt := s.nextStart
	if startAt.Before(now) {
		startAt = now
	}
	s.nextStart = startAt.Add(d)

	id := s.nextID
	s.nextID++
	gen := s.generation

	u := &unit{}
	s.active[id] = u
	startedSpeaking := len(s.active) == 1

	u.startTimer = s.clock.AfterFunc(startAt.Sub(now), func() {
		s.playUnit(gen, pcm)
	})
	u.doneTimer = s.clock.AfterFunc(startAt.Sub(now)+d, func() {
		s.completeUnit(gen, id)
	})

	s.mu.Unlock()

	if startedSpeaking && s.onSpeaking != nil {
		s.onSpeaking(true)
	}
	return startAt
}

// ScheduleEncoded decodes a base64 PCM16 chunk and schedules it. Malformed
// chunks are dropped with an error return; playback of already scheduled
// audio is unaffected.
func (s *Scheduler) ScheduleEncoded(text string) (time.Time, error) {
	pcm, err := audio.DecodeBase64(text)
	if err != nil {
		s.logger.Error("dropping malformed audio chunk", "error", err)
		return time.Time{}, fmt.Errorf("playback: decode chunk: %w", err)
	}
	return s.Schedule(pcm), nil
}

// playUnit writes a chunk to the sink unless playback was stopped since it
// was scheduled.
func (s *Scheduler) playUnit(gen uint64, pcm []byte) {
	s.mu.Lock()
	stale := gen != s.generation
	s.mu.Unlock()
	if stale {
		return
	}
	if err := s.sink.Write(pcm); err != nil {
		s.logger.Error("playback sink write failed", "error", err, "bytes", len(pcm))
	}
}

// completeUnit removes a finished chunk from the active set. Stale callbacks
// from before a StopAll are ignored.
func (s *Scheduler) completeUnit(gen uint64, id uint64) {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return
	}
	delete(s.active, id)
	stoppedSpeaking := len(s.active) == 0
	s.mu.Unlock()

	if stoppedSpeaking && s.onSpeaking != nil {
		s.onSpeaking(false)
	}
}

// StopAll force-stops every scheduled chunk, clears the active set and resets
// the cursor. Completion callbacks from stopped chunks never fire. Invoked on
// barge-in and on session teardown.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	s.generation++
	hadActive := len(s.active) > 0
	for id, u := range s.active {
		if u.startTimer != nil {
			u.startTimer.Stop()
		}
		if u.doneTimer != nil {
			u.doneTimer.Stop()
		}
		delete(s.active, id)
	}
	s.nextStart = time.Time{}
	s.mu.Unlock()

	if hadActive && s.onSpeaking != nil {
		s.onSpeaking(false)
	}
}

// ActiveCount returns the number of chunks scheduled but not yet completed.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Speaking reports whether any audio is currently scheduled or playing.
func (s *Scheduler) Speaking() bool { return s.ActiveCount() > 0 }

// CursorLead returns how far the scheduling cursor is ahead of the clock:
// the amount of buffered audio awaiting playback. Zero when idle.
func (s *Scheduler) CursorLead() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nextStart.IsZero() {
		return 0
	}
	lead := s.nextStart.Sub(s.clock.Now())
	if lead < 0 {
		return 0
	}
	return lead
}

// chunkDuration converts a PCM16 mono byte count to playback time.
func chunkDuration(byteLen, sampleRate int) time.Duration {
	samples := byteLen / 2
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}
