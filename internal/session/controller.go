// Package session owns the lifecycle of a live voice session.
//
// The Controller is an explicit state machine:
//
//	idle → connecting → connected → {idle, error}
//
// Start connects to the provider and activates the capture pipeline; a single
// dispatch goroutine then routes everything the session emits — audio chunks
// to the playback scheduler, transcript fragments to the transcript log,
// interruption signals to StopAll. Stop (or a spoken stop phrase) tears the
// session down and returns to idle. A transport error moves to the error
// state; the next Start begins a fresh session from there.
//
// All shared state is guarded by one mutex; callbacks are invoked outside it.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/synchronvoice/synchron/internal/capture"
	"github.com/synchronvoice/synchron/internal/playback"
	"github.com/synchronvoice/synchron/internal/transcript"
	"github.com/synchronvoice/synchron/pkg/audio"
	"github.com/synchronvoice/synchron/pkg/live"
)

// State names a position in the controller's lifecycle.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
	StateError      State = "error"
)

// defaultConnectTimeout bounds session establishment so a hung network
// attempt cannot block forever.
const defaultConnectTimeout = 15 * time.Second

// Snapshot is a point-in-time copy of the controller's user-visible state.
type Snapshot struct {
	State     State
	Listening bool
	Speaking  bool
	ErrorMsg  string
}

// Controller drives the session state machine. All methods are safe for
// concurrent use.
type Controller struct {
	provider  live.Provider
	cfg       live.SessionConfig
	scheduler *playback.Scheduler
	pipeline  *capture.Pipeline
	log       *transcript.Log
	detector  *transcript.Detector
	logger    *slog.Logger

	connectTimeout time.Duration
	reconnect      ReconnectPolicy
	onState        func(Snapshot)
	onReceive      func(bytes int)
	onTranscript   func(live.TranscriptEntry)
	onInterrupt    func()
	onStopPhrase   func(phrase string)
	onError        func(err error)

	mu       sync.Mutex
	state    State
	errMsg   string
	speaking bool
	sess     live.SessionHandle
	cancel   context.CancelFunc
	sessGen  uint64
}

// Option is a functional option for configuring a Controller.
type Option func(*Controller)

// WithLogger sets the controller's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// WithConnectTimeout overrides the session establishment timeout.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Controller) { c.connectTimeout = d }
}

// WithStopPhraseDetector enables spoken stop-phrase detection on user
// transcript fragments. A detected phrase stops the session.
func WithStopPhraseDetector(d *transcript.Detector) Option {
	return func(c *Controller) { c.detector = d }
}

// WithReconnectPolicy enables automatic reconnection after transport
// failures. Disabled by default: a dropped session lands in the error state
// and waits for a manual Start.
func WithReconnectPolicy(p ReconnectPolicy) Option {
	return func(c *Controller) { c.reconnect = p.withDefaults() }
}

// WithStateFunc registers a callback invoked with a Snapshot after every
// state change. It runs on controller goroutines and must not call back into
// the Controller.
func WithStateFunc(fn func(Snapshot)) Option {
	return func(c *Controller) { c.onState = fn }
}

// WithReceiveFunc registers a callback invoked with the byte count of every
// received audio chunk.
func WithReceiveFunc(fn func(bytes int)) Option {
	return func(c *Controller) { c.onReceive = fn }
}

// WithTranscriptFunc registers a callback invoked for every transcript
// fragment after it has been recorded.
func WithTranscriptFunc(fn func(live.TranscriptEntry)) Option {
	return func(c *Controller) { c.onTranscript = fn }
}

// WithInterruptFunc registers a callback invoked on every barge-in.
func WithInterruptFunc(fn func()) Option {
	return func(c *Controller) { c.onInterrupt = fn }
}

// WithStopPhraseFunc registers a callback invoked with the matched phrase
// when a spoken stop phrase ends the session.
func WithStopPhraseFunc(fn func(phrase string)) Option {
	return func(c *Controller) { c.onStopPhrase = fn }
}

// WithErrorFunc registers a callback invoked with the classified error
// whenever the controller enters the error state.
func WithErrorFunc(fn func(err error)) Option {
	return func(c *Controller) { c.onError = fn }
}

// NewController creates a Controller wiring the provider to the playback
// scheduler, capture pipeline and transcript log.
func NewController(
	provider live.Provider,
	cfg live.SessionConfig,
	scheduler *playback.Scheduler,
	pipeline *capture.Pipeline,
	log *transcript.Log,
	opts ...Option,
) *Controller {
	c := &Controller{
		provider:       provider,
		cfg:            cfg,
		scheduler:      scheduler,
		pipeline:       pipeline,
		log:            log,
		logger:         slog.Default(),
		connectTimeout: defaultConnectTimeout,
		state:          StateIdle,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Snapshot returns the current user-visible state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	return Snapshot{
		State:     c.state,
		Listening: c.state == StateConnected,
		Speaking:  c.speaking,
		ErrorMsg:  c.errMsg,
	}
}

// setState transitions to a new state and notifies the state callback.
func (c *Controller) setState(s State, errMsg string) {
	c.mu.Lock()
	c.state = s
	c.errMsg = errMsg
	if s != StateConnected {
		c.speaking = false
	}
	snap := c.snapshotLocked()
	cb := c.onState
	c.mu.Unlock()

	if cb != nil {
		cb(snap)
	}
}

// SetSpeaking updates the speaking flag, normally wired to the playback
// scheduler's speaking callback.
func (c *Controller) SetSpeaking(on bool) {
	c.mu.Lock()
	c.speaking = on
	snap := c.snapshotLocked()
	cb := c.onState
	c.mu.Unlock()

	if cb != nil {
		cb(snap)
	}
}

// Start opens a session and begins streaming. It returns ErrAlreadyRunning
// when a session is connecting or connected, ErrPermission when the
// microphone is unusable, and a TransportError for connection failures.
// The idle, error and closed states all permit a fresh Start.
func (c *Controller) Start(ctx context.Context) error {
	// Claim the connecting state under the same lock as the guard so that
	// two concurrent Starts cannot both pass it and dial twice.
	c.mu.Lock()
	if c.state == StateConnecting || c.state == StateConnected {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	c.state = StateConnecting
	c.errMsg = ""
	c.speaking = false
	snap := c.snapshotLocked()
	cb := c.onState
	c.mu.Unlock()

	if cb != nil {
		cb(snap)
	}

	sess, err := c.connect(ctx)
	if err != nil {
		kind := classifyError(err)
		if c.onError != nil {
			c.onError(kind)
		}
		c.setState(StateError, kind.Error())
		return kind
	}

	c.activate(ctx, sess)
	return nil
}

// connect dials the provider under the configured timeout.
func (c *Controller) connect(ctx context.Context) (live.SessionHandle, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()
	sess, err := c.provider.Connect(dialCtx, c.cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	return sess, nil
}

// activate installs a connected session: resets the transcript, attaches the
// capture pipeline and starts the dispatch loop.
func (c *Controller) activate(ctx context.Context, sess live.SessionHandle) {
	dispatchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	c.mu.Lock()
	c.sess = sess
	c.cancel = cancel
	c.sessGen++
	gen := c.sessGen
	c.mu.Unlock()

	c.log.Reset()
	sess.OnError(func(err error) {
		c.logger.Warn("non-fatal session error", "error", err)
	})
	c.pipeline.Attach(sess)

	c.setState(StateConnected, "")
	c.logger.Info("session connected")

	go c.dispatch(dispatchCtx, sess, gen)
}

// Stop closes the current session and returns to idle. Safe to call in any
// state.
func (c *Controller) Stop() {
	c.mu.Lock()
	sess := c.sess
	cancel := c.cancel
	c.sess = nil
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sess != nil {
		// The dispatch goroutine is gone once cancel fires; drain so the
		// provider's receive loop cannot block before Close lands. The drains
		// exit when Close closes the channels.
		go audio.Drain(sess.Audio())
		go audio.Drain(sess.Transcripts())
		go audio.Drain(sess.Interruptions())
	}
	c.pipeline.Detach()
	c.scheduler.StopAll()
	if sess != nil {
		if err := sess.Close(); err != nil {
			c.logger.Warn("session close failed", "error", err)
		}
		c.logger.Info("session stopped")
	}
	c.setState(StateIdle, "")
}

// dispatch is the single goroutine routing everything one session emits.
// It exits when all session channels close or the session is replaced.
func (c *Controller) dispatch(ctx context.Context, sess live.SessionHandle, gen uint64) {
	audioCh := sess.Audio()
	transcriptCh := sess.Transcripts()
	interruptCh := sess.Interruptions()

	for audioCh != nil || transcriptCh != nil || interruptCh != nil {
		select {
		case <-ctx.Done():
			return

		case chunk, ok := <-audioCh:
			if !ok {
				audioCh = nil
				continue
			}
			c.scheduler.Schedule(chunk)
			if c.onReceive != nil {
				c.onReceive(len(chunk))
			}

		case entry, ok := <-transcriptCh:
			if !ok {
				transcriptCh = nil
				continue
			}
			c.handleTranscript(entry)

		case _, ok := <-interruptCh:
			if !ok {
				interruptCh = nil
				continue
			}
			// Barge-in: the user talked over the assistant. Everything
			// queued for playback is stale.
			c.logger.Debug("interruption, discarding buffered playback")
			c.scheduler.StopAll()
			if c.onInterrupt != nil {
				c.onInterrupt()
			}
		}
	}

	c.sessionEnded(ctx, sess, gen)
}

// SetDetector replaces the stop phrase detector, e.g. after a config reload.
// Passing nil disables detection.
func (c *Controller) SetDetector(d *transcript.Detector) {
	c.mu.Lock()
	c.detector = d
	c.mu.Unlock()
}

// handleTranscript records a fragment and checks the user's side for a stop
// phrase.
func (c *Controller) handleTranscript(entry live.TranscriptEntry) {
	c.log.Append(entry)
	if c.onTranscript != nil {
		c.onTranscript(entry)
	}

	c.mu.Lock()
	detector := c.detector
	c.mu.Unlock()

	if detector == nil || entry.Role != live.RoleUser {
		return
	}
	if phrase, score, ok := detector.Detect(entry.Text); ok {
		c.logger.Info("stop phrase detected", "phrase", phrase, "score", score)
		if c.onStopPhrase != nil {
			c.onStopPhrase(phrase)
		}
		c.Stop()
	}
}

// sessionEnded handles a session whose channels all closed on the provider
// side. A clean end returns to idle; an unclean one lands in the error state
// or triggers the reconnect policy.
func (c *Controller) sessionEnded(ctx context.Context, sess live.SessionHandle, gen uint64) {
	c.mu.Lock()
	if c.sessGen != gen || c.sess == nil {
		// Stop or a replacement session already handled teardown.
		c.mu.Unlock()
		return
	}
	c.sess = nil
	c.cancel = nil
	c.mu.Unlock()

	c.pipeline.Detach()
	c.scheduler.StopAll()
	_ = sess.Close()

	err := sess.Err()
	if err == nil {
		c.logger.Info("session ended")
		c.setState(StateIdle, "")
		return
	}

	kind := classifyError(err)
	c.logger.Error("session failed", "error", err)

	if c.reconnect.Enabled {
		if c.attemptReconnect(ctx) {
			return
		}
	}
	if c.onError != nil {
		c.onError(kind)
	}
	c.setState(StateError, kind.Error())
}
