// Package app wires all Synchron subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes them until the context is cancelled, and Close
// tears everything down.
//
// For testing, inject fakes via functional options (WithProvider,
// WithBlockSource, WithSink). When an option is not provided, New creates
// real implementations from the config: the configured realtime provider, a
// PortAudio microphone, and a PortAudio speaker.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/synchronvoice/synchron/internal/capture"
	"github.com/synchronvoice/synchron/internal/config"
	"github.com/synchronvoice/synchron/internal/device"
	"github.com/synchronvoice/synchron/internal/health"
	"github.com/synchronvoice/synchron/internal/observe"
	"github.com/synchronvoice/synchron/internal/playback"
	"github.com/synchronvoice/synchron/internal/server"
	"github.com/synchronvoice/synchron/internal/session"
	"github.com/synchronvoice/synchron/internal/transcript"
	"github.com/synchronvoice/synchron/internal/ui"
	"github.com/synchronvoice/synchron/pkg/audio"
	"github.com/synchronvoice/synchron/pkg/live"
)

// App owns all subsystem lifetimes and orchestrates the voice pipeline.
type App struct {
	cfg     *config.Config
	metrics *observe.Metrics
	logger  *slog.Logger

	provider   live.Provider
	scheduler  *playback.Scheduler
	pipeline   *capture.Pipeline
	log        *transcript.Log
	controller *session.Controller
	renderer   *ui.Renderer
	srv        *server.Server

	// Real audio devices; nil when test doubles are injected.
	mic     *device.Capture
	speaker *device.Speaker

	// connected tracks the active-session gauge across state transitions;
	// connectedAt is the start of the current session for duration metrics.
	connMu      sync.Mutex
	connected   bool
	connectedAt time.Time

	closeOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*options)

type options struct {
	provider live.Provider
	blocks   <-chan []float32
	sink     playback.Sink
	output   io.Writer
	metrics  *observe.Metrics
	logger   *slog.Logger
}

// WithProvider injects a realtime provider instead of creating one from the
// registry.
func WithProvider(p live.Provider) Option {
	return func(o *options) { o.provider = p }
}

// WithBlockSource injects a microphone block channel instead of opening a
// PortAudio capture device.
func WithBlockSource(ch <-chan []float32) Option {
	return func(o *options) { o.blocks = ch }
}

// WithSink injects a playback sink instead of opening a PortAudio speaker.
func WithSink(s playback.Sink) Option {
	return func(o *options) { o.sink = s }
}

// WithOutput sets the writer for terminal output. Defaults to os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(o *options) { o.output = w }
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New creates an App by wiring all subsystems together. The registry supplies
// the provider factory named in cfg unless one is injected.
func New(cfg *config.Config, reg *config.Registry, opts ...Option) (*App, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.output == nil {
		o.output = os.Stdout
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	a := &App{
		cfg:      cfg,
		metrics:  o.metrics,
		logger:   o.logger,
		provider: o.provider,
		renderer: ui.New(o.output),
		log:      transcript.NewLog(),
	}

	if a.provider == nil {
		p, err := reg.Create(cfg.Provider)
		if err != nil {
			return nil, fmt.Errorf("app: create provider: %w", err)
		}
		a.provider = p
		a.logger.Info("provider created", "name", cfg.Provider.Name, "model", cfg.Provider.Model)
	}

	// The provider dictates the wire sample rates; fall back to the package
	// defaults when it does not report them.
	caps := a.provider.Capabilities()
	inputRate := caps.InputSampleRate
	if inputRate <= 0 {
		inputRate = audio.InputSampleRate
	}
	outputRate := caps.OutputSampleRate
	if outputRate <= 0 {
		outputRate = audio.OutputSampleRate
	}

	sink := o.sink
	if sink == nil {
		speaker, err := device.NewSpeaker(outputRate)
		if err != nil {
			return nil, fmt.Errorf("app: open speaker: %w", err)
		}
		a.speaker = speaker
		sink = speaker
	}

	blocks := o.blocks
	if blocks == nil {
		mic, err := device.NewCapture(cfg.Audio.InputDevice)
		if err != nil {
			return nil, fmt.Errorf("app: open microphone: %w", err)
		}
		a.mic = mic
		blocks = mic.Blocks()
	}

	a.scheduler = playback.NewScheduler(sink,
		playback.WithLogger(a.logger),
		playback.WithSampleRate(outputRate),
		playback.WithSpeakingFunc(func(on bool) {
			a.controller.SetSpeaking(on)
		}),
	)

	captureOpts := []capture.Option{
		capture.WithLogger(a.logger),
		capture.WithWireRate(inputRate),
		capture.WithSendFunc(func(bytes int) {
			a.metrics.RecordAudioSent(context.Background(), bytes)
		}),
	}
	if cfg.Audio.MaxQueuedBlocks > 0 {
		captureOpts = append(captureOpts, capture.WithMaxQueuedBlocks(cfg.Audio.MaxQueuedBlocks))
	}
	a.pipeline = capture.New(blocks, captureOpts...)

	a.controller = session.NewController(
		a.provider,
		live.SessionConfig{
			Voice:        cfg.Provider.Voice,
			Instructions: cfg.Provider.Instructions,
			Transcribe:   cfg.Provider.Transcribe,
		},
		a.scheduler,
		a.pipeline,
		a.log,
		a.controllerOptions()...,
	)

	if cfg.Server.ListenAddr != "" {
		a.srv = server.New(cfg.Server.ListenAddr, a.status,
			server.WithLogger(a.logger),
			server.WithMetrics(a.metrics),
			server.WithCheckers(
				health.Checker{Name: "provider", Check: a.checkProvider},
				health.Checker{Name: "session", Check: a.checkSession},
			),
		)
	}

	return a, nil
}

// controllerOptions builds the session controller options from config and
// wires the observability callbacks.
func (a *App) controllerOptions() []session.Option {
	opts := []session.Option{
		session.WithLogger(a.logger),
		session.WithStateFunc(a.onState),
		session.WithReceiveFunc(func(bytes int) {
			a.metrics.RecordAudioReceived(context.Background(), bytes)
		}),
		session.WithTranscriptFunc(func(entry live.TranscriptEntry) {
			a.renderer.Transcript(entry)
			a.metrics.RecordTranscriptFragment(context.Background(), string(entry.Role))
		}),
		session.WithInterruptFunc(func() {
			a.metrics.PlaybackInterruptions.Add(context.Background(), 1)
		}),
		session.WithStopPhraseFunc(func(string) {
			a.metrics.StopPhraseDetections.Add(context.Background(), 1)
		}),
		session.WithErrorFunc(func(err error) {
			kind := "transport"
			if errors.Is(err, session.ErrPermission) {
				kind = "permission"
			}
			a.metrics.RecordSessionError(context.Background(), kind)
		}),
	}

	if a.cfg.Session.ConnectTimeout > 0 {
		opts = append(opts, session.WithConnectTimeout(a.cfg.Session.ConnectTimeout))
	}
	if phrases := a.cfg.Session.StopPhrases; len(phrases) > 0 {
		opts = append(opts, session.WithStopPhraseDetector(transcript.NewDetector(phrases)))
	}
	if rc := a.cfg.Session.Reconnect; rc.Enabled {
		opts = append(opts, session.WithReconnectPolicy(session.ReconnectPolicy{
			Enabled:    true,
			MaxRetries: rc.MaxRetries,
			Backoff:    rc.Backoff,
			MaxBackoff: rc.MaxBackoff,
		}))
	}
	return opts
}

// onState feeds state transitions to the terminal renderer and keeps the
// active-session gauge in step.
func (a *App) onState(snap session.Snapshot) {
	a.renderer.State(snap)

	nowConnected := snap.State == session.StateConnected

	a.connMu.Lock()
	changed := nowConnected != a.connected
	a.connected = nowConnected
	var ended time.Duration
	if changed {
		if nowConnected {
			a.connectedAt = time.Now()
		} else if !a.connectedAt.IsZero() {
			ended = time.Since(a.connectedAt)
			a.connectedAt = time.Time{}
		}
	}
	a.connMu.Unlock()

	if !changed {
		return
	}
	if nowConnected {
		a.metrics.ActiveSessions.Add(context.Background(), 1)
	} else {
		a.metrics.ActiveSessions.Add(context.Background(), -1)
		if ended > 0 {
			a.metrics.SessionDuration.Record(context.Background(), ended.Seconds())
		}
	}
}

// Controller exposes the session controller, e.g. for signal-driven stops.
func (a *App) Controller() *session.Controller {
	return a.controller
}

// ApplyDiff applies hot-reloadable configuration changes to the running
// application. Stop phrases swap into the live detector; session and
// reconnect changes take effect on the next session start.
func (a *App) ApplyDiff(d config.ConfigDiff) {
	if d.StopPhrasesChanged {
		var detector *transcript.Detector
		if len(d.NewStopPhrases) > 0 {
			detector = transcript.NewDetector(d.NewStopPhrases)
		}
		a.controller.SetDetector(detector)
		a.logger.Info("stop phrases updated", "count", len(d.NewStopPhrases))
	}
	if d.SessionChanged {
		a.logger.Info("provider settings changed, they apply to the next session")
	}
	if d.ReconnectChanged {
		a.logger.Info("reconnect policy changed, it applies to the next session")
	}
}

// Run starts all subsystems and blocks until ctx is cancelled or a subsystem
// fails. The session is started immediately; a connect failure aborts Run.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if a.mic != nil {
		g.Go(func() error {
			return a.mic.Start(ctx)
		})
	}
	g.Go(func() error {
		return a.pipeline.Run(ctx)
	})
	if a.srv != nil {
		g.Go(func() error {
			return a.srv.Run(ctx)
		})
	}

	g.Go(func() error {
		dialStart := time.Now()
		if err := a.controller.Start(ctx); err != nil {
			return fmt.Errorf("app: start session: %w", err)
		}
		a.metrics.ConnectDuration.Record(ctx, time.Since(dialStart).Seconds())
		<-ctx.Done()
		a.controller.Stop()
		return ctx.Err()
	})

	a.logger.Info("synchron running",
		"provider", a.cfg.Provider.Name,
		"stop_phrases", len(a.cfg.Session.StopPhrases),
	)

	return g.Wait()
}

// Close releases audio devices and stops the session. Safe to call more than
// once.
func (a *App) Close() error {
	var errs []error
	a.closeOnce.Do(func() {
		a.controller.Stop()
		if a.mic != nil {
			if err := a.mic.Stop(); err != nil {
				errs = append(errs, err)
			}
		}
		if a.speaker != nil {
			if err := a.speaker.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

// status assembles the /statusz snapshot.
func (a *App) status() server.Status {
	snap := a.controller.Snapshot()
	sent, dropped := a.pipeline.Stats()
	return server.Status{
		State:             string(snap.State),
		Listening:         snap.Listening,
		Speaking:          snap.Speaking,
		Error:             snap.ErrorMsg,
		TranscriptEntries: a.log.Len(),
		CaptureSent:       sent,
		CaptureDropped:    dropped,
		PlaybackActive:    a.scheduler.ActiveCount(),
		PlaybackLeadMs:    a.scheduler.CursorLead().Milliseconds(),
	}
}

// checkProvider is the /readyz checker for provider construction.
func (a *App) checkProvider(context.Context) error {
	if a.provider == nil {
		return errors.New("no provider configured")
	}
	return nil
}

// checkSession is the /readyz checker for the session state machine.
func (a *App) checkSession(context.Context) error {
	snap := a.controller.Snapshot()
	if snap.State == session.StateError {
		return errors.New(snap.ErrorMsg)
	}
	return nil
}
