// Package mock provides test doubles for the live package interfaces.
//
// Use Provider to verify Connect calls and feed controlled live sessions.
// Use Session to drive the audio, transcript and interruption streams and
// inspect which methods the session controller invoked.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.Connect(ctx, cfg)
//	sess.AudioCh <- pcmChunk
package mock

import (
	"context"
	"sync"

	"github.com/synchronvoice/synchron/pkg/live"
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the SessionConfig passed to Connect.
	Cfg live.SessionConfig
}

// Provider is a mock implementation of live.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by Connect. If nil, Connect
	// returns a new default Session with buffered channels.
	Session live.SessionHandle

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ConnectDelay makes Connect block until the passed context is done when
	// set, then return ctx.Err(). Used to exercise connect timeouts.
	ConnectDelay bool

	// ProviderCapabilities is returned by Capabilities.
	ProviderCapabilities live.Capabilities

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall
}

// Connect records the call and returns Session, ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg live.SessionConfig) (live.SessionHandle, error) {
	p.mu.Lock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	delay := p.ConnectDelay
	connectErr := p.ConnectErr
	sess := p.Session
	p.mu.Unlock()

	if delay {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if connectErr != nil {
		return nil, connectErr
	}
	if sess != nil {
		return sess, nil
	}
	return NewSession(), nil
}

// Capabilities returns ProviderCapabilities.
func (p *Provider) Capabilities() live.Capabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ProviderCapabilities
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = nil
}

// Ensure Provider implements live.Provider at compile time.
var _ live.Provider = (*Provider)(nil)

// SendAudioCall records a single invocation of Session.SendAudio.
type SendAudioCall struct {
	// Chunk is a copy of the audio bytes that were passed to SendAudio.
	Chunk []byte
}

// Session is a mock implementation of live.SessionHandle.
// Tests drive the session by writing to AudioCh, TranscriptsCh and
// InterruptionsCh, and end it by calling EndSession.
type Session struct {
	mu sync.Mutex

	// AudioCh is the channel returned by Audio(). Callers own this channel.
	AudioCh chan []byte

	// TranscriptsCh is the channel returned by Transcripts(). Callers own
	// this channel.
	TranscriptsCh chan live.TranscriptEntry

	// InterruptionsCh is the channel returned by Interruptions(). Callers own
	// this channel.
	InterruptionsCh chan struct{}

	// errorHandler is the currently registered OnError callback.
	errorHandler func(error)

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// ErrVal is returned by Err.
	ErrVal error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// SendAudioCalls records every call to SendAudio in order.
	SendAudioCalls []SendAudioCall

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	ended bool
}

// NewSession returns a Session with buffered channels ready for use.
func NewSession() *Session {
	return &Session{
		AudioCh:         make(chan []byte, 64),
		TranscriptsCh:   make(chan live.TranscriptEntry, 16),
		InterruptionsCh: make(chan struct{}, 1),
	}
}

// SendAudio records the call and returns SendAudioErr.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.SendAudioCalls = append(s.SendAudioCalls, SendAudioCall{Chunk: cp})
	return s.SendAudioErr
}

// Audio returns AudioCh.
func (s *Session) Audio() <-chan []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.AudioCh
}

// Transcripts returns TranscriptsCh.
func (s *Session) Transcripts() <-chan live.TranscriptEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.TranscriptsCh
}

// Interruptions returns InterruptionsCh.
func (s *Session) Interruptions() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.InterruptionsCh
}

// Err returns ErrVal.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ErrVal
}

// OnError stores the handler.
func (s *Session) OnError(handler func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorHandler = handler
}

// EmitError invokes the registered OnError handler, if any. Thread-safe.
func (s *Session) EmitError(err error) {
	s.mu.Lock()
	handler := s.errorHandler
	s.mu.Unlock()
	if handler != nil {
		handler(err)
	}
}

// EndSession closes all three outbound channels, simulating a session that
// ended on the provider side. Safe to call once; ErrVal may be set first to
// simulate an unclean end.
func (s *Session) EndSession() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true
	close(s.AudioCh)
	close(s.TranscriptsCh)
	close(s.InterruptionsCh)
}

// Close records the call, closes the channels and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	s.CloseCallCount++
	closeErr := s.CloseErr
	ended := s.ended
	s.mu.Unlock()
	if !ended {
		s.EndSession()
	}
	return closeErr
}

// SentAudio returns a copy of the recorded SendAudio calls. Thread-safe.
func (s *Session) SentAudio() []SendAudioCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	calls := make([]SendAudioCall, len(s.SendAudioCalls))
	copy(calls, s.SendAudioCalls)
	return calls
}

// CloseCount returns how many times Close was called. Thread-safe.
func (s *Session) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCallCount
}

// ResetCalls clears all recorded calls. Thread-safe.
func (s *Session) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SendAudioCalls = nil
	s.CloseCallCount = 0
}

// Ensure Session implements live.SessionHandle at compile time.
var _ live.SessionHandle = (*Session)(nil)
