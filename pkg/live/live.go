// Package live defines the Provider interface for realtime speech-to-speech
// backends.
//
// A live provider wraps a hosted voice AI service that accepts raw audio
// input and returns synthesised audio output in a single, stateful session —
// there is no separate STT → LLM → TTS pipeline. Examples include the Gemini
// Live API and the OpenAI Realtime API.
//
// The central abstraction is SessionHandle: a bidirectional, multiplexed
// channel that carries audio, transcript fragments, and interruption signals
// concurrently. Sessions are long-lived (seconds to minutes).
//
// All implementations must be safe for concurrent use.
package live

import (
	"context"
	"time"
)

// Role identifies the speaker of a transcript fragment.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// TranscriptEntry is a text fragment emitted by the service: either the
// recognised user speech or the text form of the assistant's spoken reply.
// Fragments are partial by nature; consumers accumulate them into a running
// transcript.
type TranscriptEntry struct {
	// Role is the speaker this fragment belongs to.
	Role Role

	// Text is the fragment content. Never empty.
	Text string

	// Final reports whether this fragment completes an utterance. Providers
	// that only emit completed utterances always set it.
	Final bool

	// Timestamp is the local receive time of the fragment.
	Timestamp time.Time
}

// SessionConfig is the initial configuration for a new live session.
type SessionConfig struct {
	// Voice selects the prebuilt voice used for synthesised speech output.
	Voice string

	// Instructions is the system-level prompt that defines the assistant's
	// behaviour for the whole session.
	Instructions string

	// Transcribe requests text transcription of both the user's speech and
	// the assistant's audio output alongside the audio stream.
	Transcribe bool
}

// Capabilities describes static properties of a live provider. The values are
// assumed constant for the lifetime of the Provider instance.
type Capabilities struct {
	// InputSampleRate is the PCM16 sample rate the provider expects for
	// microphone audio, in Hz.
	InputSampleRate int

	// OutputSampleRate is the PCM16 sample rate of synthesised audio, in Hz.
	OutputSampleRate int

	// MaxSessionDuration is the hard upper bound on session lifetime imposed
	// by the provider. Zero means no documented limit.
	MaxSessionDuration time.Duration

	// Voices lists the prebuilt voice names available for this provider.
	Voices []string
}

// SessionHandle represents an open live session. It is an interface so that
// test code can supply mock implementations without a live connection.
//
// The session is the hot path of the Synchron audio pipeline — every method
// must return quickly. Audio I/O is channel-based to avoid blocking the
// capture goroutine. All methods must be safe for concurrent use.
//
// Callers must call Close when the session is no longer needed.
type SessionHandle interface {
	// SendAudio delivers a raw PCM16 chunk of microphone audio to the
	// provider. The chunk must match the provider's input sample rate.
	// Returns an error if the session is closed or the write fails.
	SendAudio(chunk []byte) error

	// Audio returns a read-only channel that emits raw PCM16 byte slices as
	// the model synthesises its spoken response. The channel is closed when
	// the session ends or when a mid-stream error occurs. After the channel
	// closes, call [SessionHandle.Err] to check whether the session ended
	// cleanly. Consumers must drain this channel promptly to prevent
	// backpressure from stalling the provider's receive loop.
	Audio() <-chan []byte

	// Transcripts returns a read-only channel that emits TranscriptEntry
	// values for both user speech and assistant responses. The channel is
	// closed when the session ends.
	Transcripts() <-chan TranscriptEntry

	// Interruptions returns a read-only channel that receives a signal each
	// time the service reports that the user started speaking over the
	// assistant. On receipt the consumer must discard all buffered playback.
	// The channel is closed when the session ends.
	Interruptions() <-chan struct{}

	// Err returns the error that caused the Audio channel to close
	// prematurely, or nil if the session ended cleanly.
	Err() error

	// OnError registers a callback for non-fatal error events reported by
	// the provider mid-session. Only one callback may be active at a time;
	// subsequent calls replace the previous one.
	OnError(handler func(error))

	// Close terminates the session, releases all resources, and closes the
	// Audio, Transcripts, and Interruptions channels. Calling Close more
	// than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any realtime speech backend.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Connect establishes a new live session with the given configuration.
	// The returned SessionHandle is ready to accept audio immediately.
	//
	// Returns an error if the session cannot be established (authentication
	// failure, invalid voice, or ctx already cancelled). The caller owns the
	// SessionHandle and is responsible for calling Close.
	Connect(ctx context.Context, cfg SessionConfig) (SessionHandle, error)

	// Capabilities returns static metadata about this provider's model.
	Capabilities() Capabilities
}
