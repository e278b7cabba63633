package audio

import "time"

// Wire and playback formats used throughout the Synchron pipeline. The
// realtime speech services consume 16 kHz mono PCM16 and synthesise their
// replies at 24 kHz mono PCM16.
const (
	InputSampleRate  = 16000
	OutputSampleRate = 24000

	// CaptureBlockFrames is the number of mono float32 samples per capture
	// block handed to the session layer.
	CaptureBlockFrames = 4096

	// InputMIMEType tags outbound realtime audio chunks.
	InputMIMEType = "audio/pcm;rate=16000"
)

// AudioFrame represents a single block of audio flowing through the pipeline.
// Frames are the atomic unit of audio transport — captured from the
// microphone, converted by the codec, and sent to the live session.
type AudioFrame struct {
	// PCM audio data, little-endian int16.
	Data []byte

	// SampleRate in Hz (16000 for capture, 24000 for playback).
	SampleRate int

	// Channels: 1 for mono capture/playback, 2 when a device forces stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the playback duration of the frame's PCM data.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	frames := len(f.Data) / 2 / f.Channels
	return time.Duration(frames) * time.Second / time.Duration(f.SampleRate)
}
