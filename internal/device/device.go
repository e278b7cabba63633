// Package device provides PortAudio-backed microphone capture and speaker
// playback for the Synchron pipeline.
//
// Capture reads fixed 4096-frame float32 mono blocks at 16 kHz and feeds
// them to the capture pipeline; Speaker accepts PCM16 mono at 24 kHz from
// the playback scheduler. Both share a single PortAudio initialisation,
// released by Terminate.
package device

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/synchronvoice/synchron/pkg/audio"
)

// ErrNoDevice indicates that the requested audio device is unavailable or
// that no default device exists. Treat it as a permission/hardware problem,
// not a transport failure.
var ErrNoDevice = errors.New("device: no usable audio device")

// Device describes one audio endpoint for listing in diagnostics.
type Device struct {
	Name     string
	Default  bool
	Channels int
}

var initOnce sync.Once
var initErr error

// initialize sets up PortAudio exactly once per process.
func initialize() error {
	initOnce.Do(func() {
		initErr = portaudio.Initialize()
	})
	if initErr != nil {
		return fmt.Errorf("device: initialize portaudio: %w", initErr)
	}
	return nil
}

// Terminate releases PortAudio. Call once at process shutdown, after all
// streams are closed.
func Terminate() error {
	return portaudio.Terminate()
}

// ListInputDevices enumerates devices capable of capture.
func ListInputDevices() ([]Device, error) {
	if err := initialize(); err != nil {
		return nil, err
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("device: enumerate: %w", err)
	}
	defaultDevice, _ := portaudio.DefaultInputDevice()

	result := make([]Device, 0, len(devices))
	for _, d := range devices {
		if d.MaxInputChannels > 0 {
			result = append(result, Device{
				Name:     d.Name,
				Default:  d == defaultDevice,
				Channels: d.MaxInputChannels,
			})
		}
	}
	return result, nil
}

// ── Capture ───────────────────────────────────────────────────────────────────

// Capture reads microphone audio as float32 mono blocks.
type Capture struct {
	stream *portaudio.Stream
	buffer []float32
	out    chan []float32

	mu      sync.Mutex
	started bool
}

// NewCapture opens the named input device, or the system default when name is
// empty, at the wire input rate with 4096-frame blocks.
func NewCapture(name string) (*Capture, error) {
	if err := initialize(); err != nil {
		return nil, err
	}

	dev, err := findInputDevice(name)
	if err != nil {
		return nil, err
	}

	buffer := make([]float32, audio.CaptureBlockFrames)
	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: 1,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(audio.InputSampleRate),
		FramesPerBuffer: len(buffer),
	}, buffer)
	if err != nil {
		return nil, fmt.Errorf("device: open capture stream: %w", err)
	}

	return &Capture{
		stream: stream,
		buffer: buffer,
		out:    make(chan []float32, 8),
	}, nil
}

func findInputDevice(name string) (*portaudio.DeviceInfo, error) {
	if name == "" {
		dev, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoDevice, err)
		}
		return dev, nil
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("device: enumerate: %w", err)
	}
	for _, d := range devices {
		if d.Name == name && d.MaxInputChannels > 0 {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrNoDevice, name)
}

// Blocks returns the channel on which captured blocks arrive. A block that
// finds the channel full is dropped; the consumer is expected to keep up.
func (c *Capture) Blocks() <-chan []float32 { return c.out }

// Start begins the read loop. The loop stops when ctx is cancelled, closing
// the Blocks channel.
func (c *Capture) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return errors.New("device: capture already started")
	}
	c.started = true
	c.mu.Unlock()

	if err := c.stream.Start(); err != nil {
		return fmt.Errorf("device: start capture stream: %w", err)
	}

	go func() {
		defer close(c.out)
		defer c.stream.Close()
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if err := c.stream.Read(); err != nil {
				return
			}
			block := make([]float32, len(c.buffer))
			copy(block, c.buffer)
			select {
			case c.out <- block:
			case <-ctx.Done():
				return
			default:
				// Consumer is behind; drop rather than stall the device.
			}
		}
	}()
	return nil
}

// Stop halts the capture stream. The read loop exits on its next iteration.
func (c *Capture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return nil
	}
	return c.stream.Stop()
}

// ── Speaker ───────────────────────────────────────────────────────────────────

// Speaker writes PCM16 mono audio to an output device. It implements the
// playback.Sink interface.
type Speaker struct {
	mu         sync.Mutex
	stream     *portaudio.Stream
	buffer     []float32
	sourceRate int
	channels   int
	conv       *audio.FormatConverter
	closed     bool
}

// NewSpeaker opens the default output device at the provider's output rate.
// Not every DAC opens at that rate in mono; when that fails the device is
// opened at its native rate in stereo and chunks are converted on the way
// through. A sourceRate of zero means the default live output rate.
func NewSpeaker(sourceRate int) (*Speaker, error) {
	if err := initialize(); err != nil {
		return nil, err
	}
	if sourceRate <= 0 {
		sourceRate = audio.OutputSampleRate
	}

	dev, err := portaudio.DefaultOutputDevice()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoDevice, err)
	}

	stream, buffer, err := openOutputStream(dev, sourceRate, 1)
	if err == nil {
		if err := stream.Start(); err != nil {
			stream.Close()
			return nil, fmt.Errorf("device: start speaker stream: %w", err)
		}
		return &Speaker{stream: stream, buffer: buffer, sourceRate: sourceRate, channels: 1}, nil
	}

	// Fallback: native rate, stereo.
	rate := int(dev.DefaultSampleRate)
	channels := min(dev.MaxOutputChannels, 2)
	stream, buffer, err = openOutputStream(dev, rate, channels)
	if err != nil {
		return nil, fmt.Errorf("device: open speaker stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("device: start speaker stream: %w", err)
	}

	return &Speaker{
		stream:     stream,
		buffer:     buffer,
		sourceRate: sourceRate,
		channels:   channels,
		conv: &audio.FormatConverter{
			Target: audio.Format{SampleRate: rate, Channels: channels},
		},
	}, nil
}

// openOutputStream opens an output stream with a fixed float32 buffer.
func openOutputStream(dev *portaudio.DeviceInfo, rate, channels int) (*portaudio.Stream, []float32, error) {
	buffer := make([]float32, 1024*channels)
	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: channels,
			Latency:  dev.DefaultLowOutputLatency,
		},
		SampleRate:      float64(rate),
		FramesPerBuffer: 1024,
	}, &buffer)
	if err != nil {
		return nil, nil, err
	}
	return stream, buffer, nil
}

// Write converts a PCM16 mono chunk to float32 and plays it synchronously in
// buffer-sized pieces. Safe for concurrent use; concurrent writers are
// serialised.
func (s *Speaker) Write(pcm []byte) error {
	if s.conv != nil {
		frame := s.conv.Convert(audio.AudioFrame{
			Data:       pcm,
			SampleRate: s.sourceRate,
			Channels:   1,
		})
		pcm = frame.Data
	}

	chans := audio.PCM16ToFloat32(pcm, s.channels)
	if len(chans) == 0 || len(chans[0]) == 0 {
		return nil
	}
	samples := interleave(chans)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("device: speaker closed")
	}

	for off := 0; off < len(samples); off += len(s.buffer) {
		n := copy(s.buffer, samples[off:])
		for i := n; i < len(s.buffer); i++ {
			s.buffer[i] = 0
		}
		if err := s.stream.Write(); err != nil {
			return fmt.Errorf("device: speaker write: %w", err)
		}
	}
	return nil
}

// interleave flattens per-channel sample slices into one interleaved buffer,
// the layout PortAudio expects for multi-channel output.
func interleave(chans [][]float32) []float32 {
	if len(chans) == 1 {
		return chans[0]
	}
	frames := len(chans[0])
	out := make([]float32, 0, frames*len(chans))
	for i := range frames {
		for _, ch := range chans {
			out = append(out, ch[i])
		}
	}
	return out
}

// Close stops and releases the output stream.
func (s *Speaker) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.stream.Stop(); err != nil {
		s.stream.Close()
		return fmt.Errorf("device: stop speaker stream: %w", err)
	}
	return s.stream.Close()
}
