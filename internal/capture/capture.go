// Package capture forwards microphone audio blocks to a live session.
//
// The microphone source produces fixed-size float32 blocks at the wire input
// rate. Each block is converted to PCM16 and sent to the attached session.
// Sends are fire-and-forget: a failed send is reported through the error
// callback but never retried, since realtime audio that arrives late is
// worthless.
//
// Blocks captured before a session is attached are held in a bounded queue
// and flushed on attach, so the first words spoken while the connection is
// still being established are not lost. When the queue is full the oldest
// block is dropped first: recent audio is always worth more than stale audio.
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/synchronvoice/synchron/pkg/audio"
	"github.com/synchronvoice/synchron/pkg/live"
)

// DefaultMaxQueuedBlocks bounds the pre-attach queue. At 4096 frames per
// block and 16 kHz this holds roughly eight seconds of audio.
const DefaultMaxQueuedBlocks = 32

// Pipeline converts captured float32 blocks to PCM16 and forwards them to a
// live session. All methods are safe for concurrent use.
type Pipeline struct {
	blocks   <-chan []float32
	logger   *slog.Logger
	onError  func(error)
	onSend   func(bytes int)
	wireRate int

	mu       sync.Mutex
	sess     live.SessionHandle
	queue    [][]byte
	maxQueue int
	sent     uint64
	dropped  uint64
}

// Option is a functional option for configuring a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger used for send failures and queue drops.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

// WithErrorFunc registers a callback for failed sends. The callback runs on
// the pipeline goroutine and must not block.
func WithErrorFunc(fn func(error)) Option {
	return func(p *Pipeline) { p.onError = fn }
}

// WithSendFunc registers a callback invoked with the PCM byte count of every
// successfully sent block.
func WithSendFunc(fn func(bytes int)) Option {
	return func(p *Pipeline) { p.onSend = fn }
}

// WithMaxQueuedBlocks overrides the pre-attach queue bound.
func WithMaxQueuedBlocks(n int) Option {
	return func(p *Pipeline) { p.maxQueue = n }
}

// WithWireRate sets the sample rate the session expects for input audio.
// Blocks arrive from the capture device at the device rate and are resampled
// on the way through when the rates differ. Defaults to the device rate.
func WithWireRate(rate int) Option {
	return func(p *Pipeline) {
		if rate > 0 {
			p.wireRate = rate
		}
	}
}

// New creates a Pipeline reading float32 blocks from the given channel.
func New(blocks <-chan []float32, opts ...Option) *Pipeline {
	p := &Pipeline{
		blocks:   blocks,
		logger:   slog.Default(),
		maxQueue: DefaultMaxQueuedBlocks,
		wireRate: audio.InputSampleRate,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Run consumes blocks until ctx is cancelled or the block channel closes.
// It always returns nil on a closed channel so that an errgroup treats the
// source draining as a clean shutdown.
func (p *Pipeline) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case block, ok := <-p.blocks:
			if !ok {
				return nil
			}
			pcm := audio.Float32ToPCM16(block)
			if p.wireRate != audio.InputSampleRate {
				pcm = audio.ResampleMono16(pcm, audio.InputSampleRate, p.wireRate)
			}
			p.handleBlock(pcm)
		}
	}
}

// handleBlock sends a PCM16 block to the session, or queues it when no
// session is attached yet.
func (p *Pipeline) handleBlock(pcm []byte) {
	p.mu.Lock()
	sess := p.sess
	if sess == nil {
		if len(p.queue) >= p.maxQueue {
			p.queue = p.queue[1:]
			p.dropped++
			p.logger.Debug("capture queue full, dropped oldest block", "max", p.maxQueue)
		}
		p.queue = append(p.queue, pcm)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	p.send(sess, pcm)
}

// send forwards one block, reporting failures without retrying.
func (p *Pipeline) send(sess live.SessionHandle, pcm []byte) {
	if err := sess.SendAudio(pcm); err != nil {
		p.logger.Warn("audio send failed", "error", err, "bytes", len(pcm))
		if p.onError != nil {
			p.onError(fmt.Errorf("capture: send: %w", err))
		}
		return
	}
	p.mu.Lock()
	p.sent++
	p.mu.Unlock()
	if p.onSend != nil {
		p.onSend(len(pcm))
	}
}

// Attach connects the pipeline to a session and flushes all queued blocks to
// it in capture order.
func (p *Pipeline) Attach(sess live.SessionHandle) {
	p.mu.Lock()
	p.sess = sess
	queued := p.queue
	p.queue = nil
	p.mu.Unlock()

	for _, pcm := range queued {
		p.send(sess, pcm)
	}
	if len(queued) > 0 {
		p.logger.Debug("flushed queued capture blocks", "blocks", len(queued))
	}
}

// Detach disconnects the pipeline from its session. Subsequent blocks queue
// again until the next Attach.
func (p *Pipeline) Detach() {
	p.mu.Lock()
	p.sess = nil
	p.queue = nil
	p.mu.Unlock()
}

// Stats reports the number of blocks sent and dropped so far.
func (p *Pipeline) Stats() (sent, dropped uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sent, p.dropped
}
