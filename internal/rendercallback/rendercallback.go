// Package rendercallback implements the realtime consumer half of the
// pipeline (spec.md §4.5): invoked from the device's realtime context, it
// must never allocate, block, or take a lock. It pulls from the ring buffer
// via the format converter and distributes rendered frame counts across
// active decoders in timestamp order.
//
// Grounded in the teacher's internal/fileplayer.FilePlayer.audioCallback
// (PortAudio callback-mode consumer), generalized from "drain one ring
// buffer into one decoder's worth of frames" to "drive a converter across
// possibly-several active decoders in timestamp order."
package rendercallback

import (
	"sync/atomic"

	"github.com/audiopipe/gapless/internal/activeset"
	"github.com/audiopipe/gapless/internal/converter"
	"github.com/audiopipe/gapless/internal/decoderworker"
	"github.com/audiopipe/gapless/internal/device"
	"github.com/audiopipe/gapless/internal/ringbuf"
	"github.com/audiopipe/gapless/internal/semaphore"
)

// Callback holds the collaborators the render path pulls from. All of its
// methods run on the device's realtime thread.
type Callback struct {
	ring      *ringbuf.RingBuffer
	active    *activeset.ActiveSet
	isSeeking *decoderworker.SeekFlag

	// formatChanged is spec.md §3's virtual_format_changed shared flag.
	formatChanged *atomic.Bool

	conv         converter.Converter
	decoderWake  *semaphore.Semaphore
	collectorWake *semaphore.Semaphore

	// requestStop is invoked when the callback decides output should halt
	// (empty ring buffer with no current decoder, or a pending format
	// change). It is called on the realtime thread; Render also returns
	// device.Complete on the same pass. player.Controller supplies a
	// function that starts Stop() on a new goroutine.
	requestStop func()
}

// New creates a Callback. conv must already be built for the current
// ring-buffer/device format pair.
func New(ring *ringbuf.RingBuffer, active *activeset.ActiveSet, isSeeking *decoderworker.SeekFlag, formatChanged *atomic.Bool, conv converter.Converter, decoderWake, collectorWake *semaphore.Semaphore, requestStop func()) *Callback {
	return &Callback{
		ring: ring, active: active, isSeeking: isSeeking, formatChanged: formatChanged,
		conv: conv, decoderWake: decoderWake, collectorWake: collectorWake, requestStop: requestStop,
	}
}

// SetConverter swaps the converter used on the next Render call. Must only
// be called while output is stopped (spec.md §5's shared-resource policy).
func (c *Callback) SetConverter(conv converter.Converter) { c.conv = conv }

// Render is the device.RenderFunc registered with the output device. It
// implements spec.md §4.5's seven-step contract.
func (c *Callback) Render(outputTimestamp int64, output [][]byte, frameCount int) device.Result {
	if c.formatChanged.Load() {
		c.requestStop()
		silence(output)
		return device.Complete
	}

	if c.isSeeking.Get() {
		silence(output)
		return device.Continue
	}

	avail := c.ring.AvailableToRead()
	if avail == 0 {
		if c.active.Current() == nil {
			c.requestStop()
			silence(output)
			return device.Complete
		}
		silence(output)
		return device.Continue
	}

	renderedThisPass, err := c.conv.Fill(frameCount, output, c.pullFromRing)
	if err != nil {
		silence(output)
		return device.Continue
	}

	if c.ring.Capacity()-c.ring.AvailableToRead() >= decoderworker.ChunkFrames {
		c.decoderWake.Signal()
	}

	c.distribute(int64(renderedThisPass))

	return device.Continue
}

// pullFromRing is the converter.InputFunc: it fetches from the ring buffer
// at frames_rendered and advances the counter atomically, exactly as
// spec.md §4.5 step 5 specifies.
func (c *Callback) pullFromRing(buffers [][]byte, frames int) (int, error) {
	src := c.ring.FramesRendered()
	n, err := c.ring.Fetch(buffers, frames, src)
	if n > 0 {
		c.ring.AddFramesRendered(int64(n))
	}
	return n, err
}

// distribute implements spec.md §4.5 step 7: walk the ActiveSet in
// timestamp order, attributing the frames this pass rendered to however
// many decoders they span.
func (c *Callback) distribute(renderedThisPass int64) {
	remaining := renderedThisPass
	state := c.active.Current()

	for remaining > 0 && state != nil {
		state.FireRenderingStarted()

		remainingInDecoder := state.TotalFrames - state.FramesRendered()
		if remainingInDecoder < 0 {
			remainingInDecoder = 0
		}

		attribute := remaining
		if remainingInDecoder < attribute {
			attribute = remainingInDecoder
		}

		state.AddFramesRendered(attribute)
		remaining -= attribute

		if state.IsFullyRendered() {
			state.FireRenderingFinished()
			state.MarkReadyForCollection()
			c.collectorWake.Signal()
		}

		state = c.active.NextAfter(state.Timestamp)
	}
}

func silence(output [][]byte) {
	for _, buf := range output {
		clear(buf)
	}
}
