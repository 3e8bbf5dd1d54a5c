// Package ringbuf implements the engine's single-producer/single-consumer
// PCM ring buffer.
//
// Unlike the byte-cursor ring buffer it is grounded on
// (github.com/drgolem/musictools/pkg/ringbuffer, which always appends at an
// internally tracked write position), this buffer is addressed by absolute
// monotonic frame index, the way CoreAudio's CARingBuffer is: the caller
// supplies the destination/source frame index on every Store/Fetch call, and
// the buffer derives the physical slot from that index modulo its capacity.
// This lets the render callback and decoder worker reason about "the frame
// at position X" without tracking a separate read/write cursor themselves;
// the ring buffer's own cursors exist only to report how much space is free.
package ringbuf

import (
	"sync/atomic"

	"github.com/drgolem/ringbuffer"
)

// Re-exported for API parity with the teacher's byte ring buffer.
var (
	ErrInsufficientSpace = ringbuffer.ErrInsufficientSpace
	ErrInsufficientData  = ringbuffer.ErrInsufficientData
)

// DefaultCapacityFrames is the ring buffer capacity spec.md names as the
// default (§3).
const DefaultCapacityFrames = 16384

// RingBuffer is a lock-free SPSC PCM ring buffer holding multi-channel
// frames, addressed by absolute frame index.
//
// Thread safety:
//   - Store must only be called by the decoder (producer) thread.
//   - Fetch must only be called by the render callback's converter input
//     callback (consumer), which runs on the realtime render thread.
type RingBuffer struct {
	capacity       int64 // power of 2
	mask           int64
	channels       int
	nonInterleaved bool
	frameStride    []int // bytes per frame, per internal buffer
	buffers        [][]byte

	framesDecoded  atomic.Int64
	framesRendered atomic.Int64
}

// New creates a ring buffer sized to hold at least capacityFrames frames of
// the given format. Capacity is rounded up to the next power of two so that
// modulo-by-mask addressing can be used on the hot path.
func New(capacityFrames int, channels, bytesPerFrame int, nonInterleaved bool) *RingBuffer {
	capacity := nextPowerOf2(int64(capacityFrames))

	rb := &RingBuffer{
		capacity:       capacity,
		mask:           capacity - 1,
		channels:       channels,
		nonInterleaved: nonInterleaved,
	}

	if nonInterleaved {
		bytesPerSample := bytesPerFrame / channels
		rb.frameStride = make([]int, channels)
		rb.buffers = make([][]byte, channels)
		for ch := 0; ch < channels; ch++ {
			rb.frameStride[ch] = bytesPerSample
			rb.buffers[ch] = make([]byte, capacity*int64(bytesPerSample))
		}
	} else {
		rb.frameStride = []int{bytesPerFrame}
		rb.buffers = [][]byte{make([]byte, capacity*int64(bytesPerFrame))}
	}

	return rb
}

// Capacity returns the ring buffer's size in frames.
func (rb *RingBuffer) Capacity() int64 {
	return rb.capacity
}

// FramesDecoded returns the global absolute frame-decoded counter.
func (rb *RingBuffer) FramesDecoded() int64 { return rb.framesDecoded.Load() }

// FramesRendered returns the global absolute frame-rendered counter.
func (rb *RingBuffer) FramesRendered() int64 { return rb.framesRendered.Load() }

// AddFramesDecoded atomically advances the frames-decoded counter and
// returns the new value. Called by the decoder worker after a successful
// Store.
func (rb *RingBuffer) AddFramesDecoded(n int64) int64 {
	return rb.framesDecoded.Add(n)
}

// AddFramesRendered atomically advances the frames-rendered counter and
// returns the new value. Called by the render callback's input callback
// after a successful Fetch.
func (rb *RingBuffer) AddFramesRendered(n int64) int64 {
	return rb.framesRendered.Add(n)
}

// SetFramesDecoded force-sets the frames-decoded counter.
func (rb *RingBuffer) SetFramesDecoded(v int64) { rb.framesDecoded.Store(v) }

// SetFramesRendered force-sets the frames-rendered counter.
func (rb *RingBuffer) SetFramesRendered(v int64) { rb.framesRendered.Store(v) }

// AvailableToRead returns framesDecoded - framesRendered, the number of
// frames currently valid for Fetch.
func (rb *RingBuffer) AvailableToRead() int64 {
	return rb.framesDecoded.Load() - rb.framesRendered.Load()
}

// AvailableToWrite returns the free space, in frames, before the producer
// would overrun the reader.
func (rb *RingBuffer) AvailableToWrite() int64 {
	return rb.capacity - rb.AvailableToRead()
}

// Store writes n frames from buffers into the ring at absolute frame index
// destFrame. It fails with ErrInsufficientSpace if dest+n would overrun the
// still-unread window (§4.1): dest + n > framesRendered + capacity. Must
// only be called by the producer (decoder worker).
func (rb *RingBuffer) Store(buffers [][]byte, n int, destFrame int64) error {
	if n == 0 {
		return nil
	}

	framesRendered := rb.framesRendered.Load()
	if destFrame+int64(n) > framesRendered+rb.capacity {
		return ErrInsufficientSpace
	}

	for i, stride := range rb.frameStride {
		rb.copyIn(rb.buffers[i], stride, buffers[i], n, destFrame)
	}

	return nil
}

// Fetch reads n frames starting at absolute frame index srcFrame into
// buffers. Frames outside the valid window [framesRendered, framesDecoded)
// are returned as silence (§4.1) rather than an error; callers that must
// avoid padding should first inspect AvailableToRead. Must only be called by
// the consumer (converter input callback).
func (rb *RingBuffer) Fetch(buffers [][]byte, n int, srcFrame int64) (int, error) {
	if n == 0 {
		return 0, nil
	}

	framesDecoded := rb.framesDecoded.Load()
	framesRendered := rb.framesRendered.Load()

	for i, stride := range rb.frameStride {
		rb.copyOutWithSilence(buffers[i], stride, rb.buffers[i], n, srcFrame, framesRendered, framesDecoded)
	}

	return n, nil
}

// copyIn writes n frames of data, each frameBytes wide, into dst at the
// position implied by destFrame modulo capacity, wrapping as needed.
func (rb *RingBuffer) copyIn(dst []byte, frameBytes int, data []byte, n int, destFrame int64) {
	pos := destFrame & rb.mask
	total := int64(n)
	capFrames := rb.capacity

	if pos+total <= capFrames {
		copy(dst[pos*int64(frameBytes):(pos+total)*int64(frameBytes)], data[:total*int64(frameBytes)])
		return
	}

	firstFrames := capFrames - pos
	copy(dst[pos*int64(frameBytes):], data[:firstFrames*int64(frameBytes)])
	copy(dst[:(total-firstFrames)*int64(frameBytes)], data[firstFrames*int64(frameBytes):total*int64(frameBytes)])
}

// copyOutWithSilence reads n frames starting at srcFrame out of src into
// dst, substituting silence for any frame outside [validFrom, validTo).
func (rb *RingBuffer) copyOutWithSilence(dst []byte, frameBytes int, src []byte, n int, srcFrame, validFrom, validTo int64) {
	for i := 0; i < n; i++ {
		frame := srcFrame + int64(i)
		out := dst[i*frameBytes : (i+1)*frameBytes]
		if frame < validFrom || frame >= validTo {
			clear(out)
			continue
		}
		pos := frame & rb.mask
		copy(out, src[pos*int64(frameBytes):(pos+1)*int64(frameBytes)])
	}
}

// Reset clears both position counters, invalidating the entire window
// without physically zeroing memory — used by PlayerController.Stop().
func (rb *RingBuffer) Reset() {
	rb.framesDecoded.Store(0)
	rb.framesRendered.Store(0)
}

func nextPowerOf2(n int64) int64 {
	if n <= 1 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	n++
	return n
}
