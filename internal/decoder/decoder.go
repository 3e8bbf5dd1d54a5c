// Package decoder defines the collaborator interface concrete audio
// decoders implement (spec.md §6), generalizing the teacher's
// types.AudioDecoder (Open/Close/GetFormat/DecodeSamples) to the
// frame-indexed, seekable, callback-driven contract the engine needs.
package decoder

import "github.com/audiopipe/gapless/internal/pcmformat"

// Callbacks are the four lifecycle hooks spec.md §6 requires. Any hook left
// nil is simply not invoked.
type Callbacks struct {
	DecodingStarted   func()
	DecodingFinished  func()
	RenderingStarted  func()
	RenderingFinished func()
}

// Decoder produces PCM frames from a URL (in practice, usually a local file
// path; the interface makes no assumption beyond what URL() reports).
//
// Read is called from the decoder worker thread only. SeekToFrame and
// CurrentFrame are also called only from the decoder worker thread, inside
// the seek protocol (spec.md §4.4.1); they are not expected to be
// goroutine-safe against concurrent Read calls.
type Decoder interface {
	// URL identifies the source this decoder was opened from.
	URL() string

	// Format returns the PCM layout this decoder produces. The file-based
	// adapters fix it once Open succeeds; streamdecoder.Decoder instead
	// reports the format of the most recent packet its provider returned.
	Format() pcmformat.Format

	// SupportsSeeking reports whether SeekToFrame may be called.
	SupportsSeeking() bool

	// CurrentFrame returns the decoder's current read position, in frames
	// relative to the start of the source.
	CurrentFrame() int64

	// SeekToFrame asks the decoder to seek to frame f and returns the frame
	// it actually landed on. Returns a negative value if the seek failed.
	SeekToFrame(f int64) int64

	// Read decodes up to maxFrames frames into buffers (one []byte per
	// channel if the format is non-interleaved, otherwise a single
	// []byte). Returns the number of frames produced; 0 means end of
	// stream.
	Read(buffers [][]byte, maxFrames int) (int, error)

	// SetCallbacks registers the lifecycle hooks the worker and render
	// callback fire through this decoder's lifetime.
	SetCallbacks(cb Callbacks)

	// Close releases the decoder's resources.
	Close() error
}
