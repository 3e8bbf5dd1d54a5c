// Package converter defines the sample-rate/format converter collaborator
// (spec.md §6): it pulls PCM from an input callback and fills a caller's
// output buffers, converting between the ring buffer's format and the
// device's virtual format.
package converter

import "github.com/audiopipe/gapless/internal/pcmformat"

// InputFunc is supplied by the render callback. Implementations fetch one
// ring-buffer-aligned slab of PCM per invocation; Fill may call it more than
// once per call. It returns the number of frames actually provided.
type InputFunc func(buffers [][]byte, frames int) (int, error)

// Converter converts PCM between a source and destination format, pulling
// input on demand via an InputFunc.
type Converter interface {
	// Fill writes up to numFrames converted frames into output, pulling
	// source PCM through pull as needed. Returns the number of frames
	// actually written.
	Fill(numFrames int, output [][]byte, pull InputFunc) (int, error)

	// Reset discards any buffered/partial conversion state, used after a
	// seek (spec.md §4.4.1 step 5) so stale samples don't bleed across the
	// discontinuity.
	Reset()

	// CalculateInputBufferSize returns how many input bytes are needed to
	// produce outputBytes of converted output, at this converter's
	// configured rate ratio.
	CalculateInputBufferSize(outputBytes int) int

	// Dispose releases any resources (e.g. the underlying resampler). The
	// converter must not be used after Dispose.
	Dispose()
}

// Factory constructs a Converter for the given source/destination formats.
// PlayerController holds one of these rather than a concrete constructor so
// tests can substitute a fake converter.
type Factory func(src, dst pcmformat.Format) (Converter, error)
