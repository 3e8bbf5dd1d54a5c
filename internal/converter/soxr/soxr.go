// Package soxr implements the converter.Converter interface over
// github.com/zaf/resample, the SoX resampler binding the teacher uses in
// cmd/transform.go for one-shot batch resampling
// (soxr.New(w, fromRate, toRate, channels, soxr.I16, soxr.HighQ) followed by
// Write/Close). This package adapts that batch usage to the engine's
// per-render-period pull model: the resampler's sink is an in-memory FIFO
// byte buffer that Fill drains on every call, refilling it by pulling more
// source PCM through the supplied converter.InputFunc whenever it runs dry.
package soxr

import (
	"bytes"
	"fmt"

	resample "github.com/zaf/resample"

	"github.com/audiopipe/gapless/internal/converter"
	"github.com/audiopipe/gapless/internal/pcmformat"
)

// New constructs a converter.Converter for the given source/destination
// formats. If the formats already match, it returns a passthrough converter
// that copies frames directly with no resampling (mirroring the teacher's
// "fromRate == toRate" shortcut in cmd/transform.go's resampleAudio).
func New(src, dst pcmformat.Format) (converter.Converter, error) {
	if src.Equal(dst) {
		return &passthrough{format: src}, nil
	}

	if src.BitsPerSample != 16 || dst.BitsPerSample != 16 {
		return nil, fmt.Errorf("soxr converter: only 16-bit PCM is supported, got src=%d dst=%d bits",
			src.BitsPerSample, dst.BitsPerSample)
	}
	if src.Channels != dst.Channels {
		return nil, fmt.Errorf("soxr converter: channel count must match (src=%d dst=%d)", src.Channels, dst.Channels)
	}

	c := &soxrConverter{src: src, dst: dst}
	if err := c.openResampler(); err != nil {
		return nil, err
	}
	return c, nil
}

type soxrConverter struct {
	src, dst  pcmformat.Format
	sink      bytes.Buffer
	resampler *resample.Resampler

	// scratch holds the source-format PCM pulled from the decoder side each
	// time the sink runs dry. Grown on demand and reused thereafter so that
	// Fill, once warmed up to a steady render-period size, never allocates
	// (spec.md §4.5/§5's realtime constraint on the render path).
	scratch     []byte
	scratchBufs [][]byte
}

func (c *soxrConverter) openResampler() error {
	r, err := resample.New(&c.sink, float64(c.src.SampleRate), float64(c.dst.SampleRate), c.src.Channels, resample.I16, resample.HighQ)
	if err != nil {
		return fmt.Errorf("soxr converter: failed to create resampler: %w", err)
	}
	c.resampler = r
	return nil
}

func (c *soxrConverter) Fill(numFrames int, output [][]byte, pull converter.InputFunc) (int, error) {
	needed := numFrames * c.dst.BytesPerFrame
	out := output[0]
	written := 0

	for written < needed {
		if c.sink.Len() > 0 {
			n, _ := c.sink.Read(out[written:needed])
			written += n
			continue
		}

		inputFrames := c.CalculateInputBufferSize(needed-written) / c.src.BytesPerFrame
		if inputFrames <= 0 {
			inputFrames = 1
		}
		scratchSize := inputFrames * c.src.BytesPerFrame
		if cap(c.scratch) < scratchSize {
			c.scratch = make([]byte, scratchSize)
			c.scratchBufs = [][]byte{c.scratch}
		} else {
			c.scratch = c.scratch[:scratchSize]
			c.scratchBufs[0] = c.scratch
		}

		n, err := pull(c.scratchBufs, inputFrames)
		if n == 0 {
			break
		}
		if _, werr := c.resampler.Write(c.scratch[:n*c.src.BytesPerFrame]); werr != nil {
			return written / c.dst.BytesPerFrame, fmt.Errorf("soxr converter: resample write failed: %w", werr)
		}
		if err != nil {
			break
		}
	}

	return written / c.dst.BytesPerFrame, nil
}

func (c *soxrConverter) Reset() {
	if c.resampler != nil {
		c.resampler.Close()
	}
	c.sink.Reset()
	c.openResampler()
}

func (c *soxrConverter) CalculateInputBufferSize(outputBytes int) int {
	ratio := float64(c.src.SampleRate) / float64(c.dst.SampleRate)
	return int(float64(outputBytes)*ratio) + c.src.BytesPerFrame
}

func (c *soxrConverter) Dispose() {
	if c.resampler != nil {
		c.resampler.Close()
		c.resampler = nil
	}
}

// passthrough is used when the source and destination formats already match
// bit-exactly, avoiding the cost of driving a resampler for the common
// gapless-join case.
type passthrough struct {
	format pcmformat.Format
}

func (p *passthrough) Fill(numFrames int, output [][]byte, pull converter.InputFunc) (int, error) {
	return pull(output, numFrames)
}

func (p *passthrough) Reset()                                   {}
func (p *passthrough) CalculateInputBufferSize(outputBytes int) int { return outputBytes }
func (p *passthrough) Dispose()                                 {}
