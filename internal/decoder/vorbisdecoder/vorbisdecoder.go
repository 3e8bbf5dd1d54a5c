// Package vorbisdecoder adapts github.com/jfreymuth/oggvorbis (backed by
// github.com/jfreymuth/vorbis) to the decoder.Decoder interface, grounded on
// ik5-audpbx's formats/vorbis.Decoder: oggvorbis.NewReader returns a reader
// whose Read([]float32) call is sized and counted in frames, not samples,
// and whose output is interleaved float32 PCM in [-1, 1] that must be scaled
// to the engine's fixed-point wire format.
package vorbisdecoder

import (
	"fmt"
	"io"
	"os"

	"github.com/jfreymuth/oggvorbis"

	"github.com/audiopipe/gapless/internal/decoder"
	"github.com/audiopipe/gapless/internal/pcmformat"
)

// OutputBitsPerSample is the PCM width this adapter converts oggvorbis's
// float32 output down to.
const OutputBitsPerSample = 16

// Decoder decodes Ogg Vorbis audio. oggvorbis decodes forward-only, so
// Decoder reports SupportsSeeking false.
type Decoder struct {
	url  string
	file *os.File
	dec  *oggvorbis.Reader

	format   pcmformat.Format
	current  int64
	frameBuf []float32

	callbacks decoder.Callbacks
}

// Open opens fileName for Ogg Vorbis decoding.
func Open(fileName string) (*Decoder, error) {
	file, err := os.Open(fileName)
	if err != nil {
		return nil, fmt.Errorf("vorbisdecoder: failed to open %s: %w", fileName, err)
	}

	dec, err := oggvorbis.NewReader(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("vorbisdecoder: failed to start decode: %w", err)
	}

	channels := dec.Channels()

	return &Decoder{
		url:  fileName,
		file: file,
		dec:  dec,
		format: pcmformat.Format{
			SampleRate:    dec.SampleRate(),
			Channels:      channels,
			BitsPerSample: OutputBitsPerSample,
			BytesPerFrame: channels * OutputBitsPerSample / 8,
		},
		frameBuf: make([]float32, 4096*channels),
	}, nil
}

func (d *Decoder) URL() string             { return d.url }
func (d *Decoder) Format() pcmformat.Format { return d.format }
func (d *Decoder) SupportsSeeking() bool    { return false }
func (d *Decoder) CurrentFrame() int64      { return d.current }
func (d *Decoder) SeekToFrame(f int64) int64 { return -1 }

// Read decodes up to maxFrames frames into buffers[0] as interleaved 16-bit
// PCM, scaling oggvorbis's float32 output the way ik5-audpbx's source.go
// sizes its frame buffer: frames * channels samples per Read call.
func (d *Decoder) Read(buffers [][]byte, maxFrames int) (int, error) {
	channels := d.format.Channels
	needed := maxFrames * channels
	if cap(d.frameBuf) < needed {
		d.frameBuf = make([]float32, needed)
	}
	buf := d.frameBuf[:needed]

	framesRead, err := d.dec.Read(buf)
	if framesRead == 0 {
		if err != nil && err != io.EOF {
			return 0, fmt.Errorf("vorbisdecoder: decode failed: %w", err)
		}
		return 0, nil
	}

	out := buffers[0]
	for i := 0; i < framesRead*channels; i++ {
		writeInt16LE(out[i*2:], floatToInt16(buf[i]))
	}

	d.current += int64(framesRead)
	return framesRead, nil
}

func floatToInt16(v float32) int16 {
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	return int16(v * 32767)
}

func writeInt16LE(dst []byte, v int16) {
	dst[0] = byte(v)
	dst[1] = byte(v >> 8)
}

func (d *Decoder) SetCallbacks(cb decoder.Callbacks) { d.callbacks = cb }

func (d *Decoder) Close() error {
	if d.file != nil {
		return d.file.Close()
	}
	return nil
}
