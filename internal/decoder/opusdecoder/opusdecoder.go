// Package opusdecoder adapts github.com/drgolem/go-opus to the
// decoder.Decoder interface. go-opus comes from the same author as the
// teacher's github.com/drgolem/go-flac and exposes the same
// Open/GetFormat/DecodeSamples/Close/Delete shape, so this adapter mirrors
// flacdecoder's structure rather than introducing a new decoding pattern.
package opusdecoder

import (
	"fmt"

	goopus "github.com/drgolem/go-opus/opus"

	"github.com/audiopipe/gapless/internal/decoder"
	"github.com/audiopipe/gapless/internal/pcmformat"
)

// OutputBitsPerSample is the PCM width requested from go-opus's decoder.
const OutputBitsPerSample = 16

// Decoder decodes Ogg Opus audio via go-opus. Like the teacher's FLAC and
// MP3 wrappers, it decodes forward-only, so Decoder reports SupportsSeeking
// false.
type Decoder struct {
	url string
	dec *goopus.OpusDecoder

	format  pcmformat.Format
	current int64

	callbacks decoder.Callbacks
}

// Open opens fileName for Opus decoding.
func Open(fileName string) (*Decoder, error) {
	dec, err := goopus.NewOpusDecoder(OutputBitsPerSample)
	if err != nil {
		return nil, fmt.Errorf("opusdecoder: failed to create decoder: %w", err)
	}
	if err := dec.Open(fileName); err != nil {
		dec.Delete()
		return nil, fmt.Errorf("opusdecoder: failed to open %s: %w", fileName, err)
	}

	rate, channels, bps := dec.GetFormat()

	return &Decoder{
		url: fileName,
		dec: dec,
		format: pcmformat.Format{
			SampleRate:    rate,
			Channels:      channels,
			BitsPerSample: bps,
			BytesPerFrame: channels * bps / 8,
		},
	}, nil
}

func (d *Decoder) URL() string             { return d.url }
func (d *Decoder) Format() pcmformat.Format { return d.format }
func (d *Decoder) SupportsSeeking() bool    { return false }
func (d *Decoder) CurrentFrame() int64      { return d.current }
func (d *Decoder) SeekToFrame(f int64) int64 { return -1 }

// Read decodes up to maxFrames frames into buffers[0].
func (d *Decoder) Read(buffers [][]byte, maxFrames int) (int, error) {
	n, err := d.dec.DecodeSamples(maxFrames, buffers[0])
	d.current += int64(n)
	if err != nil {
		return n, fmt.Errorf("opusdecoder: decode failed: %w", err)
	}
	return n, nil
}

func (d *Decoder) SetCallbacks(cb decoder.Callbacks) { d.callbacks = cb }

func (d *Decoder) Close() error {
	if d.dec != nil {
		d.dec.Close()
		d.dec.Delete()
		d.dec = nil
	}
	return nil
}
