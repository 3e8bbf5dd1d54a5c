// Package flacdecoder adapts github.com/drgolem/go-flac to the
// decoder.Decoder interface, generalizing the teacher's
// pkg/decoders/flac.Decoder (Open/GetFormat/DecodeSamples) to the frame-
// indexed Read contract. go-flac's frame decoder is forward-only, so, like
// the teacher, Decoder reports SupportsSeeking false.
package flacdecoder

import (
	"fmt"

	goflac "github.com/drgolem/go-flac/flac"

	"github.com/audiopipe/gapless/internal/decoder"
	"github.com/audiopipe/gapless/internal/pcmformat"
)

// OutputBitsPerSample is the PCM width requested from go-flac's frame
// decoder, matching the teacher's NewFlacFrameDecoder(16) default.
const OutputBitsPerSample = 16

// Decoder decodes FLAC audio via go-flac's frame decoder.
type Decoder struct {
	url string
	dec *goflac.FlacDecoder

	format  pcmformat.Format
	current int64

	callbacks decoder.Callbacks
}

// Open opens fileName for FLAC decoding.
func Open(fileName string) (*Decoder, error) {
	dec, err := goflac.NewFlacFrameDecoder(OutputBitsPerSample)
	if err != nil {
		return nil, fmt.Errorf("flacdecoder: failed to create decoder: %w", err)
	}
	if err := dec.Open(fileName); err != nil {
		dec.Delete()
		return nil, fmt.Errorf("flacdecoder: failed to open %s: %w", fileName, err)
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

// Read decodes up to maxFrames frames into buffers[0], mirroring the
// teacher's DecodeSamples(samples, audio) call, which already operates in
// frame-count terms despite its "samples" naming.
func (d *Decoder) Read(buffers [][]byte, maxFrames int) (int, error) {
	n, err := d.dec.DecodeSamples(maxFrames, buffers[0])
	d.current += int64(n)
	if err != nil {
		return n, fmt.Errorf("flacdecoder: decode failed: %w", err)
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
