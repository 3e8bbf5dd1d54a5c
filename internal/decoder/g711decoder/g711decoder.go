// Package g711decoder adapts github.com/zaf/g711 to the decoder.Decoder
// interface. zaf/g711 follows the same streaming-transcoder shape as
// github.com/zaf/resample (used in internal/converter/soxr): a decoder type
// wraps a sink io.Writer and transcodes whatever is written to it. This
// adapter reuses the pull-then-drain pattern internal/converter/soxr already
// establishes for that shape, reading raw encoded G.711 bytes from the file
// and draining decoded 16-bit PCM out of the sink.
package g711decoder

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/zaf/g711"

	"github.com/audiopipe/gapless/internal/decoder"
	"github.com/audiopipe/gapless/internal/pcmformat"
)

// Encoding selects which G.711 companding law the raw file uses.
type Encoding int

const (
	// ULaw selects mu-law companding (North America/Japan).
	ULaw Encoding = iota
	// ALaw selects A-law companding (Europe/international).
	ALaw
)

// SampleRate is the fixed rate G.711 telephony audio is defined at.
const SampleRate = 8000

// Decoder decodes headerless, single-channel G.711 files. The format is a
// fixed 1 encoded byte per sample, so seeking is a plain byte-offset
// reposition.
type Decoder struct {
	url      string
	file     *os.File
	encoding Encoding

	sink    bytes.Buffer
	decoder io.Writer

	format  pcmformat.Format
	current int64

	callbacks decoder.Callbacks
}

// Open opens fileName as raw G.711 audio encoded with the given companding
// law.
func Open(fileName string, encoding Encoding) (*Decoder, error) {
	file, err := os.Open(fileName)
	if err != nil {
		return nil, fmt.Errorf("g711decoder: failed to open %s: %w", fileName, err)
	}

	d := &Decoder{
		url:      fileName,
		file:     file,
		encoding: encoding,
		format: pcmformat.Format{
			SampleRate:    SampleRate,
			Channels:      1,
			BitsPerSample: 16,
			BytesPerFrame: 2,
		},
	}
	if err := d.openDecoder(); err != nil {
		file.Close()
		return nil, err
	}
	return d, nil
}

func (d *Decoder) openDecoder() error {
	var dec io.Writer
	var err error
	switch d.encoding {
	case ALaw:
		dec, err = g711.NewAlawDecoder(&d.sink)
	default:
		dec, err = g711.NewUlawDecoder(&d.sink)
	}
	if err != nil {
		return fmt.Errorf("g711decoder: failed to create decoder: %w", err)
	}
	d.decoder = dec
	return nil
}

func (d *Decoder) URL() string             { return d.url }
func (d *Decoder) Format() pcmformat.Format { return d.format }
func (d *Decoder) SupportsSeeking() bool    { return true }
func (d *Decoder) CurrentFrame() int64      { return d.current }

// SeekToFrame repositions the file at the byte offset for frame f (1
// encoded byte per frame) and discards any buffered decoded output, since
// G.711 decoding carries no cross-frame state.
func (d *Decoder) SeekToFrame(f int64) int64 {
	if _, err := d.file.Seek(f, io.SeekStart); err != nil {
		return -1
	}
	d.sink.Reset()
	d.current = f
	return f
}

// Read decodes up to maxFrames frames of 16-bit PCM into buffers[0].
func (d *Decoder) Read(buffers [][]byte, maxFrames int) (int, error) {
	needed := maxFrames * d.format.BytesPerFrame

	for d.sink.Len() < needed {
		raw := make([]byte, maxFrames)
		n, err := d.file.Read(raw)
		if n > 0 {
			if _, werr := d.decoder.Write(raw[:n]); werr != nil {
				return 0, fmt.Errorf("g711decoder: decode failed: %w", werr)
			}
		}
		if err != nil {
			break
		}
		if n == 0 {
			break
		}
	}

	n, _ := d.sink.Read(buffers[0][:needed])
	frames := n / d.format.BytesPerFrame
	d.current += int64(frames)
	return frames, nil
}

func (d *Decoder) SetCallbacks(cb decoder.Callbacks) { d.callbacks = cb }

func (d *Decoder) Close() error {
	if d.file != nil {
		return d.file.Close()
	}
	return nil
}
