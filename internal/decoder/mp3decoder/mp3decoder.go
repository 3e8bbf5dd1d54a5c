// Package mp3decoder adapts github.com/imcarsen/go-mp3 to the
// decoder.Decoder interface. It plays the same role as the teacher's
// pkg/decoders/mp3.Decoder, but swaps the teacher's cgo-based
// github.com/drgolem/go-mpg123 binding for a pure-Go MP3 decoder so the
// engine has no cgo dependency in its default format set (see DESIGN.md).
package mp3decoder

import (
	"fmt"
	"io"
	"os"

	"github.com/imcarsen/go-mp3"

	"github.com/audiopipe/gapless/internal/decoder"
	"github.com/audiopipe/gapless/internal/pcmformat"
)

// Decoder decodes MPEG-1/2 Layer III audio. go-mp3 always produces
// interleaved 16-bit stereo PCM and decodes forward-only, so Decoder reports
// SupportsSeeking false (spec.md §6: the engine must tolerate non-seekable
// sources).
type Decoder struct {
	url  string
	file *os.File
	dec  *mp3.Decoder

	format  pcmformat.Format
	current int64

	callbacks decoder.Callbacks
}

// Open opens fileName for MP3 decoding.
func Open(fileName string) (*Decoder, error) {
	file, err := os.Open(fileName)
	if err != nil {
		return nil, fmt.Errorf("mp3decoder: failed to open %s: %w", fileName, err)
	}

	dec, err := mp3.NewDecoder(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("mp3decoder: failed to start decode: %w", err)
	}

	const channels = 2
	const bitsPerSample = 16

	return &Decoder{
		url:  fileName,
		file: file,
		dec:  dec,
		format: pcmformat.Format{
			SampleRate:    dec.SampleRate(),
			Channels:      channels,
			BitsPerSample: bitsPerSample,
			BytesPerFrame: channels * bitsPerSample / 8,
		},
	}, nil
}

func (d *Decoder) URL() string             { return d.url }
func (d *Decoder) Format() pcmformat.Format { return d.format }
func (d *Decoder) SupportsSeeking() bool    { return false }
func (d *Decoder) CurrentFrame() int64      { return d.current }
func (d *Decoder) SeekToFrame(f int64) int64 { return -1 }

// Read decodes up to maxFrames frames of interleaved 16-bit stereo PCM into
// buffers[0].
func (d *Decoder) Read(buffers [][]byte, maxFrames int) (int, error) {
	out := buffers[0]
	needed := maxFrames * d.format.BytesPerFrame
	if len(out) < needed {
		needed = len(out)
	}

	read := 0
	for read < needed {
		n, err := d.dec.Read(out[read:needed])
		read += n
		if err != nil {
			if err == io.EOF {
				break
			}
			if n == 0 {
				return read / d.format.BytesPerFrame, fmt.Errorf("mp3decoder: decode failed: %w", err)
			}
		}
		if n == 0 {
			break
		}
	}

	frames := read / d.format.BytesPerFrame
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
