// Package factory extends the teacher's pkg/decoders.NewDecoder
// extension-based dispatch (mp3/flac/wav) across the full format set
// SPEC_FULL.md's domain stack wires in: WAV, MP3, FLAC, Ogg Vorbis, Opus,
// raw G.711, and AIFF. It lives apart from internal/decoder to avoid an
// import cycle, since every concrete adapter imports internal/decoder for
// the Callbacks type.
package factory

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/audiopipe/gapless/internal/decoder"
	"github.com/audiopipe/gapless/internal/decoder/aiffdecoder"
	"github.com/audiopipe/gapless/internal/decoder/flacdecoder"
	"github.com/audiopipe/gapless/internal/decoder/g711decoder"
	"github.com/audiopipe/gapless/internal/decoder/mp3decoder"
	"github.com/audiopipe/gapless/internal/decoder/opusdecoder"
	"github.com/audiopipe/gapless/internal/decoder/vorbisdecoder"
	"github.com/audiopipe/gapless/internal/decoder/wavdecoder"
)

// Open opens fileName with the decoder selected by its extension, mirroring
// the teacher's pkg/decoders.NewDecoder dispatch table.
func Open(fileName string) (decoder.Decoder, error) {
	ext := strings.ToLower(filepath.Ext(fileName))

	switch ext {
	case ".wav":
		return wavdecoder.Open(fileName)
	case ".mp3":
		return mp3decoder.Open(fileName)
	case ".flac", ".fla":
		return flacdecoder.Open(fileName)
	case ".ogg", ".oga":
		return vorbisdecoder.Open(fileName)
	case ".opus":
		return opusdecoder.Open(fileName)
	case ".aiff", ".aif", ".aifc":
		return aiffdecoder.Open(fileName)
	case ".ulaw", ".ul":
		return g711decoder.Open(fileName, g711decoder.ULaw)
	case ".alaw", ".al":
		return g711decoder.Open(fileName, g711decoder.ALaw)
	default:
		return nil, fmt.Errorf("decoder factory: unsupported file format: %s", ext)
	}
}
