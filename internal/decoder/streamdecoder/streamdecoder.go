// Package streamdecoder generalizes the teacher's
// pkg/decoders/stream.StreamDecoder to the decoder.Decoder interface,
// letting the engine play from any push-style source (network streams,
// in-memory buffers, pipes) that can hand back packets of PCM on demand,
// rather than only local files.
package streamdecoder

import (
	"context"
	"sync"

	"github.com/audiopipe/gapless/internal/decoder"
	"github.com/audiopipe/gapless/internal/pcmformat"
)

// Packet is one chunk of decoded PCM handed back by a Provider.
type Packet struct {
	Audio  []byte
	Frames int
	Format pcmformat.Format
}

// Provider is the interface for sources that hand back audio packets on
// demand, mirroring the teacher's AudioPacketProvider.
type Provider interface {
	// ReadPacket reads the next packet of up to maxFrames frames. Returns
	// io.EOF (or a wrapped one) when the stream ends.
	ReadPacket(ctx context.Context, maxFrames int) (Packet, error)
}

// Decoder adapts a Provider to decoder.Decoder. Streaming sources generally
// cannot seek and may change format mid-stream (spec.md §9's Open Question
// on format changes is left to the caller: a format change surfaces as
// SupportsSeeking()==false plus an updated Format() after the next Read).
type Decoder struct {
	url      string
	ctx      context.Context
	provider Provider

	formatMu sync.RWMutex
	format   pcmformat.Format

	current int64

	callbacks decoder.Callbacks
}

// New creates a Decoder pulling packets from provider, starting with
// initialFormat until the first packet potentially reports a different one.
func New(ctx context.Context, url string, provider Provider, initialFormat pcmformat.Format) *Decoder {
	return &Decoder{
		url:      url,
		ctx:      ctx,
		provider: provider,
		format:   initialFormat,
	}
}

func (d *Decoder) URL() string { return d.url }

func (d *Decoder) Format() pcmformat.Format {
	d.formatMu.RLock()
	defer d.formatMu.RUnlock()
	return d.format
}

func (d *Decoder) SupportsSeeking() bool     { return false }
func (d *Decoder) CurrentFrame() int64       { return d.current }
func (d *Decoder) SeekToFrame(f int64) int64 { return -1 }

// Read pulls the next packet from the provider and copies it into
// buffers[0], updating the reported format if the packet's format differs
// from what was last reported.
func (d *Decoder) Read(buffers [][]byte, maxFrames int) (int, error) {
	pkt, err := d.provider.ReadPacket(d.ctx, maxFrames)
	if err != nil {
		return 0, err
	}
	if pkt.Frames == 0 {
		return 0, nil
	}

	d.formatMu.Lock()
	if !d.format.Equal(pkt.Format) {
		d.format = pkt.Format
	}
	d.formatMu.Unlock()

	n := copy(buffers[0], pkt.Audio[:pkt.Frames*pkt.Format.BytesPerFrame])
	frames := n / pkt.Format.BytesPerFrame
	d.current += int64(frames)
	return frames, nil
}

func (d *Decoder) SetCallbacks(cb decoder.Callbacks) { d.callbacks = cb }

func (d *Decoder) Close() error { return nil }
