package streamdecoder

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/audiopipe/gapless/internal/pcmformat"
)

var testFormat = pcmformat.Format{SampleRate: 44100, Channels: 1, BitsPerSample: 16, BytesPerFrame: 2}

// fakeProvider replays a fixed sequence of packets, then returns io.EOF.
type fakeProvider struct {
	packets []Packet
	next    int
	err     error
}

func (p *fakeProvider) ReadPacket(ctx context.Context, maxFrames int) (Packet, error) {
	if p.next >= len(p.packets) {
		if p.err != nil {
			return Packet{}, p.err
		}
		return Packet{}, io.EOF
	}
	pkt := p.packets[p.next]
	p.next++
	return pkt, nil
}

func TestReadCopiesPacketAudioAndAdvancesCurrentFrame(t *testing.T) {
	provider := &fakeProvider{packets: []Packet{
		{Audio: []byte{1, 0, 2, 0}, Frames: 2, Format: testFormat},
		{Audio: []byte{3, 0}, Frames: 1, Format: testFormat},
	}}
	d := New(context.Background(), "fake://stream", provider, testFormat)

	buf := make([][]byte, 1)
	buf[0] = make([]byte, 8)

	n, err := d.Read(buf, 4)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if n != 2 {
		t.Fatalf("Read() n = %d, want 2", n)
	}
	if string(buf[0][:4]) != "\x01\x00\x02\x00" {
		t.Fatalf("Read() copied %v, want the first packet's audio", buf[0][:4])
	}
	if got := d.CurrentFrame(); got != 2 {
		t.Fatalf("CurrentFrame() = %d, want 2", got)
	}

	n, err = d.Read(buf, 4)
	if err != nil {
		t.Fatalf("second Read() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("second Read() n = %d, want 1", n)
	}
	if got := d.CurrentFrame(); got != 3 {
		t.Fatalf("CurrentFrame() = %d, want 3", got)
	}
}

func TestReadPropagatesEOFOnceProviderIsExhausted(t *testing.T) {
	provider := &fakeProvider{packets: []Packet{{Audio: []byte{1, 0}, Frames: 1, Format: testFormat}}}
	d := New(context.Background(), "fake://stream", provider, testFormat)

	buf := [][]byte{make([]byte, 8)}
	if _, err := d.Read(buf, 4); err != nil {
		t.Fatalf("first Read() error = %v", err)
	}

	n, err := d.Read(buf, 4)
	if !errors.Is(err, io.EOF) {
		t.Fatalf("Read() error = %v, want io.EOF", err)
	}
	if n != 0 {
		t.Fatalf("Read() n = %d, want 0 at EOF", n)
	}
}

func TestReadAdoptsAMidStreamFormatChange(t *testing.T) {
	wideFormat := pcmformat.Format{SampleRate: 48000, Channels: 2, BitsPerSample: 16, BytesPerFrame: 4}
	provider := &fakeProvider{packets: []Packet{
		{Audio: []byte{1, 0}, Frames: 1, Format: testFormat},
		{Audio: []byte{2, 0, 2, 0}, Frames: 1, Format: wideFormat},
	}}
	d := New(context.Background(), "fake://stream", provider, testFormat)

	buf := [][]byte{make([]byte, 8)}
	if _, err := d.Read(buf, 4); err != nil {
		t.Fatalf("first Read() error = %v", err)
	}
	if got := d.Format(); !got.Equal(testFormat) {
		t.Fatalf("Format() = %+v, want unchanged %+v before the format-changing packet", got, testFormat)
	}

	if _, err := d.Read(buf, 4); err != nil {
		t.Fatalf("second Read() error = %v", err)
	}
	if got := d.Format(); !got.Equal(wideFormat) {
		t.Fatalf("Format() = %+v, want %+v after the provider switched formats", got, wideFormat)
	}
}

func TestSeekingIsUnsupported(t *testing.T) {
	d := New(context.Background(), "fake://stream", &fakeProvider{}, testFormat)
	if d.SupportsSeeking() {
		t.Fatal("SupportsSeeking() should be false: a push-style stream has no seekable backing store")
	}
	if got := d.SeekToFrame(0); got >= 0 {
		t.Fatalf("SeekToFrame() = %d, want negative", got)
	}
}
