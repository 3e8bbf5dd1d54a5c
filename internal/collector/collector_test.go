package collector

import (
	"errors"
	"testing"

	"github.com/audiopipe/gapless/internal/activeset"
	"github.com/audiopipe/gapless/internal/decoder"
	"github.com/audiopipe/gapless/internal/decoderstate"
	"github.com/audiopipe/gapless/internal/pcmformat"
	"github.com/audiopipe/gapless/internal/semaphore"
)

type fakeDecoder struct {
	closed  bool
	closeErr error
}

func (f *fakeDecoder) URL() string                  { return "fake://test" }
func (f *fakeDecoder) Format() pcmformat.Format      { return pcmformat.Format{Channels: 2, BytesPerFrame: 4} }
func (f *fakeDecoder) SupportsSeeking() bool         { return false }
func (f *fakeDecoder) CurrentFrame() int64           { return 0 }
func (f *fakeDecoder) SeekToFrame(frame int64) int64 { return -1 }
func (f *fakeDecoder) Read(buffers [][]byte, maxFrames int) (int, error) {
	return 0, nil
}
func (f *fakeDecoder) SetCallbacks(decoder.Callbacks) {}
func (f *fakeDecoder) Close() error {
	f.closed = true
	return f.closeErr
}

func TestSweepReclaimsAndClosesMarkedStates(t *testing.T) {
	active := activeset.New()
	d1 := &fakeDecoder{}
	d2 := &fakeDecoder{}
	s1 := decoderstate.New(d1, 0, decoder.Callbacks{})
	s2 := decoderstate.New(d2, 100, decoder.Callbacks{})
	active.TryInsert(s1)
	active.TryInsert(s2)

	s1.MarkReadyForCollection()

	c := New(active, semaphore.New(), nil)
	c.Sweep()

	if !d1.closed {
		t.Error("reclaimed decoder should have been closed")
	}
	if d2.closed {
		t.Error("non-reclaimed decoder should not have been closed")
	}
	if active.Len() != 1 {
		t.Fatalf("active.Len() = %d, want 1", active.Len())
	}
}

func TestSweepToleratesCloseError(t *testing.T) {
	active := activeset.New()
	d := &fakeDecoder{closeErr: errors.New("boom")}
	s := decoderstate.New(d, 0, decoder.Callbacks{})
	active.TryInsert(s)
	s.MarkReadyForCollection()

	c := New(active, semaphore.New(), nil)
	c.Sweep() // must not panic despite Close() erroring

	if active.Len() != 0 {
		t.Fatalf("active.Len() = %d, want 0", active.Len())
	}
}

func TestSweepIsNoopWhenNothingMarked(t *testing.T) {
	active := activeset.New()
	d := &fakeDecoder{}
	s := decoderstate.New(d, 0, decoder.Callbacks{})
	active.TryInsert(s)

	c := New(active, semaphore.New(), nil)
	c.Sweep()

	if d.closed {
		t.Error("unmarked decoder should not be closed")
	}
	if active.Len() != 1 {
		t.Fatalf("active.Len() = %d, want 1", active.Len())
	}
}
