package activeset

import (
	"testing"

	"github.com/audiopipe/gapless/internal/decoder"
	"github.com/audiopipe/gapless/internal/decoderstate"
	"github.com/audiopipe/gapless/internal/pcmformat"
)

type fakeDecoder struct{}

func (f *fakeDecoder) URL() string                  { return "fake://test" }
func (f *fakeDecoder) Format() pcmformat.Format      { return pcmformat.Format{Channels: 2, BytesPerFrame: 4} }
func (f *fakeDecoder) SupportsSeeking() bool         { return false }
func (f *fakeDecoder) CurrentFrame() int64           { return 0 }
func (f *fakeDecoder) SeekToFrame(frame int64) int64 { return -1 }
func (f *fakeDecoder) Read(buffers [][]byte, maxFrames int) (int, error) {
	return 0, nil
}
func (f *fakeDecoder) SetCallbacks(decoder.Callbacks) {}
func (f *fakeDecoder) Close() error                   { return nil }

func newState(ts, total int64) *decoderstate.State {
	s := decoderstate.New(&fakeDecoder{}, ts, decoder.Callbacks{})
	s.TotalFrames = total
	return s
}

func TestTryInsertFailsWhenFull(t *testing.T) {
	a := New()
	for i := 0; i < Size; i++ {
		if !a.TryInsert(newState(int64(i), 1000)) {
			t.Fatalf("insert %d should have succeeded", i)
		}
	}
	if a.TryInsert(newState(999, 1000)) {
		t.Fatal("insert into a full set should fail")
	}
	if a.Len() != Size {
		t.Fatalf("Len() = %d, want %d", a.Len(), Size)
	}
}

func TestCurrentPicksSmallestTimestampUnfinished(t *testing.T) {
	a := New()
	s1 := newState(10, 100)
	s2 := newState(20, 100)
	s3 := newState(30, 100)
	a.TryInsert(s2)
	a.TryInsert(s1)
	a.TryInsert(s3)

	if got := a.Current(); got != s1 {
		t.Fatalf("Current() picked timestamp %d, want 10", got.Timestamp)
	}

	s1.SetFramesRendered(100) // fully rendered, should be skipped
	if got := a.Current(); got != s2 {
		t.Fatalf("Current() picked timestamp %d, want 20", got.Timestamp)
	}

	s2.MarkReadyForCollection()
	if got := a.Current(); got != s3 {
		t.Fatalf("Current() picked timestamp %d, want 30", got.Timestamp)
	}
}

func TestNextAfterIsStrictlyGreater(t *testing.T) {
	a := New()
	s1 := newState(10, 100)
	s2 := newState(20, 100)
	a.TryInsert(s1)
	a.TryInsert(s2)

	if got := a.NextAfter(10); got != s2 {
		t.Fatalf("NextAfter(10) = %v, want timestamp 20", got)
	}
	if got := a.NextAfter(20); got != nil {
		t.Fatalf("NextAfter(20) = %v, want nil", got)
	}
}

func TestReclaimMarkedEmptiesSlotsAndReturnsStates(t *testing.T) {
	a := New()
	s1 := newState(10, 100)
	s2 := newState(20, 100)
	a.TryInsert(s1)
	a.TryInsert(s2)

	s1.MarkReadyForCollection()

	reclaimed := a.ReclaimMarked()
	if len(reclaimed) != 1 || reclaimed[0] != s1 {
		t.Fatalf("ReclaimMarked() = %v, want [s1]", reclaimed)
	}
	if a.Len() != 1 {
		t.Fatalf("Len() after reclaim = %d, want 1", a.Len())
	}

	// The render path cannot pick a reclaimed slot back up (spec.md §4.6).
	if got := a.Current(); got != s2 {
		t.Fatalf("Current() after reclaim = %v, want s2", got)
	}
}

func TestStopAllMarksEveryOccupiedSlot(t *testing.T) {
	a := New()
	s1 := newState(10, 100)
	s2 := newState(20, 100)
	a.TryInsert(s1)
	a.TryInsert(s2)

	stopped := a.StopAll()
	if len(stopped) != 2 {
		t.Fatalf("StopAll() returned %d states, want 2", len(stopped))
	}
	for _, s := range stopped {
		if s.KeepDecoding() {
			t.Error("StopAll should clear KeepDecoding")
		}
		if !s.ReadyForCollection() {
			t.Error("StopAll should mark ReadyForCollection")
		}
	}
}

func TestNoDuplicatePointerAcrossSlots(t *testing.T) {
	a := New()
	s := newState(1, 10)
	if !a.TryInsert(s) {
		t.Fatal("first insert should succeed")
	}
	// A state, once inserted, is never independently re-inserted by this
	// API; verify the set still reports exactly one occupied slot.
	if a.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", a.Len())
	}
}
