package decoderworker

import (
	"testing"
	"time"

	"github.com/audiopipe/gapless/internal/activeset"
	"github.com/audiopipe/gapless/internal/decoder"
	"github.com/audiopipe/gapless/internal/decoderstate"
	"github.com/audiopipe/gapless/internal/pcmformat"
	"github.com/audiopipe/gapless/internal/ringbuf"
	"github.com/audiopipe/gapless/internal/semaphore"
)

var testFormat = pcmformat.Format{SampleRate: 44100, Channels: 1, BitsPerSample: 16, BytesPerFrame: 2}

// chunkDecoder emits exactly len(chunks) chunks of frames, then EOF. current
// and failSeek let tests drive serviceSeek's success/failure paths.
type chunkDecoder struct {
	chunks   [][]byte
	next     int
	closed   bool
	current  int64
	failSeek bool
}

func (d *chunkDecoder) URL() string             { return "fake://chunked" }
func (d *chunkDecoder) Format() pcmformat.Format { return testFormat }
func (d *chunkDecoder) SupportsSeeking() bool    { return true }
func (d *chunkDecoder) CurrentFrame() int64      { return d.current }
func (d *chunkDecoder) SeekToFrame(frame int64) int64 {
	if d.failSeek {
		return -1
	}
	d.current = frame
	return frame
}
func (d *chunkDecoder) Read(buffers [][]byte, maxFrames int) (int, error) {
	if d.next >= len(d.chunks) {
		return 0, nil
	}
	chunk := d.chunks[d.next]
	d.next++
	n := copy(buffers[0], chunk)
	return n / testFormat.BytesPerFrame, nil
}
func (d *chunkDecoder) SetCallbacks(decoder.Callbacks) {}
func (d *chunkDecoder) Close() error {
	d.closed = true
	return nil
}

func newHarness(capacityFrames int) (*ringbuf.RingBuffer, *activeset.ActiveSet, *Queue, *semaphore.Semaphore) {
	ring := ringbuf.New(capacityFrames, testFormat.Channels, testFormat.BytesPerFrame, false)
	return ring, activeset.New(), NewQueue(), semaphore.New()
}

func TestWorkerDecodesQueuedDecoderToEOS(t *testing.T) {
	ring, active, queue, sig := newHarness(4096)
	d := &chunkDecoder{chunks: [][]byte{{1, 0, 2, 0}, {3, 0, 4, 0}}}
	queue.Push(d)

	var finished bool
	newState := func(dec decoder.Decoder, ts int64) *decoderstate.State {
		return decoderstate.New(dec, ts, decoder.Callbacks{
			DecodingFinished: func() { finished = true },
		})
	}

	w := New(ring, active, queue, sig, newState, nil, &SeekFlag{}, nil)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		w.Run(stop)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for !finished {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for decoding to finish")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	close(stop)
	<-done

	if got := ring.FramesDecoded(); got != 4 {
		t.Fatalf("FramesDecoded() = %d, want 4", got)
	}
	if d.closed {
		t.Error("worker should not close a decoder that finished normally; the collector does, once the render path marks it fully rendered")
	}
}

func TestWorkerDropsDecoderWhenActiveSetFull(t *testing.T) {
	ring, active, queue, sig := newHarness(64)

	for i := 0; i < activeset.Size; i++ {
		s := decoderstate.New(&chunkDecoder{}, int64(i), decoder.Callbacks{})
		active.TryInsert(s)
	}

	d := &chunkDecoder{chunks: [][]byte{{1, 0}}}
	queue.Push(d)

	newState := func(dec decoder.Decoder, ts int64) *decoderstate.State {
		return decoderstate.New(dec, ts, decoder.Callbacks{})
	}
	w := New(ring, active, queue, sig, newState, nil, &SeekFlag{}, nil)

	stop := make(chan struct{})
	go w.Run(stop)

	deadline := time.After(2 * time.Second)
	for !d.closed {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for dropped decoder to be closed")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	close(stop)
}

// TestServiceSeekAdjustsCountersOnSuccess exercises spec.md §4.4.1's actual
// counter-shifting logic, not just the SeekFlag primitive: on a successful
// seek, frames_decoded and frames_rendered are shifted by the same delta the
// decoder reports moving, and frames_rendered is force-equalized to
// frames_decoded to invalidate the stale ring-buffer window.
func TestServiceSeekAdjustsCountersOnSuccess(t *testing.T) {
	ring, _, _, _ := newHarness(4096)
	ring.AddFramesDecoded(100)

	d := &chunkDecoder{current: 100}
	state := decoderstate.New(d, 0, decoder.Callbacks{})
	state.SetFramesRendered(40)

	w := New(ring, activeset.New(), NewQueue(), semaphore.New(), nil, nil, &SeekFlag{}, nil)

	gotStart := w.serviceSeek(state, 300, 100)

	if d.current != 300 {
		t.Fatalf("decoder should have been seeked to 300, got %d", d.current)
	}
	wantDelta := int64(300 - 100)
	if got := ring.FramesDecoded(); got != 100+wantDelta {
		t.Fatalf("ring.FramesDecoded() = %d, want %d", got, 100+wantDelta)
	}
	if got, want := ring.FramesRendered(), ring.FramesDecoded(); got != want {
		t.Fatalf("ring.FramesRendered() = %d, want it equalized to FramesDecoded() = %d", got, want)
	}
	if got := state.FramesRendered(); got != 300 {
		t.Fatalf("state.FramesRendered() = %d, want 300", got)
	}
	if want := 100 + wantDelta; gotStart != want {
		t.Fatalf("serviceSeek returned startingFrameNumber = %d, want %d", gotStart, want)
	}
	if w.isSeeking.Get() {
		t.Fatal("isSeeking should be cleared once serviceSeek returns")
	}
}

// TestServiceSeekLeavesCountersOnFailure exercises the case where the
// decoder rejects the seek (SeekToFrame returns < 0): no counter may move.
func TestServiceSeekLeavesCountersOnFailure(t *testing.T) {
	ring, _, _, _ := newHarness(4096)
	ring.AddFramesDecoded(50)

	d := &chunkDecoder{current: 50, failSeek: true}
	state := decoderstate.New(d, 0, decoder.Callbacks{})
	state.SetFramesRendered(10)

	w := New(ring, activeset.New(), NewQueue(), semaphore.New(), nil, nil, &SeekFlag{}, nil)

	gotStart := w.serviceSeek(state, 999, 50)

	if gotStart != 50 {
		t.Fatalf("startingFrameNumber should be unchanged on seek failure, got %d", gotStart)
	}
	if got := ring.FramesDecoded(); got != 50 {
		t.Fatalf("ring.FramesDecoded() should be unchanged on seek failure, got %d", got)
	}
	if got := state.FramesRendered(); got != 10 {
		t.Fatalf("state.FramesRendered() should be unchanged on seek failure, got %d", got)
	}
}

func TestSeekFlagRoundTrip(t *testing.T) {
	f := &SeekFlag{}
	if f.Get() {
		t.Fatal("new SeekFlag should start false")
	}
	f.Set(true)
	if !f.Get() {
		t.Fatal("SeekFlag should report true after Set(true)")
	}
}
