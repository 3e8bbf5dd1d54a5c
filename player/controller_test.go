package player

import (
	"testing"
	"time"

	"github.com/audiopipe/gapless/internal/converter/soxr"
	"github.com/audiopipe/gapless/internal/decoder"
	"github.com/audiopipe/gapless/internal/device"
	"github.com/audiopipe/gapless/internal/pcmformat"
)

var testFormat = pcmformat.Format{SampleRate: 8000, Channels: 1, BitsPerSample: 16, BytesPerFrame: 2}

// fakeDevice is a device.Output whose render callback is pumped
// synchronously by the test instead of by a realtime audio thread.
type fakeDevice struct {
	render          device.RenderFunc
	opened          bool
	running         bool
	openFormat      pcmformat.Format
	framesPerBuffer int

	isRunningCh chan bool
	overloadCh  chan struct{}
	streamsCh   chan []device.Stream
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		isRunningCh: make(chan bool, 4),
		overloadCh:  make(chan struct{}, 4),
		streamsCh:   make(chan []device.Stream, 4),
	}
}

func (f *fakeDevice) RegisterRenderCallback(fn device.RenderFunc) error { f.render = fn; return nil }
func (f *fakeDevice) Open(format pcmformat.Format, framesPerBuffer int) error {
	f.opened = true
	f.openFormat = format
	f.framesPerBuffer = framesPerBuffer
	return nil
}
func (f *fakeDevice) Start() error                      { f.running = true; return nil }
func (f *fakeDevice) Stop() error                       { f.running = false; return nil }
func (f *fakeDevice) Close() error                       { f.opened = false; return nil }
func (f *fakeDevice) SetDeviceID(id string) error        { return nil }
func (f *fakeDevice) SetNominalSampleRate(rate int) error { return nil }
func (f *fakeDevice) SetHogMode(pid int) error           { return nil }
func (f *fakeDevice) BufferFrameSize() (int, error)      { return f.framesPerBuffer, nil }
func (f *fakeDevice) SetBufferFrameSize(frames int) error { f.framesPerBuffer = frames; return nil }
func (f *fakeDevice) Streams() ([]device.Stream, error)  { return nil, nil }

func (f *fakeDevice) IsRunningChanges() <-chan bool             { return f.isRunningCh }
func (f *fakeDevice) ProcessorOverloadChanges() <-chan struct{} { return f.overloadCh }
func (f *fakeDevice) StreamsChanges() <-chan []device.Stream    { return f.streamsCh }

// pump invokes the registered render callback once, as the device's realtime
// thread would, and returns the output buffer it produced.
func (f *fakeDevice) pump(frameCount int) []byte {
	out := make([]byte, frameCount*testFormat.BytesPerFrame)
	f.render(0, [][]byte{out}, frameCount)
	return out
}

// chunkDecoder emits fixed int16 sample values, one frame per Read call's
// worth of data, then EOF.
type chunkDecoder struct {
	url      string
	format   pcmformat.Format
	samples  []int16
	next     int
	closed   bool
	seekable bool
}

func newChunkDecoder(url string, samples []int16) *chunkDecoder {
	return &chunkDecoder{url: url, format: testFormat, samples: samples, seekable: true}
}

func (d *chunkDecoder) URL() string             { return d.url }
func (d *chunkDecoder) Format() pcmformat.Format { return d.format }
func (d *chunkDecoder) SupportsSeeking() bool    { return d.seekable }
func (d *chunkDecoder) CurrentFrame() int64      { return int64(d.next) }
func (d *chunkDecoder) SeekToFrame(frame int64) int64 {
	if frame < 0 || frame > int64(len(d.samples)) {
		return -1
	}
	d.next = int(frame)
	return frame
}
func (d *chunkDecoder) Read(buffers [][]byte, maxFrames int) (int, error) {
	n := 0
	for n < maxFrames && d.next < len(d.samples) {
		v := d.samples[d.next]
		buffers[0][n*2] = byte(v)
		buffers[0][n*2+1] = byte(v >> 8)
		d.next++
		n++
	}
	return n, nil
}
func (d *chunkDecoder) SetCallbacks(decoder.Callbacks) {}
func (d *chunkDecoder) Close() error {
	d.closed = true
	return nil
}

func waitForIdle(t *testing.T, c *Controller) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !c.Idle() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for controller to idle")
		}
		time.Sleep(time.Millisecond)
	}
}

// pacedDecoder emits samples one frame at a time, blocking on release
// between frames, so a test can land a seek precisely between decode
// chunks instead of racing a synchronous decoder to EOS.
type pacedDecoder struct {
	url     string
	format  pcmformat.Format
	samples []int16
	next    int
	release chan struct{}
	closed  bool
}

func newPacedDecoder(url string, samples []int16) *pacedDecoder {
	return &pacedDecoder{url: url, format: testFormat, samples: samples, release: make(chan struct{})}
}

func (d *pacedDecoder) URL() string             { return d.url }
func (d *pacedDecoder) Format() pcmformat.Format { return d.format }
func (d *pacedDecoder) SupportsSeeking() bool    { return true }
func (d *pacedDecoder) CurrentFrame() int64      { return int64(d.next) }
func (d *pacedDecoder) SeekToFrame(frame int64) int64 {
	if frame < 0 || frame > int64(len(d.samples)) {
		return -1
	}
	d.next = int(frame)
	return frame
}
func (d *pacedDecoder) Read(buffers [][]byte, maxFrames int) (int, error) {
	if d.next >= len(d.samples) {
		return 0, nil
	}
	<-d.release
	v := d.samples[d.next]
	buffers[0][0] = byte(v)
	buffers[0][1] = byte(v >> 8)
	d.next++
	return 1, nil
}
func (d *pacedDecoder) SetCallbacks(decoder.Callbacks) {}
func (d *pacedDecoder) Close() error {
	d.closed = true
	return nil
}

// releaseN sends n values on d.release, one at a time, failing the test if
// the decoder worker never consumes one within the timeout.
func releaseN(t *testing.T, d *pacedDecoder, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case d.release <- struct{}{}:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out releasing a decode step; worker never called Read")
		}
	}
}

func waitForFramesDecoded(t *testing.T, c *Controller, n int64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for c.ring == nil || c.ring.FramesDecoded() < n {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for decoder to produce frames")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestEnqueuePlayAndRenderDeliversDecodedSamples(t *testing.T) {
	dev := newFakeDevice()
	ctrl, err := New(dev, soxr.New, WithRingBufferCapacity(4096), WithFramesPerBuffer(256))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer ctrl.Close()

	d := newChunkDecoder("fake://one", []int16{1, 2, 3, 4})
	if !ctrl.Enqueue(d) {
		t.Fatal("Enqueue() = false, want true")
	}
	if err := ctrl.Play(); err != nil {
		t.Fatalf("Play() error = %v", err)
	}

	waitForFramesDecoded(t, ctrl, 4)

	out := dev.pump(4)
	got := []int16{
		int16(uint16(out[0]) | uint16(out[1])<<8),
		int16(uint16(out[2]) | uint16(out[3])<<8),
		int16(uint16(out[4]) | uint16(out[5])<<8),
		int16(uint16(out[6]) | uint16(out[7])<<8),
	}
	want := []int16{1, 2, 3, 4}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("rendered sample %d = %d, want %d", i, got[i], want[i])
		}
	}

	if err := ctrl.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if !d.closed {
		t.Error("decoder should be closed once reclaimed after Stop()")
	}
}

func TestEnqueueRejectsFormatMismatch(t *testing.T) {
	dev := newFakeDevice()
	ctrl, err := New(dev, soxr.New)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer ctrl.Close()

	first := newChunkDecoder("fake://one", []int16{1})
	if !ctrl.Enqueue(first) {
		t.Fatal("first Enqueue() = false, want true")
	}

	mismatched := newChunkDecoder("fake://two", []int16{2})
	mismatched.format = pcmformat.Format{SampleRate: 44100, Channels: 2, BitsPerSample: 16, BytesPerFrame: 4}

	if ctrl.Enqueue(mismatched) {
		t.Fatal("Enqueue() with mismatched format = true, want false")
	}
	// Caller retains ownership of a rejected decoder.
	if mismatched.closed {
		t.Error("rejected decoder should not be closed by Enqueue")
	}
}

func TestPlayWithoutEnqueueFails(t *testing.T) {
	dev := newFakeDevice()
	ctrl, err := New(dev, soxr.New)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer ctrl.Close()

	if err := ctrl.Play(); err == nil {
		t.Fatal("Play() with no decoder enqueued should fail")
	}
}

func TestSeekToFrameFailsWithNoActiveDecoder(t *testing.T) {
	dev := newFakeDevice()
	ctrl, err := New(dev, soxr.New)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer ctrl.Close()

	if ctrl.SeekToFrame(10) {
		t.Fatal("SeekToFrame() with no active decoder should return false")
	}
}

func TestPauseThenPlayResumesWithoutLosingPosition(t *testing.T) {
	dev := newFakeDevice()
	ctrl, err := New(dev, soxr.New, WithRingBufferCapacity(4096))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer ctrl.Close()

	d := newChunkDecoder("fake://pause", []int16{1, 2, 3, 4, 5, 6})
	ctrl.Enqueue(d)
	ctrl.Play()
	waitForFramesDecoded(t, ctrl, 6)

	dev.pump(2)
	before := ctrl.GetCurrentFrame()

	if err := ctrl.Pause(); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	if dev.running {
		t.Error("device should be stopped after Pause()")
	}
	if err := ctrl.Play(); err != nil {
		t.Fatalf("Play() after Pause() error = %v", err)
	}

	if got := ctrl.GetCurrentFrame(); got != before {
		t.Fatalf("GetCurrentFrame() after resume = %d, want %d (unchanged)", got, before)
	}

	ctrl.Stop()
	waitForIdle(t, ctrl)
}

// TestGaplessJoinRendersContiguousAcrossDecoders is spec.md §8 scenario 2:
// two decoders enqueued with identical formats render as a bit-exact
// concatenation, with no silence at the join.
func TestGaplessJoinRendersContiguousAcrossDecoders(t *testing.T) {
	dev := newFakeDevice()
	ctrl, err := New(dev, soxr.New, WithRingBufferCapacity(4096))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer ctrl.Close()

	d1 := newChunkDecoder("fake://first", []int16{1, 2, 3, 4})
	d2 := newChunkDecoder("fake://second", []int16{5, 6, 7, 8})
	if !ctrl.Enqueue(d1) {
		t.Fatal("Enqueue(d1) = false, want true")
	}
	if !ctrl.Enqueue(d2) {
		t.Fatal("Enqueue(d2) = false, want true")
	}
	if err := ctrl.Play(); err != nil {
		t.Fatalf("Play() error = %v", err)
	}

	waitForFramesDecoded(t, ctrl, 8)

	out := dev.pump(8)
	want := []int16{1, 2, 3, 4, 5, 6, 7, 8}
	for i, w := range want {
		got := int16(uint16(out[i*2]) | uint16(out[i*2+1])<<8)
		if got != w {
			t.Fatalf("rendered sample %d = %d, want %d (gap or reorder at the join)", i, got, w)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for !d1.closed {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for first decoder to be reclaimed once fully rendered")
		}
		time.Sleep(time.Millisecond)
	}

	ctrl.Stop()
}

// TestSeekMidDecodeFinishesAndDrainsQueue is spec.md §8 scenario 3: seeking
// near the end of the active decoder while it is still being decoded
// finishes it (rendering_finished fires, observed as reclamation) within a
// render period, and the controller drains to idle.
func TestSeekMidDecodeFinishesAndDrainsQueue(t *testing.T) {
	dev := newFakeDevice()
	ctrl, err := New(dev, soxr.New, WithRingBufferCapacity(4096))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer ctrl.Close()

	samples := []int16{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	d := newPacedDecoder("fake://seekmid", samples)
	if !ctrl.Enqueue(d) {
		t.Fatal("Enqueue() = false, want true")
	}
	if err := ctrl.Play(); err != nil {
		t.Fatalf("Play() error = %v", err)
	}

	releaseN(t, d, 3)
	waitForFramesDecoded(t, ctrl, 3)

	if !ctrl.SeekToFrame(9) {
		t.Fatal("SeekToFrame near the end, mid-decode, should succeed")
	}

	// One release completes the chunk the worker was already blocked on;
	// servicing the now-pending seek request happens on the loop's next
	// pass, after which it blocks again on the seeked-to final frame.
	releaseN(t, d, 1)
	releaseN(t, d, 1)

	deadline := time.Now().Add(2 * time.Second)
	for ctrl.GetTotalFrames() != int64(len(samples)) {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for decoder to reach EOS after seek, GetTotalFrames() = %d", ctrl.GetTotalFrames())
		}
		time.Sleep(time.Millisecond)
	}

	// One more render period renders the final frame and fires
	// rendering_finished, draining the decoder out of the active set.
	dev.pump(1)

	deadline = time.Now().Add(2 * time.Second)
	for !d.closed {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for decoder to be reclaimed after rendering_finished")
		}
		time.Sleep(time.Millisecond)
	}
	if !ctrl.Idle() {
		t.Fatal("controller should be idle once the only decoder has drained")
	}

	ctrl.Stop()
}

// TestHandleVirtualFormatChangedRebuildsConverterAndResumes is spec.md §8
// scenario 4's controller-level half (the render path's silence-while-
// pending half is covered at the rendercallback package level): after a
// virtual format change, the converter is rebuilt for the new format and
// output resumes, with the device restarted since it was running.
func TestHandleVirtualFormatChangedRebuildsConverterAndResumes(t *testing.T) {
	dev := newFakeDevice()
	ctrl, err := New(dev, soxr.New, WithRingBufferCapacity(4096))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer ctrl.Close()

	d := newChunkDecoder("fake://fmtchange", []int16{1, 2, 3, 4})
	ctrl.Enqueue(d)
	if err := ctrl.Play(); err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	waitForFramesDecoded(t, ctrl, 4)

	newFormat := testFormat
	newFormat.SampleRate = 16000

	ctrl.HandleVirtualFormatChanged(newFormat)

	if ctrl.formatChg.Load() {
		t.Fatal("formatChg should be cleared once the converter has been rebuilt")
	}
	if ctrl.streamFormat != newFormat {
		t.Fatalf("streamFormat = %+v, want %+v", ctrl.streamFormat, newFormat)
	}
	if !dev.running {
		t.Fatal("device should have been restarted, since it was running before the format change")
	}

	out := dev.pump(4)
	rendered := false
	for _, b := range out {
		if b != 0 {
			rendered = true
		}
	}
	if !rendered {
		t.Fatal("render should resume pulling ring data once the format change clears")
	}

	ctrl.Stop()
}

// TestSeekToFrameRejectsNonSeekableActiveDecoder is spec.md §8 scenario 6:
// seeking a current decoder that reports supports_seeking==false returns
// false and mutates no counters.
func TestSeekToFrameRejectsNonSeekableActiveDecoder(t *testing.T) {
	dev := newFakeDevice()
	ctrl, err := New(dev, soxr.New, WithRingBufferCapacity(4096))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer ctrl.Close()

	d := newChunkDecoder("fake://noseek", []int16{1, 2, 3, 4})
	d.seekable = false
	ctrl.Enqueue(d)
	if err := ctrl.Play(); err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	waitForFramesDecoded(t, ctrl, 4)

	before := ctrl.GetCurrentFrame()
	if ctrl.SeekToFrame(0) {
		t.Fatal("SeekToFrame should return false for a non-seekable decoder")
	}
	if got := ctrl.GetCurrentFrame(); got != before {
		t.Fatalf("GetCurrentFrame() changed after rejected seek: got %d, want %d", got, before)
	}

	ctrl.Stop()
}
