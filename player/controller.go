// Package player implements PlayerController (spec.md §4.7), the
// orchestrator that owns the ring buffer, the collector, the decoder
// worker, and the active set, and exposes the engine's control surface:
// play/pause/stop, enqueue/clear, seeking, device/stream binding, and
// format convergence.
//
// Grounded in the teacher's pkg/audioplayer.Player and
// internal/fileplayer.FilePlayer (config struct, New/Open/Play/Stop/Wait
// surface, mutex-guarded stop bookkeeping, slog logging throughout),
// generalized to the full control surface spec.md §4.7 names.
package player

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/audiopipe/gapless/internal/activeset"
	"github.com/audiopipe/gapless/internal/collector"
	"github.com/audiopipe/gapless/internal/converter"
	"github.com/audiopipe/gapless/internal/decoder"
	"github.com/audiopipe/gapless/internal/decoderstate"
	"github.com/audiopipe/gapless/internal/decoderworker"
	"github.com/audiopipe/gapless/internal/device"
	"github.com/audiopipe/gapless/internal/engineerr"
	"github.com/audiopipe/gapless/internal/pcmformat"
	"github.com/audiopipe/gapless/internal/rendercallback"
	"github.com/audiopipe/gapless/internal/ringbuf"
	"github.com/audiopipe/gapless/internal/semaphore"
)

// Config carries the controller's tunables, mirroring the teacher's
// audioplayer.Config/DefaultConfig pair, generalized to a functional-options
// constructor because the controller owns more tunables than a flat struct
// comfortably holds (spec.md §9's Design Notes).
type Config struct {
	RingBufferCapacityFrames int
	FramesPerBuffer          int
	DeviceIndex              int
}

// DefaultConfig returns the engine's default tunables.
func DefaultConfig() Config {
	return Config{
		RingBufferCapacityFrames: ringbuf.DefaultCapacityFrames,
		FramesPerBuffer:          512,
		DeviceIndex:              0,
	}
}

// Option configures a Controller at construction time.
type Option func(*Config)

// WithRingBufferCapacity overrides the ring buffer's frame capacity.
func WithRingBufferCapacity(frames int) Option {
	return func(c *Config) { c.RingBufferCapacityFrames = frames }
}

// WithFramesPerBuffer overrides the device's frames-per-buffer.
func WithFramesPerBuffer(frames int) Option {
	return func(c *Config) { c.FramesPerBuffer = frames }
}

// WithDeviceIndex sets Config.DeviceIndex. New does not rebind dev from it:
// output goes to whichever device dev is already bound to.
func WithDeviceIndex(idx int) Option {
	return func(c *Config) { c.DeviceIndex = idx }
}

// Controller orchestrates the realtime pipeline's collaborators. It is
// itself the single owner the components borrow a handle from (spec.md §9).
type Controller struct {
	mu     sync.Mutex
	cfg    Config
	logger *slog.Logger

	dev              device.Output
	convFactory      converter.Factory
	ringBufferFormat pcmformat.Format
	streamFormat     pcmformat.Format
	hasFormat        bool

	ring      *ringbuf.RingBuffer
	active    *activeset.ActiveSet
	queue     *decoderworker.Queue
	isSeeking *decoderworker.SeekFlag
	formatChg atomic.Bool

	decoderSignal   *semaphore.Semaphore
	collectorSignal *semaphore.Semaphore

	worker    *decoderworker.Worker
	collector *collector.Collector
	render    *rendercallback.Callback
	conv      converter.Converter

	stopCh  chan struct{}
	running bool

	volume float64
}

// New constructs a Controller bound to dev, using convFactory to build
// format converters on demand.
func New(dev device.Output, convFactory converter.Factory, opts ...Option) (*Controller, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	c := &Controller{
		cfg:             cfg,
		logger:          slog.Default(),
		dev:             dev,
		convFactory:     convFactory,
		active:          activeset.New(),
		queue:           decoderworker.NewQueue(),
		isSeeking:       &decoderworker.SeekFlag{},
		decoderSignal:   semaphore.New(),
		collectorSignal: semaphore.New(),
		volume:          1.0,
	}

	if err := dev.RegisterRenderCallback(c.renderFunc); err != nil {
		return nil, fmt.Errorf("player: %w: %v", engineerr.ErrResourceAllocationFailed, err)
	}

	c.collector = collector.New(c.active, c.collectorSignal, c.logger)

	return c, nil
}

// renderFunc adapts the render callback's method value to device.RenderFunc,
// indirecting through c.render so it can be swapped as formats change.
func (c *Controller) renderFunc(outputTimestamp int64, output [][]byte, frameCount int) device.Result {
	r := c.render
	if r == nil {
		for _, buf := range output {
			clear(buf)
		}
		return device.Continue
	}
	return r.Render(outputTimestamp, output, frameCount)
}

// Enqueue implements spec.md §4.7's enqueue algorithm: the first decoder
// adopts its format as the ring buffer's format; later decoders must match
// bit-exactly or are rejected, leaving the caller ownership of the decoder.
// Whether a format switch is allowed is decided fresh on every call by
// idleLocked() (no current decoder and an empty queue), not by a sticky
// flag, matching original_source/Player/AudioPlayer.cpp:1173's per-call
// `NULL == GetCurrentDecoderState() && queueEmpty` check: once playback has
// naturally drained to idle, the next enqueue may adopt a new format even
// without an intervening explicit Stop().
func (c *Controller) Enqueue(d decoder.Decoder) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.hasFormat {
		if err := c.adoptFormat(d.Format()); err != nil {
			c.logger.Error("player: failed to allocate resources for first decoder", "error", err)
			return false
		}
	} else if !d.Format().Equal(c.ringBufferFormat) {
		if !c.idleLocked() {
			c.logger.Warn("player: enqueue rejected, format mismatch", "url", d.URL())
			return false
		}
		c.teardownPipelineLocked()
		if err := c.adoptFormat(d.Format()); err != nil {
			c.logger.Error("player: failed to allocate resources for format change", "error", err)
			return false
		}
	}

	c.queue.Push(d)
	c.decoderSignal.Signal()
	return true
}

// teardownPipelineLocked releases the current format's pipeline (background
// workers and device stream) so adoptFormat can rebuild it for a new format.
// Must only be called with c.mu held and idleLocked() true.
func (c *Controller) teardownPipelineLocked() {
	if c.stopCh != nil {
		select {
		case <-c.stopCh:
		default:
			close(c.stopCh)
		}
	}
	if c.running {
		c.dev.Stop()
		c.running = false
	}
	c.dev.Close()
	c.hasFormat = false
}

// adoptFormat allocates the ring buffer, converter, and decode/render/
// collect pipeline for the first decoder's format. Must be called with c.mu
// held.
func (c *Controller) adoptFormat(format pcmformat.Format) error {
	c.ringBufferFormat = format
	c.streamFormat = format
	c.hasFormat = true

	c.ring = ringbuf.New(c.cfg.RingBufferCapacityFrames, format.Channels, format.BytesPerFrame, format.NonInterleaved)

	conv, err := c.convFactory(format, format)
	if err != nil {
		return fmt.Errorf("%w: %v", engineerr.ErrDeviceConfigurationFailed, err)
	}
	c.conv = conv

	c.worker = decoderworker.New(c.ring, c.active, c.queue, c.decoderSignal, c.newState, c.resetAfterSeek, c.isSeeking, c.logger)
	c.render = rendercallback.New(c.ring, c.active, c.isSeeking, &c.formatChg, c.conv, c.decoderSignal, c.collectorSignal, c.requestStopFromRenderPath)

	if err := c.dev.Open(format, c.cfg.FramesPerBuffer); err != nil {
		return fmt.Errorf("%w: %v", engineerr.ErrDeviceConfigurationFailed, err)
	}

	c.stopCh = make(chan struct{})
	go c.worker.Run(c.stopCh)
	go c.collector.Run(c.stopCh)

	return nil
}

// newState constructs a DecoderState for a freshly dequeued decoder, wiring
// lifecycle logging through it (spec.md §6's four hooks).
func (c *Controller) newState(d decoder.Decoder, timestamp int64) *decoderstate.State {
	url := d.URL()
	cb := decoder.Callbacks{
		DecodingStarted:   func() { c.logger.Debug("player: decoding started", "url", url) },
		DecodingFinished:  func() { c.logger.Debug("player: decoding finished", "url", url) },
		RenderingStarted:  func() { c.logger.Debug("player: rendering started", "url", url) },
		RenderingFinished: func() { c.logger.Debug("player: rendering finished", "url", url) },
	}
	state := decoderstate.New(d, timestamp, cb)
	state.TotalFrames = 1<<62 - 1 // provisional until the worker observes EOS
	return state
}

func (c *Controller) resetAfterSeek() {
	if c.conv != nil {
		c.conv.Reset()
	}
	// ResetOutput is a no-op in the source (spec.md §9); preserved as a hook
	// in case a platform needs to flush device-side latency after a seek.
}

// requestStopFromRenderPath is called from the realtime render thread when
// it decides output should halt. It starts Stop() on a new goroutine, so the
// render thread does not wait on c.mu.
func (c *Controller) requestStopFromRenderPath() {
	go c.Stop()
}

// Idle reports whether the pending queue is empty and no decoder is active,
// i.e. playback of everything enqueued so far has fully drained.
func (c *Controller) Idle() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.idleLocked()
}

// idleLocked is Idle's predicate, callable with c.mu already held.
func (c *Controller) idleLocked() bool {
	if c.queue.Len() != 0 {
		return false
	}
	return c.active == nil || c.active.Current() == nil
}

// ClearQueue drops every decoder still waiting to be activated, closing
// each one.
func (c *Controller) ClearQueue() {
	for _, d := range c.queue.Clear() {
		d.Close()
	}
}

// Play starts (or resumes) output.
func (c *Controller) Play() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.hasFormat {
		return fmt.Errorf("player: %w: no decoder enqueued", engineerr.ErrInvalidDeviceOrStream)
	}
	if c.running {
		return nil
	}
	if err := c.dev.Start(); err != nil {
		return fmt.Errorf("%w: %v", engineerr.ErrDeviceConfigurationFailed, err)
	}
	c.running = true
	return nil
}

// Pause stops the device without resetting any counters, so Play() resumes
// exactly where it left off (spec.md §8's round-trip property).
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil
	}
	if err := c.dev.Stop(); err != nil {
		return fmt.Errorf("%w: %v", engineerr.ErrDeviceConfigurationFailed, err)
	}
	c.running = false
	return nil
}

// Stop implements spec.md §4.7's Stop(): pause output, mark every active
// decoder stopped and ready for collection, signal both background workers,
// drain them via one synchronous collector sweep, and zero the global
// frame counters.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		c.dev.Stop()
		c.running = false
	}

	if c.active != nil {
		c.active.StopAll()
	}
	c.decoderSignal.Signal()
	c.collectorSignal.Signal()
	if c.collector != nil {
		c.collector.Sweep()
	}

	for _, d := range c.queue.Clear() {
		d.Close()
	}

	if c.ring != nil {
		c.ring.Reset()
	}

	if c.stopCh != nil {
		select {
		case <-c.stopCh:
		default:
			close(c.stopCh)
		}
	}
	c.hasFormat = false

	return nil
}

// SeekToFrame implements spec.md §4.7/§7's seek contract: returns false (no
// counters mutated, no signal sent) if there is no current decoder, the
// decoder does not support seeking, or another seek is already in flight.
func (c *Controller) SeekToFrame(f int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active == nil {
		return false
	}
	state := c.active.Current()
	if state == nil {
		return false
	}
	if !state.Decoder.SupportsSeeking() {
		return false
	}
	if !state.RequestSeek(f) {
		return false
	}
	c.decoderSignal.Signal()
	return true
}

// SeekBySeconds seeks relative to the current decoder's position, using its
// format's sample rate to convert seconds to frames.
func (c *Controller) SeekBySeconds(seconds float64) bool {
	c.mu.Lock()
	state := c.active.Current()
	c.mu.Unlock()
	if state == nil {
		return false
	}

	deltaFrames := int64(seconds * float64(state.Decoder.Format().SampleRate))
	target := state.FramesRendered() + deltaFrames
	if target < 0 {
		target = 0
	}
	return c.SeekToFrame(target)
}

// GetCurrentFrame returns the current decoder's rendered-frame position, or
// 0 if none is active.
func (c *Controller) GetCurrentFrame() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return 0
	}
	state := c.active.Current()
	if state == nil {
		return 0
	}
	return state.FramesRendered()
}

// GetTotalFrames returns the current decoder's total frame count, or 0 if
// none is active or it is still provisional.
func (c *Controller) GetTotalFrames() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return 0
	}
	state := c.active.Current()
	if state == nil {
		return 0
	}
	total := state.TotalFrames
	if total == 1<<62-1 { // provisional value set by newState
		return 0
	}
	return total
}

// CurrentTime returns GetCurrentFrame expressed in seconds, using the ring
// buffer format's sample rate.
func (c *Controller) CurrentTime() time.Duration {
	frame := c.GetCurrentFrame()
	c.mu.Lock()
	rate := c.ringBufferFormat.SampleRate
	c.mu.Unlock()
	if rate == 0 {
		return 0
	}
	return time.Duration(float64(frame) / float64(rate) * float64(time.Second))
}

// SetOutputDevice implements spec.md §4.7's device-rebind sequence: close
// the current binding, rebind, and reopen.
func (c *Controller) SetOutputDevice(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	wasRunning := c.running
	if wasRunning {
		c.dev.Stop()
	}
	c.dev.Close()

	if err := c.dev.SetDeviceID(id); err != nil {
		return fmt.Errorf("%w: %v", engineerr.ErrInvalidDeviceOrStream, err)
	}

	if c.hasFormat {
		if err := c.dev.Open(c.streamFormat, c.cfg.FramesPerBuffer); err != nil {
			return fmt.Errorf("%w: %v", engineerr.ErrDeviceConfigurationFailed, err)
		}
	}

	if err := c.subscribeStreamLocked(); err != nil {
		return err
	}

	if wasRunning {
		if err := c.dev.Start(); err != nil {
			return fmt.Errorf("%w: %v", engineerr.ErrDeviceConfigurationFailed, err)
		}
	}
	return nil
}

// SetOutputStream selects a stream on the current device by id and
// subscribes to its format-change notifications.
func (c *Controller) SetOutputStream(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	streams, err := c.dev.Streams()
	if err != nil {
		return fmt.Errorf("%w: %v", engineerr.ErrInvalidDeviceOrStream, err)
	}
	for _, s := range streams {
		if s.ID() == id {
			go c.watchStreamFormat(s)
			return nil
		}
	}
	return fmt.Errorf("player: %w: stream %q not found", engineerr.ErrInvalidDeviceOrStream, id)
}

// subscribeStreamLocked selects the device's first stream and subscribes to
// its format-change notifications, called with c.mu held.
func (c *Controller) subscribeStreamLocked() error {
	streams, err := c.dev.Streams()
	if err != nil {
		return fmt.Errorf("%w: %v", engineerr.ErrInvalidDeviceOrStream, err)
	}
	if len(streams) == 0 {
		return nil
	}
	go c.watchStreamFormat(streams[0])
	return nil
}

// watchStreamFormat runs on a property-listener goroutine, invoking
// HandleVirtualFormatChanged whenever the stream's virtual format changes.
func (c *Controller) watchStreamFormat(s device.Stream) {
	for format := range s.VirtualFormatChanges() {
		c.HandleVirtualFormatChanged(format)
	}
}

// HandleVirtualFormatChanged implements spec.md §4.7's virtual-format-
// changed handler: stop output, set the shared flag, refresh the stream
// format, rebuild the converter, clear the flag, and restart output if the
// controller was playing.
func (c *Controller) HandleVirtualFormatChanged(newFormat pcmformat.Format) {
	c.mu.Lock()
	defer c.mu.Unlock()

	wasRunning := c.running
	if wasRunning {
		c.dev.Stop()
		c.running = false
	}

	c.formatChg.Store(true)
	c.streamFormat = newFormat

	if c.conv != nil {
		c.conv.Dispose()
	}
	conv, err := c.convFactory(c.ringBufferFormat, newFormat)
	if err != nil {
		c.logger.Error("player: failed to rebuild converter after format change", "error", err)
		c.formatChg.Store(false)
		return
	}
	c.conv = conv
	if c.render != nil {
		c.render.SetConverter(conv)
	}

	c.formatChg.Store(false)

	if wasRunning {
		if err := c.dev.Start(); err != nil {
			c.logger.Error("player: failed to restart output after format change", "error", err)
			return
		}
		c.running = true
	}
}

// Volume returns the current software gain setting. The core engine does
// not mix or process effects (spec.md Non-goals), so volume is a stored
// value for external collaborators (e.g. the converter) to apply, not
// something the render path itself scales.
func (c *Controller) Volume() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.volume
}

// SetVolume stores the software gain setting.
func (c *Controller) SetVolume(v float64) {
	c.mu.Lock()
	c.volume = v
	c.mu.Unlock()
}

// SampleRate returns the sample rate of the stream format the controller
// last adopted or was notified of. It is not read back from the device, so
// a rate set through SetSampleRate is not reflected here.
func (c *Controller) SampleRate() (int, error) {
	if c.dev == nil {
		return 0, fmt.Errorf("player: %w", engineerr.ErrInvalidDeviceOrStream)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streamFormat.SampleRate, nil
}

// SetSampleRate requests the device itself run at rate.
func (c *Controller) SetSampleRate(rate int) error {
	if err := c.dev.SetNominalSampleRate(rate); err != nil {
		return fmt.Errorf("%w: %v", engineerr.ErrDeviceConfigurationFailed, err)
	}
	return nil
}

// AcquireHogMode requests exclusive device ownership for this process.
func (c *Controller) AcquireHogMode(pid int) error {
	if err := c.dev.SetHogMode(pid); err != nil {
		return fmt.Errorf("%w: %v", engineerr.ErrDeviceConfigurationFailed, err)
	}
	return nil
}

// ReleaseHogMode releases exclusive device ownership.
func (c *Controller) ReleaseHogMode() error {
	if err := c.dev.SetHogMode(0); err != nil {
		return fmt.Errorf("%w: %v", engineerr.ErrDeviceConfigurationFailed, err)
	}
	return nil
}

// Close releases the controller's device binding. Safe to call after Stop.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dev.Close()
}
