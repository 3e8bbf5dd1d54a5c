// Package decoderstate implements the per-decoder bookkeeping record
// spec.md §3/§4.2 describes: a DecoderState created by the decoder worker at
// dequeue time and destroyed by the collector once it is ready for
// collection.
//
// The atomic-field style here is grounded in
// internal/fileplayer.FilePlayer's use of atomic.Uint64/atomic.Bool for
// cross-goroutine counters, generalized from "one player's worth of state"
// to "one decoder's worth of state held in an ActiveSet slot."
package decoderstate

import (
	"sync/atomic"

	"github.com/audiopipe/gapless/internal/decoder"
)

// NoSeekPending is the sentinel frameToSeek value meaning "no seek
// requested" (spec.md §3).
const NoSeekPending int64 = -1

// State is one decoder's bookkeeping record. Timestamp and TotalFrames are
// set once by the decoder worker and read by the render callback without
// synchronization beyond the happens-before relationship established by
// ActiveSet insertion; FramesRendered and FrameToSeek are mutated
// concurrently by the worker and render threads and must go through their
// atomic accessors.
type State struct {
	// Timestamp is the absolute frame index at which this decoder's first
	// frame was, or will be, written into the ring buffer. Strictly greater
	// than any preceding active decoder's timestamp plus its TotalFrames
	// (spec.md §5).
	Timestamp int64

	Decoder decoder.Decoder

	// TotalFrames is provisional until EOS, when the worker overwrites it
	// with the last decoded position (spec.md §9's Open Question: this is
	// the pre-read startingFrameNumber, not the post-read count).
	TotalFrames int64

	framesRendered atomic.Int64
	frameToSeek    atomic.Int64

	keepDecoding          atomic.Bool
	readyForCollection    atomic.Bool
	decodingStartedFired  atomic.Bool
	renderingStartedFired atomic.Bool

	callbacks decoder.Callbacks
	scratch   [][]byte
}

// New creates a DecoderState for d, timestamped at ts. keepDecoding starts
// true; frameToSeek starts at NoSeekPending. cb is the set of lifecycle
// hooks the worker and render callback fire through this state.
func New(d decoder.Decoder, ts int64, cb decoder.Callbacks) *State {
	s := &State{
		Timestamp: ts,
		Decoder:   d,
		callbacks: cb,
	}
	s.keepDecoding.Store(true)
	s.frameToSeek.Store(NoSeekPending)
	return s
}

// FramesRendered returns the atomic rendered-frame counter.
func (s *State) FramesRendered() int64 { return s.framesRendered.Load() }

// AddFramesRendered atomically adds delta to the rendered-frame counter and
// returns the new value.
func (s *State) AddFramesRendered(delta int64) int64 { return s.framesRendered.Add(delta) }

// SetFramesRendered force-sets the rendered-frame counter (used by the seek
// protocol, spec.md §4.4.1 step 5).
func (s *State) SetFramesRendered(v int64) { s.framesRendered.Store(v) }

// RequestSeek atomically installs a pending seek request, failing if one is
// already in flight (spec.md §7: "another seek in flight").
func (s *State) RequestSeek(frame int64) bool {
	return s.frameToSeek.CompareAndSwap(NoSeekPending, frame)
}

// TakeSeekRequest atomically reads and clears any pending seek request,
// returning (frame, true) if one was pending.
func (s *State) TakeSeekRequest() (int64, bool) {
	frame := s.frameToSeek.Load()
	if frame == NoSeekPending {
		return 0, false
	}
	if !s.frameToSeek.CompareAndSwap(frame, NoSeekPending) {
		// Lost a race with a concurrent clear; treat as "no seek".
		return 0, false
	}
	return frame, true
}

// KeepDecoding reports whether the worker should keep decoding this state.
func (s *State) KeepDecoding() bool { return s.keepDecoding.Load() }

// StopDecoding marks this state to stop decoding, observed by the worker no
// later than its next wake (spec.md §5).
func (s *State) StopDecoding() { s.keepDecoding.Store(false) }

// ReadyForCollection reports whether the collector may reclaim this state.
func (s *State) ReadyForCollection() bool { return s.readyForCollection.Load() }

// MarkReadyForCollection flags this state for reclamation. The render path
// sets this once the state is fully rendered (spec.md §4.6); ActiveSet.StopAll
// sets it for every active state when the controller stops.
func (s *State) MarkReadyForCollection() { s.readyForCollection.Store(true) }

// IsFullyRendered reports the completion predicate spec.md §4.2 specifies:
// FramesRendered >= TotalFrames, which can be observed slightly ahead of the
// decoder's true end because of the EOS race window (§9's Open Question).
func (s *State) IsFullyRendered() bool {
	return s.FramesRendered() >= s.TotalFrames
}

// FireDecodingStarted invokes the DecodingStarted hook exactly once for this
// state's lifetime; later calls are no-ops.
func (s *State) FireDecodingStarted() {
	if s.decodingStartedFired.CompareAndSwap(false, true) && s.callbacks.DecodingStarted != nil {
		s.callbacks.DecodingStarted()
	}
}

// FireDecodingFinished invokes the DecodingFinished hook. Called by the
// worker on EOS, before FireRenderingFinished can fire (spec.md §5's
// ordering guarantee).
func (s *State) FireDecodingFinished() {
	if s.callbacks.DecodingFinished != nil {
		s.callbacks.DecodingFinished()
	}
}

// FireRenderingStarted invokes the RenderingStarted hook exactly once for
// this state's lifetime; later calls are no-ops.
func (s *State) FireRenderingStarted() {
	if s.renderingStartedFired.CompareAndSwap(false, true) && s.callbacks.RenderingStarted != nil {
		s.callbacks.RenderingStarted()
	}
}

// FireRenderingFinished invokes the RenderingFinished hook. Called by the
// render callback exactly once, when FramesRendered reaches TotalFrames.
func (s *State) FireRenderingFinished() {
	if s.callbacks.RenderingFinished != nil {
		s.callbacks.RenderingFinished()
	}
}

// AllocateScratch (re)allocates the per-decoder scratch buffer(s) sized for
// one decode chunk of frames frames, according to the decoder's format.
func (s *State) AllocateScratch(frames int) {
	f := s.Decoder.Format()
	if f.NonInterleaved {
		s.scratch = make([][]byte, f.Channels)
		bytesPerSample := f.BytesPerSample()
		for ch := range s.scratch {
			s.scratch[ch] = make([]byte, frames*bytesPerSample)
		}
		return
	}
	s.scratch = [][]byte{make([]byte, frames*f.BytesPerFrame)}
}

// Scratch returns the scratch buffer list allocated by AllocateScratch.
func (s *State) Scratch() [][]byte { return s.scratch }

// ResetScratch drops the scratch buffer list, releasing it for GC.
func (s *State) ResetScratch() { s.scratch = nil }
