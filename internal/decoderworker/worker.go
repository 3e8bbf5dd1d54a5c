// Package decoderworker implements the producer half of the pipeline
// (spec.md §4.4): it pulls queued decoders one at a time, creates their
// DecoderState, refills the ring buffer in fixed-size chunks, services
// seeks, and finalizes on end-of-stream.
//
// Grounded in the teacher's producer goroutines
// (pkg/audioplayer.Player.producer, internal/fileplayer.FilePlayer.producer),
// generalized from a single always-on decode loop to the queue-pop /
// activate / chunked-refill / seek-service loop below, and from
// time.Sleep-based backoff to internal/semaphore's bounded-wait signal.
package decoderworker

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/audiopipe/gapless/internal/activeset"
	"github.com/audiopipe/gapless/internal/decoder"
	"github.com/audiopipe/gapless/internal/decoderstate"
	"github.com/audiopipe/gapless/internal/ringbuf"
	"github.com/audiopipe/gapless/internal/semaphore"
)

// ChunkFrames is the fixed write unit from decoder to ring buffer (spec.md
// glossary: "Chunk").
const ChunkFrames = 2048

// WaitTimeout is the bounded-wait timeout on the decoder signal (spec.md
// §4.4/§5).
const WaitTimeout = 2 * time.Second

// Queue is the mutex-guarded FIFO of decoders awaiting activation (spec.md
// §3's PendingQueue).
type Queue struct {
	mu    sync.Mutex
	items []decoder.Decoder
}

// NewQueue creates an empty pending queue.
func NewQueue() *Queue { return &Queue{} }

// Push appends d to the tail of the queue.
func (q *Queue) Push(d decoder.Decoder) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, d)
}

// Pop removes and returns the head decoder, or (nil, false) if empty.
func (q *Queue) Pop() (decoder.Decoder, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	d := q.items[0]
	q.items = q.items[1:]
	return d, true
}

// Clear drops every queued decoder and returns them, so the caller (the
// controller) can close them.
func (q *Queue) Clear() []decoder.Decoder {
	q.mu.Lock()
	defer q.mu.Unlock()
	dropped := q.items
	q.items = nil
	return dropped
}

// Len reports the number of queued decoders.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// NewStateFunc constructs the DecoderState for a freshly dequeued decoder,
// wiring whatever lifecycle callbacks the controller wants fired through it.
// Owned by the caller (the controller), not this package, since only the
// controller knows what a "decoding started" notification should do.
type NewStateFunc func(d decoder.Decoder, timestamp int64) *decoderstate.State

// ResetHook is called after a successful seek so the caller (the
// controller) can reset its converter and invoke the device's ResetOutput
// hook (spec.md §4.4.1 step 5).
type ResetHook func()

// Worker runs the decode loop. It holds borrowed references to the
// controller's ring buffer, active set, and pending queue rather than
// owning them (spec.md §9: "model as a single owner... borrowed handles
// passed at thread start, never as mutual ownership").
type Worker struct {
	ring      *ringbuf.RingBuffer
	active    *activeset.ActiveSet
	queue     *Queue
	signal    *semaphore.Semaphore
	newState  NewStateFunc
	reset     ResetHook
	isSeeking *SeekFlag

	logger *slog.Logger
}

// SeekFlag is the shared is_seeking flag spec.md §3 describes: published by
// the worker before it mutates counters, observed by the render callback's
// fast path (spec.md §4.5 step 2).
type SeekFlag struct {
	v atomic.Bool
}

// Set stores the flag's value.
func (f *SeekFlag) Set(v bool) { f.v.Store(v) }

// Get loads the flag's value.
func (f *SeekFlag) Get() bool { return f.v.Load() }

// New creates a Worker bound to the given collaborators. reset is invoked
// after every successful seek; isSeeking is the shared flag the
// RenderCallback also reads.
func New(ring *ringbuf.RingBuffer, active *activeset.ActiveSet, queue *Queue, signal *semaphore.Semaphore, newState NewStateFunc, reset ResetHook, isSeeking *SeekFlag, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		ring: ring, active: active, queue: queue, signal: signal,
		newState: newState, reset: reset, isSeeking: isSeeking, logger: logger,
	}
}

// Run executes the decode loop until stop is closed. Intended to run on its
// own goroutine for the controller's lifetime.
func (w *Worker) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}

		d, ok := w.queue.Pop()
		if !ok {
			w.signal.Wait(WaitTimeout)
			continue
		}

		w.activate(d, stop)
	}
}

func (w *Worker) activate(d decoder.Decoder, stop <-chan struct{}) {
	ts := w.ring.FramesDecoded()
	state := w.newState(d, ts)

	if !w.active.TryInsert(state) {
		w.logger.Error("decoder worker: active set full, dropping decoder", "url", d.URL())
		d.Close()
		return
	}
	state.AllocateScratch(ChunkFrames)

	var startingFrameNumber int64

	for state.KeepDecoding() {
		select {
		case <-stop:
			return
		default:
		}

		if frame, pending := state.TakeSeekRequest(); pending {
			startingFrameNumber = w.serviceSeek(state, frame, startingFrameNumber)
		}

		if w.ring.AvailableToWrite() < ChunkFrames {
			w.signal.Wait(WaitTimeout)
			continue
		}

		state.FireDecodingStarted()

		n, err := state.Decoder.Read(state.Scratch(), ChunkFrames)
		if err != nil && !errors.Is(err, io.EOF) {
			w.logger.Warn("decoder worker: transient decode error, skipping chunk", "url", d.URL(), "error", err)
			continue
		}
		if n == 0 {
			state.FireDecodingFinished()
			state.TotalFrames = startingFrameNumber
			return
		}

		destFrame := startingFrameNumber + state.Timestamp
		if err := w.ring.Store(state.Scratch(), n, destFrame); err != nil {
			w.logger.Error("decoder worker: ring buffer overrun", "url", d.URL(), "error", err)
			continue
		}

		w.ring.AddFramesDecoded(int64(n))
		startingFrameNumber += int64(n)
	}
}

// serviceSeek implements spec.md §4.4.1, returning the new
// startingFrameNumber the decode loop should continue from.
func (w *Worker) serviceSeek(state *decoderstate.State, frameToSeek int64, startingFrameNumber int64) int64 {
	w.isSeeking.Set(true)
	defer w.isSeeking.Set(false)

	pre := state.Decoder.CurrentFrame()
	post := state.Decoder.SeekToFrame(frameToSeek)

	if post < 0 {
		w.logger.Warn("decoder worker: seek failed", "url", state.Decoder.URL(), "frame", frameToSeek)
		return startingFrameNumber
	}

	delta := post - pre
	state.SetFramesRendered(post)
	w.ring.AddFramesDecoded(delta)
	w.ring.SetFramesRendered(w.ring.FramesDecoded())

	if w.reset != nil {
		w.reset()
	}

	return startingFrameNumber + delta
}
