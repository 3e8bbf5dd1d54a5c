// Package activeset implements the fixed-capacity set of active
// DecoderStates spec.md §3/§4.3 describes.
//
// The slot array is the "atomic tagged option cell" design note (spec.md
// §9) calls for: empty is the zero value of atomic.Pointer[T], and a single
// compare-and-swap moves a slot empty -> owned (worker) or owned -> empty
// (collector). No sentinel "being collected" state is needed because that
// transition is one-shot per DecoderState. Grounded in the cache-conscious,
// lock-free style of the pack's SPSC ring buffers (e.g. the padded atomic
// cursors in drgolem-go-portaudio's SPSCRingBuffer), applied here to pointer
// slots instead of byte cursors.
package activeset

import (
	"sync/atomic"

	"github.com/audiopipe/gapless/internal/decoderstate"
)

// Size is the fixed slot count spec.md §3 names.
const Size = 8

// ActiveSet holds up to Size active DecoderStates. All operations scan the
// full slot array; none allocate or lock, so they are safe to call from the
// realtime render callback.
type ActiveSet struct {
	slots [Size]atomic.Pointer[decoderstate.State]
}

// New creates an empty ActiveSet.
func New() *ActiveSet {
	return &ActiveSet{}
}

// TryInsert claims the first empty slot for state via compare-and-swap.
// Returns false if every slot is occupied.
func (a *ActiveSet) TryInsert(state *decoderstate.State) bool {
	for i := range a.slots {
		if a.slots[i].CompareAndSwap(nil, state) {
			return true
		}
	}
	return false
}

// Current returns the active-but-not-finished DecoderState with the
// smallest Timestamp: the one neither fully rendered nor ready for
// collection (spec.md §4.3). Returns nil if none qualifies.
func (a *ActiveSet) Current() *decoderstate.State {
	var best *decoderstate.State
	for i := range a.slots {
		s := a.slots[i].Load()
		if s == nil || s.ReadyForCollection() || s.IsFullyRendered() {
			continue
		}
		if best == nil || s.Timestamp < best.Timestamp {
			best = s
		}
	}
	return best
}

// NextAfter returns the smallest-timestamp active DecoderState whose
// Timestamp is strictly greater than ts, ignoring collection-ready slots.
// Returns nil if none qualifies.
func (a *ActiveSet) NextAfter(ts int64) *decoderstate.State {
	var best *decoderstate.State
	for i := range a.slots {
		s := a.slots[i].Load()
		if s == nil || s.ReadyForCollection() || s.Timestamp <= ts {
			continue
		}
		if best == nil || s.Timestamp < best.Timestamp {
			best = s
		}
	}
	return best
}

// ReclaimMarked compare-and-swaps every slot whose state is ready for
// collection back to empty, returning the reclaimed states and their count.
// Called by the Collector.
func (a *ActiveSet) ReclaimMarked() []*decoderstate.State {
	var reclaimed []*decoderstate.State
	for i := range a.slots {
		s := a.slots[i].Load()
		if s == nil || !s.ReadyForCollection() {
			continue
		}
		if a.slots[i].CompareAndSwap(s, nil) {
			reclaimed = append(reclaimed, s)
		}
	}
	return reclaimed
}

// StopAll marks every occupied slot's state to stop decoding and ready for
// collection, and returns them. Used by PlayerController.Stop().
func (a *ActiveSet) StopAll() []*decoderstate.State {
	var all []*decoderstate.State
	for i := range a.slots {
		s := a.slots[i].Load()
		if s == nil {
			continue
		}
		s.StopDecoding()
		s.MarkReadyForCollection()
		all = append(all, s)
	}
	return all
}

// Len reports how many slots are currently occupied.
func (a *ActiveSet) Len() int {
	n := 0
	for i := range a.slots {
		if a.slots[i].Load() != nil {
			n++
		}
	}
	return n
}
