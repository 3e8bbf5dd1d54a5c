// Package collector implements the deferred reclamation worker (spec.md
// §4.6): on wake, it scans the ActiveSet for DecoderStates flagged
// ready-for-collection, compare-and-swaps their slots back to empty, and
// destroys the states. It has no direct teacher analogue; it is grounded in
// the same bounded-wait semaphore primitive as the decoder worker and in
// the ActiveSet's CAS-based reclamation contract.
package collector

import (
	"log/slog"
	"time"

	"github.com/audiopipe/gapless/internal/activeset"
	"github.com/audiopipe/gapless/internal/semaphore"
)

// WaitTimeout is the bounded-wait timeout on the collector signal (spec.md
// §4.6/§5).
const WaitTimeout = 2 * time.Second

// Collector runs the reclamation loop.
type Collector struct {
	active *activeset.ActiveSet
	signal *semaphore.Semaphore
	logger *slog.Logger
}

// New creates a Collector bound to active, woken by signal.
func New(active *activeset.ActiveSet, signal *semaphore.Semaphore, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{active: active, signal: signal, logger: logger}
}

// Run executes the reclamation loop until stop is closed.
func (c *Collector) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}

		c.signal.Wait(WaitTimeout)
		c.sweep()
	}
}

// sweep reclaims every slot currently marked ready-for-collection. Sweep
// exposes it for tests that want to drive a deterministic sweep without
// waiting on the semaphore.
func (c *Collector) sweep() {
	reclaimed := c.active.ReclaimMarked()
	for _, state := range reclaimed {
		if err := state.Decoder.Close(); err != nil {
			c.logger.Warn("collector: failed to close decoder", "url", state.Decoder.URL(), "error", err)
		}
	}
}

// Sweep performs one reclamation pass immediately, for callers (tests, or a
// final drain on Stop) that need synchronous collection instead of waiting
// for the background loop.
func (c *Collector) Sweep() { c.sweep() }
