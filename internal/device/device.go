// Package device defines the platform audio subsystem collaborator
// (spec.md §6): it owns the output device, supplies a periodic render
// callback, and reports device/stream property changes.
package device

import "github.com/audiopipe/gapless/internal/pcmformat"

// RenderFunc is the periodic render callback the device invokes. It must
// not allocate, block, or take locks (spec.md §4.5). outputTimestamp is the
// device's notion of "when will this buffer actually sound", opaque to the
// engine beyond being monotonic.
type RenderFunc func(outputTimestamp int64, output [][]byte, frameCount int) Result

// Result tells the device whether to keep calling the render callback.
type Result int

const (
	// Continue requests another render callback invocation.
	Continue Result = iota
	// Complete requests the device stop calling back.
	Complete
)

// Output is the platform output device collaborator.
type Output interface {
	// RegisterRenderCallback installs the periodic render callback.
	RegisterRenderCallback(fn RenderFunc) error

	// Open configures and opens the device for the given virtual format and
	// frames-per-buffer. Property changes are published on the
	// IsRunningChanges, ProcessorOverloadChanges, and StreamsChanges
	// channels; the interface has no notification for nominal-sample-rate
	// changes.
	Open(format pcmformat.Format, framesPerBuffer int) error

	// Start begins calling the render callback.
	Start() error

	// Stop halts the render callback. The device will not be called again
	// until Start is called.
	Stop() error

	// Close detaches all property listeners and releases the device
	// binding.
	Close() error

	// SetDeviceID rebinds the output to a different physical device,
	// identified in a platform-specific way (index, UID, ...).
	SetDeviceID(id string) error

	// SetNominalSampleRate requests the device itself run at the given
	// sample rate (distinct from the engine's virtual format conversion).
	SetNominalSampleRate(rate int) error

	// SetHogMode acquires (pid != 0) or releases (pid == 0) exclusive
	// device ownership by writing the process id to a device property
	// (spec.md glossary: "hog mode").
	SetHogMode(pid int) error

	// BufferFrameSize gets/sets the device's buffer size in frames.
	BufferFrameSize() (int, error)
	SetBufferFrameSize(frames int) error

	// Streams returns the device's available stream collaborators.
	Streams() ([]Stream, error)

	// IsRunningChanges, ProcessorOverloadChanges, and StreamsChanges
	// publish property-change notifications. Each channel receives a value
	// every time the underlying property changes; callers should drain
	// them from a dedicated goroutine (spec.md §5's property-listener
	// thread).
	IsRunningChanges() <-chan bool
	ProcessorOverloadChanges() <-chan struct{}
	StreamsChanges() <-chan []Stream
}

// Stream is a single output stream on a device, exposing its PCM format and
// change notifications for both the physical (hardware) and virtual
// (application-facing) format.
type Stream interface {
	ID() string
	VirtualFormat() (pcmformat.Format, error)
	PhysicalFormat() (pcmformat.Format, error)
	VirtualFormatChanges() <-chan pcmformat.Format
	PhysicalFormatChanges() <-chan pcmformat.Format
}
