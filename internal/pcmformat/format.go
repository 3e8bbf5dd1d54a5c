// Package pcmformat describes the PCM layout shared between decoders, the
// ring buffer, and the converter.
package pcmformat

// Format describes a PCM stream layout: sample rate, channel count, and the
// byte stride of one frame (one sample per channel). NonInterleaved marks
// planar buffers (one []byte per channel) rather than interleaved ones.
type Format struct {
	SampleRate     int
	Channels       int
	BitsPerSample  int
	BytesPerFrame  int
	NonInterleaved bool
}

// Equal reports whether two formats describe bit-exact compatible PCM,
// the condition spec.md requires for a gapless join between decoders.
//
// Channel-layout equality is deliberately not checked here: spec.md notes
// the source comments this check out, and the external contract only
// requires format-descriptor equality.
func (f Format) Equal(other Format) bool {
	return f.SampleRate == other.SampleRate &&
		f.Channels == other.Channels &&
		f.BitsPerSample == other.BitsPerSample &&
		f.BytesPerFrame == other.BytesPerFrame &&
		f.NonInterleaved == other.NonInterleaved
}

// BytesPerSample returns the storage width of a single channel sample.
func (f Format) BytesPerSample() int {
	return f.BitsPerSample / 8
}
