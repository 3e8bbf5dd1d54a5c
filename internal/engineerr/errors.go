// Package engineerr holds the engine's error taxonomy (spec.md §7).
package engineerr

import "errors"

var (
	ErrInvalidDeviceOrStream     = errors.New("invalid device or stream")
	ErrResourceAllocationFailed  = errors.New("resource allocation failed")
	ErrDecoderRejected           = errors.New("decoder rejected")
	ErrFormatMismatchOnEnqueue   = errors.New("format mismatch on enqueue")
	ErrSeekUnsupported           = errors.New("seek unsupported by decoder")
	ErrSeekFailed                = errors.New("seek failed")
	ErrDeviceConfigurationFailed = errors.New("device configuration failed")
	// ErrBufferOverrun is defensive: §4.1's contract should make this
	// unreachable on the hot path. It is logged, not returned, if observed.
	ErrBufferOverrun = errors.New("ring buffer overrun")
)
