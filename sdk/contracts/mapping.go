package contracts

import (
	"errors"
	"time"
)

// Recoverable error kinds. None of them stops processing: each is logged as a
// warning with the sentinel wrapped in the "error" field.
var (
	// ErrDecode marks malformed bytes skipped while resynchronizing the decoder.
	ErrDecode = errors.New("malformed MIDI byte sequence")
	// ErrMappingConflict marks a registration that replaced an existing entry.
	ErrMappingConflict = errors.New("mapping key already registered")
	// ErrOutOfRange marks a transform result clamped into the target range.
	ErrOutOfRange = errors.New("value outside target parameter range")
	// ErrSessionState marks an update dropped because no recording was active.
	ErrSessionState = errors.New("no active recording session")
)

// Range is the declared numeric domain of a rig parameter.
type Range struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// UnitRange is the default [0, 1] parameter domain.
var UnitRange = Range{Min: 0, Max: 1}

// IsZero reports whether the range was left unset.
func (r Range) IsZero() bool {
	return r.Min == 0 && r.Max == 0
}

// Clamp limits v to [Min, Max]. The second result is false when v had to be moved.
func (r Range) Clamp(v float64) (float64, bool) {
	lo, hi := r.Min, r.Max
	if lo > hi {
		lo, hi = hi, lo
	}
	if v < lo {
		return lo, false
	}
	if v > hi {
		return hi, false
	}
	return v, true
}

// Lerp maps n in [0, 1] onto the range.
func (r Range) Lerp(n float64) float64 {
	return r.Min + n*(r.Max-r.Min)
}

// ParameterUpdate is a new value for a named rig parameter.
type ParameterUpdate struct {
	Target    string
	Value     float64
	Timestamp time.Duration // Copied unchanged from the source event.
}

// UpdateSink consumes parameter updates produced by the mapping engine.
type UpdateSink interface {
	OnParameterUpdate(update ParameterUpdate)
}

// UpdateSinkFunc adapts a function to UpdateSink.
type UpdateSinkFunc func(update ParameterUpdate)

// OnParameterUpdate calls f(update).
func (f UpdateSinkFunc) OnParameterUpdate(update ParameterUpdate) { f(update) }

// Rig is the host control-rig API driven in live mode.
type Rig interface {
	SetControl(target string, value float64) error
}

// Track is the host timeline track bound to one parameter.
type Track interface {
	// SetKey inserts a keyframe at frame, replacing any key already on that frame.
	SetKey(frame int64, value float64)
}

// Timeline is the host timeline API used by the recorder.
type Timeline interface {
	// FrameRate is the playback rate in frames per second.
	FrameRate() float64
	// Playhead is the frame recording starts from.
	Playhead() int64
	// Track returns the track bound to target, creating it when needed.
	Track(target string) Track
}
