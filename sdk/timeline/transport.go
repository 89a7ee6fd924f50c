package timeline

import (
	"strings"
	"sync"

	"github.com/leandrodaf/midimapper/internal/logger"
	"github.com/leandrodaf/midimapper/sdk/contracts"
)

// Transport targets. Map a control to one of these to drive the timeline.
const (
	Namespace          = "Seq."
	TargetTimeControl  = "Seq.TimeControl"
	TargetStepForward  = "Seq.StepForward"
	TargetStepBackward = "Seq.StepBackward"
	TargetPlayHold     = "Seq.PlayHold"
	TargetKeyframeZero = "Seq.KeyframeZero"
	TargetKeyLastTouch = "Seq.KeyframeLastTouched"
	TargetSmallStep    = "Seq.SmallStepButton"
	TargetLargeStep    = "Seq.LargeStepButton"
	TargetSetStart     = "Seq.SetStartTime"
	TargetSetEnd       = "Seq.SetEndTime"
)

// Session queue targets. The transport hands them to the hooks set with
// WithBakeSave and WithLoadNext.
const (
	QueueNamespace = "Queue."
	TargetBakeSave = "Queue.BakeSave"
	TargetLoadNext = "Queue.LoadNext"
)

// Targets lists every transport target.
var Targets = []string{
	TargetTimeControl, TargetStepForward, TargetStepBackward, TargetPlayHold,
	TargetKeyframeZero, TargetKeyLastTouch, TargetSmallStep, TargetLargeStep,
	TargetSetStart, TargetSetEnd, TargetBakeSave, TargetLoadNext,
}

// Step sizes in frames.
const (
	StepDefault = 5
	StepSmall   = 1
	StepLarge   = 10
	StepBoth    = 20
)

// buttonThreshold is the value above which a button counts as pressed.
const buttonThreshold = 0.5

// RigState is the read side of a rig used by the keyframe actions.
type RigState interface {
	Controls() []string
	Value(target string) (float64, bool)
	LastTouched() []string
}

// Transport is a contracts.UpdateSink that turns updates on "Seq." targets
// into timeline actions and presses on "Queue." targets into session actions.
// Other targets are ignored.
type Transport struct {
	tl  *Timeline
	rig RigState
	log contracts.Logger

	jogTop   float64
	bakeSave func()
	loadNext func()

	mu        sync.Mutex
	smallHeld bool
	largeHeld bool
	lastJog   float64
}

// TransportOption configures a Transport.
type TransportOption func(*Transport)

// WithTransportLogger sets the transport logger.
func WithTransportLogger(l contracts.Logger) TransportOption {
	return func(t *Transport) {
		t.log = l
	}
}

// WithRigState sets the rig read by the keyframe actions.
func WithRigState(rig RigState) TransportOption {
	return func(t *Transport) {
		t.rig = rig
	}
}

// WithJogTop sets the time control value at which the jog keeps advancing.
// It defaults to 1, the top of the default parameter range.
func WithJogTop(v float64) TransportOption {
	return func(t *Transport) {
		t.jogTop = v
	}
}

// WithBakeSave sets the action run when the bake button is pressed.
func WithBakeSave(fn func()) TransportOption {
	return func(t *Transport) {
		t.bakeSave = fn
	}
}

// WithLoadNext sets the action run when the load-next button is pressed.
func WithLoadNext(fn func()) TransportOption {
	return func(t *Transport) {
		t.loadNext = fn
	}
}

// NewTransport creates a transport driving tl.
func NewTransport(tl *Timeline, opts ...TransportOption) *Transport {
	t := &Transport{tl: tl, jogTop: 1}
	for _, opt := range opts {
		opt(t)
	}
	if t.log == nil {
		t.log = logger.NewZapLogger()
	}
	return t
}

// IsTransportTarget reports whether target belongs to the transport.
func IsTransportTarget(target string) bool {
	return strings.HasPrefix(target, Namespace) || strings.HasPrefix(target, QueueNamespace)
}

// StepSize returns the step for the modifier buttons currently held.
func (t *Transport) StepSize() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stepSize()
}

func (t *Transport) stepSize() int64 {
	switch {
	case t.smallHeld && t.largeHeld:
		return StepBoth
	case t.smallHeld:
		return StepSmall
	case t.largeHeld:
		return StepLarge
	}
	return StepDefault
}

// OnParameterUpdate implements contracts.UpdateSink.
func (t *Transport) OnParameterUpdate(u contracts.ParameterUpdate) {
	if !IsTransportTarget(u.Target) {
		return
	}
	pressed := u.Value > buttonThreshold

	switch u.Target {
	case TargetBakeSave:
		t.fire(u.Target, t.bakeSave, pressed)
		return
	case TargetLoadNext:
		t.fire(u.Target, t.loadNext, pressed)
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	switch u.Target {
	case TargetSmallStep:
		t.smallHeld = u.Value >= buttonThreshold
	case TargetLargeStep:
		t.largeHeld = u.Value >= buttonThreshold
	case TargetStepForward:
		if pressed {
			t.step(1)
		}
	case TargetStepBackward:
		if pressed {
			t.step(-1)
		}
	case TargetTimeControl:
		t.jog(u.Value)
	case TargetPlayHold:
		t.tl.SetPlaying(pressed)
	case TargetSetStart:
		if pressed {
			t.setRange(true)
		}
	case TargetSetEnd:
		if pressed {
			t.setRange(false)
		}
	case TargetKeyframeZero:
		if pressed {
			t.keyAll(true)
		}
	case TargetKeyLastTouch:
		if pressed {
			t.keyAll(false)
		}
	default:
		t.log.Debug("unknown transport target", t.log.Field().String("target", u.Target))
	}
}

// fire runs a queue action outside the transport lock.
func (t *Transport) fire(target string, fn func(), pressed bool) {
	if !pressed {
		return
	}
	if fn == nil {
		t.log.Debug("queue action without a handler", t.log.Field().String("target", target))
		return
	}
	fn()
}

func (t *Transport) step(dir int64) {
	frame := t.tl.Advance(dir * t.stepSize())
	t.log.Debug("timeline stepped",
		t.log.Field().Int64("direction", dir),
		t.log.Field().Int64("frame", frame))
}

// jog compares v with the previous jog value; a value at the top of the range
// keeps advancing so a fader parked at its end still scrubs.
func (t *Transport) jog(v float64) {
	size := int64(StepDefault)
	switch {
	case t.smallHeld:
		size = StepSmall
	case t.largeHeld:
		size = StepLarge
	}
	if v > t.lastJog || v >= t.jogTop {
		t.tl.Advance(size)
	} else {
		t.tl.Advance(-size)
	}
	t.lastJog = v
}

func (t *Transport) setRange(start bool) {
	now := t.tl.Playhead()
	var ok bool
	if start {
		ok = t.tl.SetStart(now)
	} else {
		ok = t.tl.SetEnd(now)
	}
	s, e := t.tl.PlayRange()
	t.log.Info("play range updated",
		t.log.Field().Bool("applied", ok),
		t.log.Field().Int64("start", s),
		t.log.Field().Int64("end", e))
}

// keyAll keys rig controls at the playhead: every control to zero, or the
// last-touched controls at their current value.
func (t *Transport) keyAll(zero bool) {
	if t.rig == nil {
		t.log.Warn("keyframe action without a rig", t.log.Field().Bool("zero", zero))
		return
	}
	frame := t.tl.Playhead()
	names := t.rig.LastTouched()
	if zero {
		names = t.rig.Controls()
	}
	for _, name := range names {
		if IsTransportTarget(name) {
			continue
		}
		v := 0.0
		if !zero {
			cur, ok := t.rig.Value(name)
			if !ok {
				continue
			}
			v = cur
		}
		t.tl.Track(name).SetKey(frame, v)
	}
	t.log.Info("rig controls keyed",
		t.log.Field().Int64("frame", frame),
		t.log.Field().Int("controls", len(names)),
		t.log.Field().Bool("zero", zero))
}
