// Package recorder delivers parameter updates to the host: straight to the rig
// in live mode, or as keyframes on timeline tracks in record mode.
package recorder

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/leandrodaf/midimapper/internal/logger"
	"github.com/leandrodaf/midimapper/sdk/contracts"
)

// Mode selects where updates go.
type Mode int

const (
	// ModeLive forwards every update to the rig as it arrives.
	ModeLive Mode = iota
	// ModeRecord keyframes updates on the timeline while a session is recording.
	ModeRecord
)

func (m Mode) String() string {
	if m == ModeRecord {
		return "record"
	}
	return "live"
}

// State is the recording session state.
type State int

const (
	Idle State = iota
	Armed
	Recording
)

func (s State) String() string {
	switch s {
	case Armed:
		return "armed"
	case Recording:
		return "recording"
	}
	return "idle"
}

// StartPolicy decides when an armed session starts recording.
type StartPolicy struct {
	countdown time.Duration
	timed     bool
	stream    bool
}

// StartOnFirstUpdate starts recording with the first update received while armed.
func StartOnFirstUpdate() StartPolicy {
	return StartPolicy{}
}

// StartAfter starts recording when the countdown elapses. Updates received
// during the countdown are dropped.
func StartAfter(countdown time.Duration) StartPolicy {
	return StartPolicy{countdown: countdown, timed: true}
}

// StartAfterUpdate counts the countdown on update timestamps, starting at the
// first update received while armed. Recording begins at the first update at
// or past the end of the countdown, which becomes the session origin. Updates
// inside the countdown are dropped.
func StartAfterUpdate(countdown time.Duration) StartPolicy {
	return StartPolicy{countdown: countdown, stream: true}
}

// StateFunc is told about every session state change.
type StateFunc func(from, to State)

// Stats counts what the recorder did with the updates it received.
type Stats struct {
	Forwarded uint64 // updates sent to the rig
	Keyframes uint64 // keyframes written
	Coalesced uint64 // updates replaced by a later one in the same interval
	Dropped   uint64 // updates received outside a recording session
}

type pendingKey struct {
	bucket int64
	value  float64
}

// Recorder is a contracts.UpdateSink. It is safe for concurrent use; Stop may
// race with update delivery.
type Recorder struct {
	mu sync.Mutex

	mode     Mode
	rig      contracts.Rig
	timeline contracts.Timeline
	interval time.Duration
	policy   StartPolicy
	log      contracts.Logger
	onState  StateFunc
	accept   func(target string) bool
	now      func() time.Duration

	state      State
	session    uint64
	timer      *time.Timer
	origin     time.Duration
	deadline   time.Duration
	counting   bool
	startFrame int64
	fps        float64
	step       time.Duration
	pending    map[string]pendingKey

	stats Stats
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithLogger sets the logger used for dropped updates and rig errors.
func WithLogger(l contracts.Logger) Option {
	return func(r *Recorder) {
		r.log = l
	}
}

// WithMode sets the initial mode. The default is ModeLive.
func WithMode(m Mode) Option {
	return func(r *Recorder) {
		r.mode = m
	}
}

// WithRig sets the rig driven in live mode.
func WithRig(rig contracts.Rig) Option {
	return func(r *Recorder) {
		r.rig = rig
	}
}

// WithTimeline sets the timeline keyed in record mode.
func WithTimeline(tl contracts.Timeline) Option {
	return func(r *Recorder) {
		r.timeline = tl
	}
}

// WithInterval sets the coalescing interval. The default is one frame at the
// timeline frame rate.
func WithInterval(d time.Duration) Option {
	return func(r *Recorder) {
		r.interval = d
	}
}

// WithStartPolicy sets when an armed session starts recording.
func WithStartPolicy(p StartPolicy) Option {
	return func(r *Recorder) {
		r.policy = p
	}
}

// WithStateHook registers a function called after every state change.
func WithStateHook(fn StateFunc) Option {
	return func(r *Recorder) {
		r.onState = fn
	}
}

// WithTargetFilter makes the recorder ignore updates whose target accept rejects.
func WithTargetFilter(accept func(target string) bool) Option {
	return func(r *Recorder) {
		r.accept = accept
	}
}

// WithClock replaces the clock used by the timed start policy.
func WithClock(now func() time.Duration) Option {
	return func(r *Recorder) {
		r.now = now
	}
}

// New creates a recorder in the Idle state.
func New(opts ...Option) (*Recorder, error) {
	r := &Recorder{now: contracts.Now}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = logger.NewZapLogger()
	}
	if r.interval < 0 {
		return nil, fmt.Errorf("coalescing interval must not be negative, got %s", r.interval)
	}
	if err := r.checkMode(r.mode); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Recorder) checkMode(m Mode) error {
	switch m {
	case ModeLive:
		if r.rig == nil {
			return errors.New("live mode needs a rig")
		}
	case ModeRecord:
		if r.timeline == nil {
			return errors.New("record mode needs a timeline")
		}
	default:
		return fmt.Errorf("unknown mode %d", m)
	}
	return nil
}

// Mode returns the current mode.
func (r *Recorder) Mode() Mode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mode
}

// SetMode switches mode. It fails while a session is armed or recording.
func (r *Recorder) SetMode(m Mode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != Idle {
		return fmt.Errorf("%w: cannot change mode while %s", contracts.ErrSessionState, r.state)
	}
	if err := r.checkMode(m); err != nil {
		return err
	}
	r.mode = m
	return nil
}

// State returns the session state.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Stats returns a copy of the counters.
func (r *Recorder) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Start arms a recording session. Recording begins according to the start policy.
func (r *Recorder) Start() error {
	r.mu.Lock()
	if r.mode != ModeRecord {
		r.mu.Unlock()
		return fmt.Errorf("%w: start requires record mode", contracts.ErrSessionState)
	}
	if r.state != Idle {
		state := r.state
		r.mu.Unlock()
		return fmt.Errorf("%w: session already %s", contracts.ErrSessionState, state)
	}

	r.session++
	r.pending = make(map[string]pendingKey)
	r.counting = false
	from := r.setState(Armed)
	if r.policy.timed {
		session := r.session
		r.timer = time.AfterFunc(r.policy.countdown, func() { r.countdownElapsed(session) })
	}
	r.mu.Unlock()

	r.notify(from, Armed)
	return nil
}

func (r *Recorder) countdownElapsed(session uint64) {
	r.mu.Lock()
	if r.session != session || r.state != Armed {
		r.mu.Unlock()
		return
	}
	r.timer = nil
	r.begin(r.now())
	r.mu.Unlock()

	r.notify(Armed, Recording)
}

// begin moves an armed session to Recording with origin at the given time.
// The caller holds mu.
func (r *Recorder) begin(origin time.Duration) {
	r.origin = origin
	r.startFrame = r.timeline.Playhead()
	r.fps = r.timeline.FrameRate()
	if r.fps <= 0 || math.IsNaN(r.fps) {
		r.fps = 30
	}
	r.step = r.interval
	if r.step == 0 {
		r.step = time.Duration(float64(time.Second) / r.fps)
	}
	r.setState(Recording)
}

// Stop ends the session, writing any coalesced keyframes still pending.
// Updates arriving after Stop are dropped. Stop on an idle recorder is a no-op.
func (r *Recorder) Stop() {
	r.mu.Lock()
	if r.state == Idle {
		r.mu.Unlock()
		return
	}
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.flushAll()
	r.session++
	from := r.setState(Idle)
	r.mu.Unlock()

	r.notify(from, Idle)
}

// OnParameterUpdate implements contracts.UpdateSink.
func (r *Recorder) OnParameterUpdate(u contracts.ParameterUpdate) {
	if r.accept != nil && !r.accept(u.Target) {
		return
	}
	r.mu.Lock()

	if r.mode == ModeLive {
		r.stats.Forwarded++
		rig := r.rig
		r.mu.Unlock()
		if err := rig.SetControl(u.Target, u.Value); err != nil {
			r.log.Warn("rig rejected parameter update",
				r.log.Field().String("target", u.Target),
				r.log.Field().Float64("value", u.Value),
				r.log.Field().Error("error", err),
			)
		}
		return
	}

	if r.state == Armed && r.policy.stream && !r.counting {
		r.deadline = u.Timestamp + r.policy.countdown
		r.counting = true
	}

	switch {
	case r.state == Idle,
		r.state == Armed && r.policy.timed,
		r.state == Armed && r.policy.stream && u.Timestamp < r.deadline:
		state := r.state
		r.stats.Dropped++
		r.mu.Unlock()
		r.log.Warn("parameter update dropped; no active recording session",
			r.log.Field().String("target", u.Target),
			r.log.Field().String("state", state.String()),
			r.log.Field().Error("error", fmt.Errorf("%w: recorder %s", contracts.ErrSessionState, state)),
		)
		return
	case r.state == Armed:
		origin := u.Timestamp
		if r.policy.stream {
			origin = r.deadline
		}
		r.begin(origin)
		r.record(u)
		r.mu.Unlock()
		r.notify(Armed, Recording)
		return
	}

	r.record(u)
	r.mu.Unlock()
}

// record coalesces u into its interval bucket. The caller holds mu.
func (r *Recorder) record(u contracts.ParameterUpdate) {
	offset := u.Timestamp - r.origin
	if offset < 0 {
		offset = 0
	}
	bucket := int64(offset / r.step)

	if p, ok := r.pending[u.Target]; ok {
		if p.bucket == bucket {
			r.stats.Coalesced++
		} else {
			r.flush(u.Target, p)
		}
	}
	r.pending[u.Target] = pendingKey{bucket: bucket, value: u.Value}
}

func (r *Recorder) flush(target string, p pendingKey) {
	at := time.Duration(p.bucket) * r.step
	frame := r.startFrame + int64(math.Round(at.Seconds()*r.fps))
	r.timeline.Track(target).SetKey(frame, p.value)
	r.stats.Keyframes++
}

func (r *Recorder) flushAll() {
	targets := make([]string, 0, len(r.pending))
	for t := range r.pending {
		targets = append(targets, t)
	}
	sort.Strings(targets)
	for _, t := range targets {
		r.flush(t, r.pending[t])
	}
	r.pending = nil
}

func (r *Recorder) setState(s State) State {
	from := r.state
	r.state = s
	return from
}

func (r *Recorder) notify(from, to State) {
	if r.onState != nil && from != to {
		r.onState(from, to)
	}
}
