// Package timeline is an in-memory sequencer: a playhead, a play range and one
// keyframe track per rig parameter.
package timeline

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/leandrodaf/midimapper/sdk/contracts"
)

// DefaultFrameRate is used when no frame rate is configured.
const DefaultFrameRate = 30.0

// Key is one keyframe.
type Key struct {
	Frame int64   `json:"frame" yaml:"frame"`
	Value float64 `json:"value" yaml:"value"`
}

// Track holds the keyframes of one parameter ordered by frame.
type Track struct {
	mu   sync.RWMutex
	keys []Key
	rev  *atomic.Uint64 // Owning timeline's revision, nil for a standalone track.
}

// SetKey implements contracts.Track.
func (t *Track) SetKey(frame int64, value float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.rev != nil {
		t.rev.Add(1)
	}
	i := sort.Search(len(t.keys), func(i int) bool { return t.keys[i].Frame >= frame })
	if i < len(t.keys) && t.keys[i].Frame == frame {
		t.keys[i].Value = value
		return
	}
	t.keys = append(t.keys, Key{})
	copy(t.keys[i+1:], t.keys[i:])
	t.keys[i] = Key{Frame: frame, Value: value}
}

// Keys returns a copy of the keyframes.
func (t *Track) Keys() []Key {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]Key(nil), t.keys...)
}

// Len returns the number of keyframes.
func (t *Track) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.keys)
}

// ValueAt evaluates the track at frame with linear interpolation, holding the
// first and last keys outside their span. The second result is false for an
// empty track.
func (t *Track) ValueAt(frame int64) (float64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := len(t.keys)
	if n == 0 {
		return 0, false
	}
	i := sort.Search(n, func(i int) bool { return t.keys[i].Frame >= frame })
	switch {
	case i == n:
		return t.keys[n-1].Value, true
	case t.keys[i].Frame == frame || i == 0:
		return t.keys[i].Value, true
	}
	a, b := t.keys[i-1], t.keys[i]
	f := float64(frame-a.Frame) / float64(b.Frame-a.Frame)
	return a.Value + f*(b.Value-a.Value), true
}

// Timeline is safe for concurrent use.
type Timeline struct {
	mu       sync.RWMutex
	fps      float64
	playhead int64
	start    int64
	end      int64
	playing  bool
	tracks   map[string]*Track
	order    []string
	rev      atomic.Uint64
}

// Option configures a Timeline.
type Option func(*Timeline)

// WithFrameRate sets the playback rate in frames per second.
func WithFrameRate(fps float64) Option {
	return func(t *Timeline) {
		t.fps = fps
	}
}

// WithPlayRange sets the initial play range.
func WithPlayRange(start, end int64) Option {
	return func(t *Timeline) {
		t.start, t.end = start, end
	}
}

// New creates an empty timeline. The default play range is ten seconds.
func New(opts ...Option) (*Timeline, error) {
	t := &Timeline{tracks: make(map[string]*Track)}
	for _, opt := range opts {
		opt(t)
	}
	if t.fps == 0 {
		t.fps = DefaultFrameRate
	}
	if t.fps < 0 {
		return nil, fmt.Errorf("frame rate must be positive, got %v", t.fps)
	}
	if t.start == 0 && t.end == 0 {
		t.end = int64(10 * t.fps)
	}
	if t.start >= t.end {
		return nil, fmt.Errorf("play range start %d must be before end %d", t.start, t.end)
	}
	return t, nil
}

// FrameRate implements contracts.Timeline.
func (t *Timeline) FrameRate() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.fps
}

// Playhead implements contracts.Timeline.
func (t *Timeline) Playhead() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.playhead
}

// SetPlayhead moves the playhead.
func (t *Timeline) SetPlayhead(frame int64) {
	t.mu.Lock()
	t.playhead = frame
	t.mu.Unlock()
}

// Advance moves the playhead by delta frames and returns the new frame.
func (t *Timeline) Advance(delta int64) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.playhead += delta
	return t.playhead
}

// PlayRange returns the inclusive play range.
func (t *Timeline) PlayRange() (start, end int64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.start, t.end
}

// SetStart moves the start of the play range. It reports false and leaves the
// range alone unless frame is before the current end.
func (t *Timeline) SetStart(frame int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if frame >= t.end {
		return false
	}
	t.start = frame
	return true
}

// SetEnd moves the end of the play range. It reports false and leaves the
// range alone unless frame is after the current start.
func (t *Timeline) SetEnd(frame int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if frame <= t.start {
		return false
	}
	t.end = frame
	return true
}

// Playing reports the playback status.
func (t *Timeline) Playing() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.playing
}

// SetPlaying starts or stops playback.
func (t *Timeline) SetPlaying(playing bool) {
	t.mu.Lock()
	t.playing = playing
	t.mu.Unlock()
}

// Track implements contracts.Timeline.
func (t *Timeline) Track(target string) contracts.Track {
	return t.track(target)
}

func (t *Timeline) track(target string) *Track {
	t.mu.RLock()
	tr, ok := t.tracks[target]
	t.mu.RUnlock()
	if ok {
		return tr
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if tr, ok = t.tracks[target]; ok {
		return tr
	}
	tr = &Track{rev: &t.rev}
	t.tracks[target] = tr
	t.order = append(t.order, target)
	return tr
}

// Lookup returns the track bound to target without creating it.
func (t *Timeline) Lookup(target string) (*Track, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	tr, ok := t.tracks[target]
	return tr, ok
}

// Keys returns the keyframes recorded for target.
func (t *Timeline) Keys(target string) []Key {
	tr, ok := t.Lookup(target)
	if !ok {
		return nil
	}
	return tr.Keys()
}

// Targets lists the tracked targets in creation order.
func (t *Timeline) Targets() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]string(nil), t.order...)
}

// Revision counts the keys set on the timeline's tracks. It only grows.
func (t *Timeline) Revision() uint64 {
	return t.rev.Load()
}

// KeyCount returns the number of keyframes across all tracks.
func (t *Timeline) KeyCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, tr := range t.tracks {
		n += tr.Len()
	}
	return n
}
