// Package rig is an in-memory control rig: named float controls with declared
// ranges, driven by the live recorder.
package rig

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/leandrodaf/midimapper/sdk/contracts"
	"github.com/leandrodaf/midimapper/sdk/mapping"
)

// ErrUnknownControl is returned for a control the rig does not define.
var ErrUnknownControl = errors.New("unknown rig control")

// Control describes one rig control.
type Control struct {
	Name  string          `json:"name" yaml:"name"`
	Range contracts.Range `json:"range" yaml:"range"`
}

type control struct {
	Control
	value float64
}

// Rig is safe for concurrent use.
type Rig struct {
	name string

	mu       sync.RWMutex
	controls map[string]*control
	order    []string
	touched  []string
	isTouch  map[string]bool
}

// New creates a rig with the given controls. A control with an unset range
// gets [0, 1].
func New(name string, controls ...Control) (*Rig, error) {
	r := &Rig{
		name:     name,
		controls: make(map[string]*control),
		isTouch:  make(map[string]bool),
	}
	for _, c := range controls {
		if err := r.Define(c.Name, c.Range); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Name returns the rig name.
func (r *Rig) Name() string {
	return r.name
}

// Define adds a control, or changes the range of an existing one. The current
// value is kept within the new range.
func (r *Rig) Define(name string, rng contracts.Range) error {
	if name == "" {
		return errors.New("rig control needs a name")
	}
	if rng.IsZero() {
		rng = contracts.UnitRange
	}
	if rng.Min > rng.Max {
		return fmt.Errorf("control %s: range min %v above max %v", name, rng.Min, rng.Max)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.controls[name]
	if !ok {
		c = &control{Control: Control{Name: name}, value: rng.Min}
		r.controls[name] = c
		r.order = append(r.order, name)
	}
	c.Range = rng
	c.value, _ = rng.Clamp(c.value)
	return nil
}

// SetControl implements contracts.Rig. Values are clamped to the control range.
func (r *Rig) SetControl(target string, value float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.controls[target]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownControl, target)
	}
	c.value, _ = c.Range.Clamp(value)
	if !r.isTouch[target] {
		r.isTouch[target] = true
		r.touched = append(r.touched, target)
	}
	return nil
}

// Value returns the current value of a control.
func (r *Rig) Value(target string) (float64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.controls[target]
	if !ok {
		return 0, false
	}
	return c.value, true
}

// Values returns every control value keyed by name.
func (r *Rig) Values() map[string]float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]float64, len(r.controls))
	for name, c := range r.controls {
		out[name] = c.value
	}
	return out
}

// Controls lists control names in definition order.
func (r *Rig) Controls() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Control returns the definition of a control.
func (r *Rig) Control(name string) (Control, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.controls[name]
	if !ok {
		return Control{}, false
	}
	return c.Control, true
}

// LastTouched lists the controls set since the last ClearTouched, in the
// order they were first touched.
func (r *Rig) LastTouched() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.touched...)
}

// ClearTouched forgets the touched controls.
func (r *Rig) ClearTouched() {
	r.mu.Lock()
	r.touched = nil
	r.isTouch = make(map[string]bool)
	r.mu.Unlock()
}

// Bind registers a mapping from key to the named control using the control's
// declared range. Names that are not rig controls, such as transport targets,
// are bound with the unit range.
func (r *Rig) Bind(table *mapping.Table, key contracts.Key, name string) error {
	rng := contracts.UnitRange
	if c, ok := r.Control(name); ok {
		rng = c.Range
	}
	return table.Register(mapping.Entry{Key: key, Target: name, Range: rng, Enabled: true})
}

// Unbound lists controls with no entry in the snapshot, sorted by name.
func (r *Rig) Unbound(snap *mapping.Snapshot) []string {
	bound := make(map[string]bool, snap.Len())
	for _, e := range snap.Entries() {
		bound[e.Target] = true
	}
	var out []string
	for _, name := range r.Controls() {
		if !bound[name] {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
