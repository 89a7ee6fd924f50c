// Package engine turns decoded MIDI events into rig parameter updates.
package engine

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/leandrodaf/midimapper/internal/logger"
	"github.com/leandrodaf/midimapper/sdk/contracts"
	"github.com/leandrodaf/midimapper/sdk/mapping"
)

// LearnFunc receives the key of the event captured by an armed learn.
type LearnFunc func(key contracts.Key)

// Stats counts what the engine did with the events it saw.
type Stats struct {
	Processed uint64 // events that produced an update
	Unmapped  uint64 // events with no enabled entry
	Clamped   uint64 // updates moved into their declared range
	Learned   uint64 // events consumed by learn
}

// Engine maps events through a mapping table. Process never blocks and may be
// called concurrently with table edits.
type Engine struct {
	table *mapping.Table
	log   contracts.Logger

	learn atomic.Pointer[LearnFunc]

	processed atomic.Uint64
	unmapped  atomic.Uint64
	clamped   atomic.Uint64
	learned   atomic.Uint64
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used for out-of-range warnings.
func WithLogger(l contracts.Logger) Option {
	return func(e *Engine) {
		e.log = l
	}
}

// New creates an engine reading from table.
func New(table *mapping.Table, opts ...Option) *Engine {
	e := &Engine{table: table}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = logger.NewZapLogger()
	}
	return e
}

// Table returns the table the engine reads from.
func (e *Engine) Table() *mapping.Table {
	return e.table
}

// ArmLearn makes the next note-on, control change or pitch bend report its key
// to fn instead of being mapped. Arming again replaces a pending learn.
func (e *Engine) ArmLearn(fn LearnFunc) {
	e.learn.Store(&fn)
}

// CancelLearn disarms a pending learn and reports whether one was armed.
func (e *Engine) CancelLearn() bool {
	return e.learn.Swap(nil) != nil
}

// Learning reports whether a learn is armed.
func (e *Engine) Learning() bool {
	return e.learn.Load() != nil
}

// Process maps ev to a parameter update. The second result is false when the
// event produces no update.
func (e *Engine) Process(ev contracts.Event) (contracts.ParameterUpdate, bool) {
	if ev.Kind != contracts.NoteOff && e.learn.Load() != nil {
		if fn := e.learn.Swap(nil); fn != nil {
			e.learned.Add(1)
			(*fn)(ev.Key())
			return contracts.ParameterUpdate{}, false
		}
	}

	snap := e.table.Snapshot()
	entry, ok := snap.Lookup(ev.Channel, ev.Kind, ev.ID)

	var value float64
	switch {
	case ok && entry.Enabled:
		value = entry.Apply(ev.Value)
	case ev.Kind == contracts.NoteOff:
		// A note-off without its own entry releases the note-on mapping.
		entry, ok = snap.Lookup(ev.Channel, contracts.NoteOn, ev.ID)
		if !ok || !entry.Enabled {
			e.unmapped.Add(1)
			return contracts.ParameterUpdate{}, false
		}
		switch entry.Release() {
		case mapping.ReleaseIgnore:
			return contracts.ParameterUpdate{}, false
		case mapping.ReleaseValue:
			value = entry.Apply(ev.Value)
		default:
			value = entry.Range.Min
		}
	default:
		e.unmapped.Add(1)
		return contracts.ParameterUpdate{}, false
	}

	value = e.clamp(entry, ev, value)
	e.processed.Add(1)
	return contracts.ParameterUpdate{Target: entry.Target, Value: value, Timestamp: ev.Timestamp}, true
}

func (e *Engine) clamp(entry mapping.Entry, ev contracts.Event, v float64) float64 {
	clamped, within := entry.Range.Clamp(v)
	if math.IsNaN(v) {
		clamped, within = entry.Range.Min, false
	}
	if within {
		return v
	}
	e.clamped.Add(1)
	e.log.Warn("parameter value clamped to range",
		e.log.Field().String("target", entry.Target),
		e.log.Field().String("source", ev.Key().String()),
		e.log.Field().Float64("value", v),
		e.log.Field().Float64("clamped", clamped),
		e.log.Field().Error("error", fmt.Errorf("%w: %v not in [%v, %v]", contracts.ErrOutOfRange, v, entry.Range.Min, entry.Range.Max)),
	)
	return clamped
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Processed: e.processed.Load(),
		Unmapped:  e.unmapped.Load(),
		Clamped:   e.clamped.Load(),
		Learned:   e.learned.Load(),
	}
}
