// Package mapping holds the table that associates MIDI sources with rig
// parameters, and its on-disk documents.
package mapping

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/leandrodaf/midimapper/internal/logger"
	"github.com/leandrodaf/midimapper/sdk/contracts"
)

// ErrEmptyTarget is returned when an entry names no target parameter.
var ErrEmptyTarget = errors.New("mapping entry has no target")

// ErrUnsupportedKind is returned for an entry whose kind the decoder never emits.
var ErrUnsupportedKind = errors.New("unsupported MIDI kind")

// Entry maps one MIDI source to one target parameter.
type Entry struct {
	Key       contracts.Key
	Target    string
	Range     contracts.Range // declared range of the target; [0, 1] when unset
	Transform Transform
	Func      TransformFunc // overrides Transform when set
	Enabled   bool

	fn TransformFunc
}

// Apply runs the entry's transform on a raw value. The result is not clamped.
func (e Entry) Apply(raw uint16) float64 {
	if e.fn != nil {
		return e.fn(raw)
	}
	if e.Func != nil {
		return e.Func(raw)
	}
	return e.Transform.compile(e.Key.Kind, e.rangeOrDefault())(raw)
}

// Release returns the entry's note-off policy.
func (e Entry) Release() Release {
	return e.Transform.release()
}

func (e Entry) rangeOrDefault() contracts.Range {
	if e.Range.IsZero() {
		return contracts.UnitRange
	}
	return e.Range
}

// prepare validates e and fills in its defaults and compiled transform.
func (e Entry) prepare() (Entry, error) {
	if e.Target == "" {
		return e, fmt.Errorf("%s: %w", e.Key, ErrEmptyTarget)
	}
	if e.Key.Channel > 15 {
		return e, fmt.Errorf("%s: channel %d out of range 0-15", e.Key, e.Key.Channel)
	}
	if e.Key.ID > 127 {
		return e, fmt.Errorf("%s: identifier %d out of range 0-127", e.Key, e.Key.ID)
	}
	if !slices.Contains(contracts.Kinds, e.Key.Kind) {
		return e, fmt.Errorf("%s: %w", e.Key, ErrUnsupportedKind)
	}
	if e.Key.Kind == contracts.PitchBend {
		e.Key.ID = 0
	}
	if err := e.Transform.validate(); err != nil {
		return e, fmt.Errorf("%s: %w", e.Key, err)
	}
	e.Range = e.rangeOrDefault()
	if e.Func != nil {
		e.fn = e.Func
	} else {
		e.fn = e.Transform.compile(e.Key.Kind, e.Range)
	}
	return e, nil
}

// Snapshot is an immutable view of a Table. It is safe for concurrent use.
type Snapshot struct {
	entries map[contracts.Key]Entry
	order   []contracts.Key
}

var emptySnapshot = &Snapshot{entries: map[contracts.Key]Entry{}}

// Lookup returns the entry registered for the source, if any.
func (s *Snapshot) Lookup(channel uint8, kind contracts.Kind, id uint8) (Entry, bool) {
	e, ok := s.entries[contracts.Key{Channel: channel, Kind: kind, ID: id}]
	return e, ok
}

// Len returns the number of entries.
func (s *Snapshot) Len() int {
	return len(s.order)
}

// Entries returns the entries in registration order.
func (s *Snapshot) Entries() []Entry {
	out := make([]Entry, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, s.entries[k])
	}
	return out
}

func (s *Snapshot) clone() *Snapshot {
	c := &Snapshot{
		entries: make(map[contracts.Key]Entry, len(s.entries)+1),
		order:   make([]contracts.Key, len(s.order), len(s.order)+1),
	}
	for k, v := range s.entries {
		c.entries[k] = v
	}
	copy(c.order, s.order)
	return c
}

// put stores e and reports the entry it replaced.
func (s *Snapshot) put(e Entry) (Entry, bool) {
	old, exists := s.entries[e.Key]
	if !exists {
		s.order = append(s.order, e.Key)
	}
	s.entries[e.Key] = e
	return old, exists
}

func (s *Snapshot) remove(k contracts.Key) bool {
	if _, ok := s.entries[k]; !ok {
		return false
	}
	delete(s.entries, k)
	for i, o := range s.order {
		if o == k {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// ConflictFunc is told when a registration replaces an existing entry.
type ConflictFunc func(previous, replacement Entry)

// Table is the mapping table. Readers work on immutable snapshots and never
// block; writers copy the current snapshot, edit the copy and publish it.
type Table struct {
	mu         sync.Mutex // serializes writers
	current    atomic.Pointer[Snapshot]
	log        contracts.Logger
	onConflict ConflictFunc
}

// TableOption configures a Table.
type TableOption func(*Table)

// WithLogger sets the logger used for conflict warnings.
func WithLogger(l contracts.Logger) TableOption {
	return func(t *Table) {
		t.log = l
	}
}

// WithConflictHook registers a function called for every conflicting registration.
func WithConflictHook(fn ConflictFunc) TableOption {
	return func(t *Table) {
		t.onConflict = fn
	}
}

// NewTable creates an empty table.
func NewTable(opts ...TableOption) *Table {
	t := &Table{}
	for _, opt := range opts {
		opt(t)
	}
	if t.log == nil {
		t.log = logger.NewZapLogger()
	}
	t.current.Store(emptySnapshot)
	return t
}

// Snapshot returns the current immutable snapshot.
func (t *Table) Snapshot() *Snapshot {
	return t.current.Load()
}

// Lookup looks the source up in the current snapshot.
func (t *Table) Lookup(channel uint8, kind contracts.Kind, id uint8) (Entry, bool) {
	return t.current.Load().Lookup(channel, kind, id)
}

// Entries returns the current entries in registration order.
func (t *Table) Entries() []Entry {
	return t.current.Load().Entries()
}

// Register adds e, replacing any entry with the same key. A replacement is
// reported as a conflict warning; the returned error only covers invalid entries.
func (t *Table) Register(e Entry) error {
	e, err := e.prepare()
	if err != nil {
		return err
	}

	t.mu.Lock()
	next := t.current.Load().clone()
	old, replaced := next.put(e)
	t.current.Store(next)
	t.mu.Unlock()

	if replaced {
		t.conflict(old, e)
	}
	return nil
}

// Unregister removes the entry for the source and reports whether one existed.
func (t *Table) Unregister(channel uint8, kind contracts.Kind, id uint8) bool {
	k := contracts.Key{Channel: channel, Kind: kind, ID: id}

	t.mu.Lock()
	defer t.mu.Unlock()

	cur := t.current.Load()
	if _, ok := cur.entries[k]; !ok {
		return false
	}
	next := cur.clone()
	next.remove(k)
	t.current.Store(next)
	return true
}

// SetEnabled toggles an existing entry and reports whether it was found.
func (t *Table) SetEnabled(k contracts.Key, enabled bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur := t.current.Load()
	e, ok := cur.entries[k]
	if !ok {
		return false
	}
	e.Enabled = enabled
	next := cur.clone()
	next.put(e)
	t.current.Store(next)
	return true
}

// Clear removes every entry.
func (t *Table) Clear() {
	t.mu.Lock()
	t.current.Store(emptySnapshot)
	t.mu.Unlock()
}

// Load replaces the whole table with entries in a single swap. Entries that
// collide within the list follow the last-registered-wins rule.
func (t *Table) Load(entries []Entry) error {
	next := emptySnapshot.clone()
	var conflicts [][2]Entry
	for _, e := range entries {
		e, err := e.prepare()
		if err != nil {
			return err
		}
		if old, replaced := next.put(e); replaced {
			conflicts = append(conflicts, [2]Entry{old, e})
		}
	}

	t.mu.Lock()
	t.current.Store(next)
	t.mu.Unlock()

	for _, c := range conflicts {
		t.conflict(c[0], c[1])
	}
	return nil
}

func (t *Table) conflict(old, e Entry) {
	t.log.Warn("mapping conflict; previous entry replaced",
		t.log.Field().String("source", e.Key.String()),
		t.log.Field().String("previous", old.Target),
		t.log.Field().String("target", e.Target),
		t.log.Field().Error("error", fmt.Errorf("%w: %s", contracts.ErrMappingConflict, e.Key)),
	)
	if t.onConflict != nil {
		t.onConflict(old, e)
	}
}
