// Package queue keeps the ordered list of takes a session works through.
package queue

import (
	"errors"
	"fmt"
	"sync"

	"github.com/leandrodaf/midimapper/internal/logger"
	"github.com/leandrodaf/midimapper/sdk/contracts"
)

// IndexNone is the current index of a queue that has not started.
const IndexNone = -1

// ErrIndexOutOfRange is returned for an index outside the queue.
var ErrIndexOutOfRange = errors.New("queue index out of range")

// ChangeFunc receives the items and current index after every change.
type ChangeFunc func(items []string, current int)

// Queue is an ordered set of take paths with a cursor. It is safe for
// concurrent use.
type Queue struct {
	log      contracts.Logger
	onChange ChangeFunc

	mu      sync.Mutex
	items   []string
	current int
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the queue logger.
func WithLogger(l contracts.Logger) Option {
	return func(q *Queue) {
		q.log = l
	}
}

// WithChangeHook sets the function called after every change. It runs
// without the queue lock held.
func WithChangeHook(fn ChangeFunc) Option {
	return func(q *Queue) {
		q.onChange = fn
	}
}

// New creates a queue holding items, duplicates removed, with the cursor at
// current. A current index outside the items is reset to IndexNone.
func New(items []string, current int, opts ...Option) *Queue {
	q := &Queue{current: IndexNone}
	for _, opt := range opts {
		opt(q)
	}
	if q.log == nil {
		q.log = logger.NewZapLogger()
	}
	for _, item := range items {
		if item != "" && q.index(item) < 0 {
			q.items = append(q.items, item)
		}
	}
	if current >= 0 && current < len(q.items) {
		q.current = current
	}
	return q
}

func (q *Queue) index(item string) int {
	for i, it := range q.items {
		if it == item {
			return i
		}
	}
	return -1
}

// Add appends path. It reports false and leaves the queue alone when path is
// empty or already queued.
func (q *Queue) Add(path string) bool {
	q.mu.Lock()
	if path == "" || q.index(path) >= 0 {
		q.mu.Unlock()
		q.log.Debug("take not queued; empty or duplicate path", q.log.Field().String("path", path))
		return false
	}
	q.items = append(q.items, path)
	items, cur := q.snapshot()
	q.mu.Unlock()

	q.log.Info("take queued", q.log.Field().String("path", path), q.log.Field().Int("items", len(items)))
	q.changed(items, cur)
	return true
}

// RemoveAt removes the item at i. Removing the current item or one before it
// moves the cursor back so Next lands on the item that followed.
func (q *Queue) RemoveAt(i int) error {
	q.mu.Lock()
	if i < 0 || i >= len(q.items) {
		n := len(q.items)
		q.mu.Unlock()
		return fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, i, n)
	}
	removed := q.items[i]
	q.items = append(q.items[:i], q.items[i+1:]...)
	if i <= q.current {
		q.current--
	}
	items, cur := q.snapshot()
	q.mu.Unlock()

	q.log.Info("take removed from queue", q.log.Field().String("path", removed), q.log.Field().Int("items", len(items)))
	q.changed(items, cur)
	return nil
}

// SetCurrentIndex moves the cursor. IndexNone resets it.
func (q *Queue) SetCurrentIndex(i int) error {
	q.mu.Lock()
	if i != IndexNone && (i < 0 || i >= len(q.items)) {
		n := len(q.items)
		q.mu.Unlock()
		return fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, i, n)
	}
	q.current = i
	items, cur := q.snapshot()
	q.mu.Unlock()

	q.changed(items, cur)
	return nil
}

// Next advances the cursor, wrapping at the end, and returns the item it lands
// on. An empty queue reports false and keeps its cursor.
func (q *Queue) Next() (string, bool) {
	q.mu.Lock()
	if len(q.items) == 0 {
		q.mu.Unlock()
		return "", false
	}
	if q.current == IndexNone {
		q.current = 0
	} else {
		q.current = (q.current + 1) % len(q.items)
	}
	item := q.items[q.current]
	items, cur := q.snapshot()
	q.mu.Unlock()

	q.log.Info("queue advanced", q.log.Field().Int("index", cur), q.log.Field().String("path", item))
	q.changed(items, cur)
	return item, true
}

// Current returns the item under the cursor.
func (q *Queue) Current() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.current == IndexNone {
		return "", false
	}
	return q.items[q.current], true
}

// CurrentIndex returns the cursor, IndexNone before the first Next.
func (q *Queue) CurrentIndex() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.current
}

// Items returns a copy of the queued paths.
func (q *Queue) Items() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.items...)
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// snapshot copies the state for the change hook. The caller holds mu.
func (q *Queue) snapshot() ([]string, int) {
	return append([]string(nil), q.items...), q.current
}

func (q *Queue) changed(items []string, current int) {
	if q.onChange != nil {
		q.onChange(items, current)
	}
}
