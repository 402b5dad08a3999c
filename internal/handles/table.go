// Package handles maps opaque integer handles to live values for callers
// that cannot hold Go pointers.
package handles

import (
	"errors"
	"math"
	"slices"
	"sync"
)

var (
	ErrNotFound = errors.New("handle not found")
	ErrBusy     = errors.New("handle busy")
)

// Handle identifies a table entry. Zero is never issued.
type Handle uint64

// Valid reports whether h could have been issued by a Table.
func (h Handle) Valid() bool { return h != 0 && h <= math.MaxInt64 }

type entry[T any] struct {
	value T
	busy  bool
	idle  chan struct{}
}

// Table owns values of type T and hands out short-lived leases to them.
// One mutex guards the map and every busy flag; it is never held while a
// lease is in use.
type Table[T interface{ Close() error }] struct {
	mu      sync.Mutex
	entries map[Handle]*entry[T]
	next    Handle
}

func New[T interface{ Close() error }]() *Table[T] {
	return &Table[T]{entries: make(map[Handle]*entry[T])}
}

// Create stores v and returns its handle. Handles increase monotonically
// and are never reused within a process.
func (t *Table[T]) Create(v T) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next++
	h := t.next
	t.entries[h] = &entry[T]{value: v}
	return h
}

// Lease grants exclusive use of a value until Done is called.
type Lease[T any] struct {
	Value T

	release func()
	once    sync.Once
}

// Done returns the value to the table. Extra calls do nothing.
func (l *Lease[T]) Done() {
	l.once.Do(l.release)
}

// Lookup leases the value behind h. It fails fast with ErrBusy when
// another lease is outstanding.
func (t *Table[T]) Lookup(h Handle) (*Lease[T], error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[h]
	if !ok {
		return nil, ErrNotFound
	}
	if e.busy {
		return nil, ErrBusy
	}
	e.busy = true
	e.idle = make(chan struct{})
	return &Lease[T]{Value: e.value, release: func() { t.done(e) }}, nil
}

func (t *Table[T]) done(e *entry[T]) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e.busy = false
	close(e.idle)
}

// Release removes h at once, waits for an outstanding lease to finish and
// closes the value. Releasing an unknown handle returns ErrNotFound.
func (t *Table[T]) Release(h Handle) error {
	t.mu.Lock()
	e, ok := t.entries[h]
	if !ok {
		t.mu.Unlock()
		return ErrNotFound
	}
	delete(t.entries, h)
	var idle chan struct{}
	if e.busy {
		idle = e.idle
	}
	t.mu.Unlock()

	if idle != nil {
		<-idle
	}
	return e.value.Close()
}

func (t *Table[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Handles returns the live handles in ascending order.
func (t *Table[T]) Handles() []Handle {
	t.mu.Lock()
	out := make([]Handle, 0, len(t.entries))
	for h := range t.entries {
		out = append(out, h)
	}
	t.mu.Unlock()
	slices.Sort(out)
	return out
}

// CloseAll releases every live handle and joins the close errors.
func (t *Table[T]) CloseAll() error {
	var errs []error
	for _, h := range t.Handles() {
		if err := t.Release(h); err != nil && !errors.Is(err, ErrNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
