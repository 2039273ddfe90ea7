// Package identity maintains the bidirectional mapping between live objects
// and the reference ids used to name them across checkpoints.
package identity

import (
	"runtime"
	"sync"
)

// Table maps objects to associations and reference ids to associations.
//
// Table is not safe for concurrent use. Callers hold Lock for the whole of a
// persistence epoch or a rehydration; the only concurrent writer is the
// runtime cleanup that queues reclaimed ids, which has its own lock.
type Table struct {
	mu       sync.Mutex
	byObject map[handle]*Association
	byID     []*Association
	nextID   int32

	keepAlive []any

	reclaimed *reclaimQueue
}

type reclaimQueue struct {
	mu  sync.Mutex
	ids []int32
}

func (q *reclaimQueue) push(id int32) {
	q.mu.Lock()
	q.ids = append(q.ids, id)
	q.mu.Unlock()
}

func (q *reclaimQueue) drain() []int32 {
	q.mu.Lock()
	ids := q.ids
	q.ids = nil
	q.mu.Unlock()
	return ids
}

// NewTable returns an empty table whose first reference id is 0.
func NewTable() *Table {
	return &Table{
		byObject:  make(map[handle]*Association),
		reclaimed: &reclaimQueue{},
	}
}

func (t *Table) Lock()   { t.mu.Lock() }
func (t *Table) Unlock() { t.mu.Unlock() }

// Find returns the association bound to obj, or nil.
func (t *Table) Find(obj any) *Association {
	h, _, err := makeHandle(obj)
	if err != nil {
		return nil
	}
	return t.byObject[h]
}

// FindOrCreate returns the association for obj, creating one with the next
// reference id when none exists. New associations are inactive and unowned.
func (t *Table) FindOrCreate(obj any) (*Association, error) {
	h, p, err := makeHandle(obj)
	if err != nil {
		return nil, err
	}
	if a := t.byObject[h]; a != nil {
		return a, nil
	}
	id := t.nextID
	t.nextID++
	return t.bind(id, h, p), nil
}

// Get returns the association holding id, or nil. The association may refer
// to an object that has already been collected.
func (t *Table) Get(id int32) *Association {
	if id < 0 || int(id) >= len(t.byID) {
		return nil
	}
	return t.byID[id]
}

// Bind creates an association for obj under the given id. Binding an object
// that already has a different id, or an id that is already taken by another
// object, is an identity violation.
func (t *Table) Bind(id int32, obj any) (*Association, error) {
	if id < 0 {
		return nil, violation(id, "negative reference id")
	}
	h, p, err := makeHandle(obj)
	if err != nil {
		return nil, err
	}
	if a := t.byObject[h]; a != nil {
		if a.id == id {
			return a, nil
		}
		return nil, violation(id, "object already bound to reference %d", a.id)
	}
	if a := t.Get(id); a != nil {
		if a.Object() == nil {
			return nil, violation(id, "bound object was reclaimed")
		}
		return nil, violation(id, "reference already bound to another object")
	}
	if id >= t.nextID {
		t.nextID = id + 1
	}
	return t.bind(id, h, p), nil
}

func (t *Table) bind(id int32, h handle, p *byte) *Association {
	a := &Association{id: id, h: h}
	for int(id) >= len(t.byID) {
		t.byID = append(t.byID, nil)
	}
	t.byID[id] = a
	t.byObject[h] = a
	q := t.reclaimed
	a.cleanup = runtime.AddCleanup(p, q.push, id)
	return a
}

// NextID returns the id the next FindOrCreate will assign.
func (t *Table) NextID() int32 { return t.nextID }

// SetNextID raises the next id to at least n. It never lowers it, so ids are
// never reused.
func (t *Table) SetNextID(n int32) {
	if n > t.nextID {
		t.nextID = n
	}
}

// Each calls fn for every association whose object is still alive, in
// reference id order, until fn returns false.
func (t *Table) Each(fn func(a *Association) bool) {
	for _, a := range t.byID {
		if a == nil || a.Object() == nil {
			continue
		}
		if !fn(a) {
			return
		}
	}
}

// Len returns the number of associations with a live object.
func (t *Table) Len() int {
	n := 0
	t.Each(func(*Association) bool {
		n++
		return true
	})
	return n
}

// ClearMarks unmarks every association.
func (t *Table) ClearMarks() {
	for _, a := range t.byID {
		if a != nil {
			a.marked = false
		}
	}
}

// Reclaim removes associations whose objects have been collected and returns
// how many were removed. Their ids stay retired.
func (t *Table) Reclaim() int {
	n := 0
	for _, id := range t.reclaimed.drain() {
		a := t.Get(id)
		if a == nil || a.Object() != nil {
			continue
		}
		delete(t.byObject, a.h)
		t.byID[id] = nil
		n++
	}
	return n
}

// Retain keeps obj strongly reachable until Release.
func (t *Table) Retain(obj any) {
	t.keepAlive = append(t.keepAlive, obj)
}

// Retained returns the objects held by Retain, in the order they were added.
func (t *Table) Retained() []any { return t.keepAlive }

// Release drops every reference taken by Retain.
func (t *Table) Release() {
	clear(t.keepAlive)
	t.keepAlive = nil
}

// Discard detaches the table from the runtime. It is used when a table built
// during a failed rehydration attempt is thrown away.
func (t *Table) Discard() {
	for _, a := range t.byID {
		if a != nil {
			a.cleanup.Stop()
		}
	}
	t.byID = nil
	clear(t.byObject)
	t.Release()
	t.reclaimed.drain()
}
