// Package blackboard is a shared object store that records every change made
// to it, so a persister can checkpoint the store incrementally.
//
// Objects are published by an owner under a unique id. Publish, Change and
// Remove append to a change log that Changes drains once per epoch. Restore
// loads the result of a rehydration without logging anything.
package blackboard

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/codeaudit/cougaar-core-sub004/internal/persist"
	"github.com/codeaudit/cougaar-core-sub004/internal/persist/delta"
	"github.com/codeaudit/cougaar-core-sub004/pkg/cmap"
)

// Object is a persistable value with a stable unique id.
type Object interface {
	delta.Object
	UID() string
}

type entry struct {
	owner string
	obj   Object
}

// Blackboard holds published objects and the changes not yet drained.
type Blackboard struct {
	objects *cmap.Map[string, entry]

	// txn is held by Transaction and by a persister while it encodes.
	txn sync.Mutex

	// mu orders the change log with the index updates.
	mu    sync.Mutex
	log   []persist.Change
	blobs map[string][]byte
}

var (
	_ persist.Collaborator = (*Blackboard)(nil)
	_ persist.Suspender    = (*Blackboard)(nil)
)

// New returns an empty blackboard.
func New() *Blackboard {
	return &Blackboard{
		objects: cmap.New[string, entry](),
		blobs:   make(map[string][]byte),
	}
}

func validate(obj Object) error {
	if obj == nil || obj.UID() == "" {
		return ErrInvalidObject
	}
	return nil
}

// Publish adds obj on behalf of owner.
func (b *Blackboard) Publish(owner string, obj Object) error {
	if err := validate(obj); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.objects.SetIfAbsent(obj.UID(), entry{owner: owner, obj: obj}) {
		return ErrConflict.WithDetails(obj.UID())
	}
	b.log = append(b.log, persist.Change{Kind: persist.ChangeAdd, Owner: owner, Object: obj})
	return nil
}

// Change records that the object with uid was modified in place.
func (b *Blackboard) Change(owner, uid string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.objects.Get(uid)
	if !ok {
		return ErrNotFound.WithDetails(uid)
	}
	if e.owner != owner {
		return ErrOwnerMismatch.WithDetails(uid)
	}
	b.log = append(b.log, persist.Change{Kind: persist.ChangeModify, Owner: owner, Object: e.obj})
	return nil
}

// Remove retracts the object with uid.
func (b *Blackboard) Remove(owner, uid string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.objects.Get(uid)
	if !ok {
		return ErrNotFound.WithDetails(uid)
	}
	if e.owner != owner {
		return ErrOwnerMismatch.WithDetails(uid)
	}
	b.objects.Delete(uid)
	b.log = append(b.log, persist.Change{Kind: persist.ChangeRemove, Owner: owner, Object: e.obj})
	return nil
}

// Get returns the object published under uid.
func (b *Blackboard) Get(uid string) (Object, bool) {
	e, ok := b.objects.Get(uid)
	return e.obj, ok
}

// Owner returns the owner of the object published under uid.
func (b *Blackboard) Owner(uid string) (string, bool) {
	e, ok := b.objects.Get(uid)
	return e.owner, ok
}

// Objects returns the objects of owner sorted by uid. An empty owner
// selects every object.
func (b *Blackboard) Objects(owner string) []Object {
	var out []Object
	b.objects.Range(func(_ string, e entry) bool {
		if owner == "" || e.owner == owner {
			out = append(out, e.obj)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].UID() < out[j].UID() })
	return out
}

// Count returns the number of published objects.
func (b *Blackboard) Count() int { return b.objects.Count() }

// SetBlob replaces the opaque state of owner. A nil blob deletes it.
func (b *Blackboard) SetBlob(owner string, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if data == nil {
		delete(b.blobs, owner)
	} else {
		b.blobs[owner] = slices.Clone(data)
	}
	b.log = append(b.log, persist.Change{Kind: persist.ChangeBlob, Owner: owner, Data: slices.Clone(data)})
}

// Blob returns the opaque state of owner.
func (b *Blackboard) Blob(owner string) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.blobs[owner])
}

// Pending returns the number of changes not yet drained.
func (b *Blackboard) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.log)
}

// Transaction runs fn while no epoch is in progress. Objects published on
// the blackboard must only be mutated inside a transaction.
func (b *Blackboard) Transaction(fn func() error) error {
	b.txn.Lock()
	defer b.txn.Unlock()
	return fn()
}

// Suspend blocks new transactions until Resume.
func (b *Blackboard) Suspend() { b.txn.Lock() }

// Resume lets transactions run again.
func (b *Blackboard) Resume() { b.txn.Unlock() }

// Changes drains the change log.
func (b *Blackboard) Changes(context.Context) ([]persist.Change, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.log
	b.log = nil
	return out, nil
}

// Restore replaces the contents with a rehydration result. Restored objects
// that do not implement Object are returned as skipped.
func (b *Blackboard) Restore(res *persist.Result) (skipped int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.objects.Clear()
	b.log = nil
	b.blobs = make(map[string][]byte, len(res.ClientData))
	for owner, data := range res.ClientData {
		b.blobs[owner] = slices.Clone(data)
	}
	for owner, objs := range res.Objects {
		for _, o := range objs {
			obj, ok := o.(Object)
			if !ok || validate(obj) != nil {
				skipped++
				continue
			}
			if !b.objects.SetIfAbsent(obj.UID(), entry{owner: owner, obj: obj}) {
				skipped++
			}
		}
	}
	return skipped
}
