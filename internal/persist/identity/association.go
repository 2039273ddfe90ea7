package identity

import "runtime"

// Association binds one live object to a stable reference id, an owner and
// the active flag. The object is held weakly: the association never keeps it
// alive.
type Association struct {
	id      int32
	owner   string
	active  bool
	marked  bool
	h       handle
	cleanup runtime.Cleanup
}

// ID returns the reference id. It never changes.
func (a *Association) ID() int32 { return a.id }

// Owner returns the owner id, empty until one is set.
func (a *Association) Owner() string { return a.owner }

// SetOwner records the owner. Setting a different owner once one is known is
// an identity violation.
func (a *Association) SetOwner(owner string) error {
	switch {
	case owner == "" || owner == a.owner:
		return nil
	case a.owner == "":
		a.owner = owner
		return nil
	default:
		return violation(a.id, "owner %q conflicts with %q", owner, a.owner)
	}
}

func (a *Association) Active() bool { return a.active }

// SetActive sets the active flag.
func (a *Association) SetActive(active bool) { a.active = active }

// Marked reports whether the association belongs to the current write set.
func (a *Association) Marked() bool { return a.marked }

func (a *Association) Mark()   { a.marked = true }
func (a *Association) Unmark() { a.marked = false }

// Object returns the bound object, or nil if it has been collected.
func (a *Association) Object() any { return a.h.value() }
