package persist

import (
	"context"
	"fmt"

	"github.com/codeaudit/cougaar-core-sub004/internal/persist/delta"
)

// ChangeKind says what happened to an object since the last epoch.
type ChangeKind uint8

const (
	ChangeAdd ChangeKind = iota + 1
	ChangeModify
	ChangeRemove
	// ChangeBlob replaces the opaque client data of an owner.
	ChangeBlob
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeAdd:
		return "add"
	case ChangeModify:
		return "modify"
	case ChangeRemove:
		return "remove"
	case ChangeBlob:
		return "blob"
	default:
		return fmt.Sprintf("change(%d)", uint8(k))
	}
}

// Change is one entry of a collaborator's change list. Object is set for
// add, modify and remove; Data for blobs.
type Change struct {
	Kind   ChangeKind
	Owner  string
	Object delta.Object
	Data   []byte
}

// Collaborator supplies the changes made since the previous call. It is
// called once per epoch with the identity table locked, so it must not call
// back into the Persister.
type Collaborator interface {
	Changes(ctx context.Context) ([]Change, error)
}

// CollaboratorFunc adapts a function to Collaborator.
type CollaboratorFunc func(ctx context.Context) ([]Change, error)

func (f CollaboratorFunc) Changes(ctx context.Context) ([]Change, error) { return f(ctx) }

// Suspender is implemented by collaborators whose objects are mutated
// concurrently. Persist and Checkpoint hold the collaborator suspended for
// the whole epoch, so the graph does not change while it is encoded.
type Suspender interface {
	Suspend()
	Resume()
}

func suspend(c Collaborator) func() {
	s, ok := c.(Suspender)
	if !ok {
		return func() {}
	}
	s.Suspend()
	return s.Resume
}
