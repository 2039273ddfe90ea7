// Package workload is a small planning model used to exercise a persisting
// agent: assets, tasks allocated to them, and a generator that mutates the
// plan the way a planning component would.
package workload

import (
	"crypto/rand"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/codeaudit/cougaar-core-sub004/internal/persist/delta"
)

// ID prefixes.
const (
	AssetIDPrefix = "asset-"
	TaskIDPrefix  = "task-"
)

// Registered type names.
const (
	AssetType = "workload.asset"
	TaskType  = "workload.task"
)

// Register adds the workload types to reg.
func Register(reg *delta.Registry) error {
	if err := reg.Register(AssetType, func() delta.Object { return &Asset{} }); err != nil {
		return err
	}
	return reg.Register(TaskType, func() delta.Object { return &Task{} })
}

// NewID returns prefix followed by a lowercase ULID.
func NewID(prefix string, now time.Time) (string, error) {
	id, err := ulid.New(ulid.Timestamp(now), ulid.Monotonic(rand.Reader, 0))
	if err != nil {
		return "", err
	}
	return prefix + strings.ToLower(id.String()), nil
}

// Asset is something tasks are allocated to.
type Asset struct {
	ID       string
	Name     string
	Capacity int64

	// load counts the tasks allocated to the asset. It is derived, so it is
	// not written and gets rebuilt by the tasks after rehydration.
	load int64
}

func (a *Asset) UID() string { return a.ID }

// Load returns the number of tasks allocated to a.
func (a *Asset) Load() int64 { return a.load }

// Free reports whether a can take another task.
func (a *Asset) Free() bool { return a.load < a.Capacity }

func (a *Asset) EncodeTo(e *delta.Encoder) error {
	e.WriteString(a.ID)
	e.WriteString(a.Name)
	e.WriteInt(a.Capacity)
	return e.Err()
}

func (a *Asset) DecodeFrom(d *delta.Decoder) error {
	a.ID = d.ReadString()
	a.Name = d.ReadString()
	a.Capacity = d.ReadInt()
	return d.Err()
}

// Task is a unit of planned work. Subtasks point at their parent.
type Task struct {
	ID      string
	Verb    string
	Asset   *Asset
	Parent  *Task
	Done    bool
	Created time.Time
}

func (t *Task) UID() string { return t.ID }

func (t *Task) EncodeTo(e *delta.Encoder) error {
	e.WriteString(t.ID)
	e.WriteString(t.Verb)
	e.WriteObject(t.Asset)
	e.WriteObject(t.Parent)
	e.WriteBool(t.Done)
	e.WriteTime(t.Created)
	return e.Err()
}

func (t *Task) DecodeFrom(d *delta.Decoder) error {
	t.ID = d.ReadString()
	t.Verb = d.ReadString()
	t.Asset = delta.ReadAs[*Asset](d)
	t.Parent = delta.ReadAs[*Task](d)
	t.Done = d.ReadBool()
	t.Created = d.ReadTime()
	return d.Err()
}

// AfterRehydrate re-counts the allocation on the asset.
func (t *Task) AfterRehydrate() {
	if t.Asset != nil && !t.Done {
		t.Asset.load++
	}
}

// allocate binds t to a.
func (t *Task) allocate(a *Asset) {
	t.Asset = a
	a.load++
}

// complete marks t done and frees its asset.
func (t *Task) complete() {
	if t.Done {
		return
	}
	t.Done = true
	if t.Asset != nil && t.Asset.load > 0 {
		t.Asset.load--
	}
}
