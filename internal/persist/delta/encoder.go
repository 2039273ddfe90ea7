package delta

import (
	"bytes"
	"fmt"
	"math"
	"reflect"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/codeaudit/cougaar-core-sub004/internal/persist/identity"
)

// Wire tags that precede every object slot in a payload.
const (
	tagNil     uint8 = 0 // nothing follows
	tagToken   uint8 = 1 // reference id of an object written elsewhere
	tagBackRef uint8 = 2 // index of an object already written in this delta
	tagInline  uint8 = 3 // type tag, then the object's own fields
)

// RefUnbound is recorded in a reference array for an object inlined without
// an association.
const RefUnbound int32 = -1

const zeroTime = math.MinInt64

// Encoder serializes associations into a single delta payload. Objects are
// written at most once per payload; later occurrences become back references.
//
// Encoder errors are sticky: after the first failure every write is a no-op
// and Err reports the failure.
type Encoder struct {
	table *identity.Table
	reg   *Registry

	buf     bytes.Buffer
	enc     *cbor.Encoder
	written map[Object]int
	refs    []int32
	err     error
}

// NewEncoder returns an encoder that resolves identities through table.
// The caller holds the table lock while encoding.
func NewEncoder(table *identity.Table, reg *Registry) *Encoder {
	e := &Encoder{
		table:   table,
		reg:     reg,
		written: make(map[Object]int),
	}
	e.enc = newStreamEncoder(&e.buf)
	return e
}

// WriteAssociation writes the active flag, the owner and the object of a,
// and returns the reference array recorded while writing it. a must be
// marked and its object must still be alive.
func (e *Encoder) WriteAssociation(a *identity.Association) ([]int32, error) {
	if e.err != nil {
		return nil, e.err
	}
	if !a.Marked() {
		return nil, fmt.Errorf("delta: reference %d is not in the write set", a.ID())
	}
	obj, ok := a.Object().(Object)
	if !ok {
		return nil, fmt.Errorf("delta: reference %d: object collected or not persistable", a.ID())
	}
	e.refs = nil
	e.WriteBool(a.Active())
	e.WriteString(a.Owner())
	e.WriteObject(obj)
	if e.err != nil {
		return nil, e.err
	}
	refs := e.refs
	e.refs = nil
	return refs, nil
}

// Bytes returns the payload written so far.
func (e *Encoder) Bytes() []byte { return e.buf.Bytes() }

func (e *Encoder) Err() error { return e.err }

func (e *Encoder) fail(err error) {
	if e.err == nil {
		e.err = err
	}
}

func (e *Encoder) put(v any) {
	if e.err != nil {
		return
	}
	if err := e.enc.Encode(v); err != nil {
		e.fail(fmt.Errorf("delta: encode: %w", err))
	}
}

func (e *Encoder) WriteBool(v bool)        { e.put(v) }
func (e *Encoder) WriteInt(v int64)        { e.put(v) }
func (e *Encoder) WriteUint(v uint64)      { e.put(v) }
func (e *Encoder) WriteFloat(v float64)    { e.put(v) }
func (e *Encoder) WriteString(v string)    { e.put(v) }
func (e *Encoder) WriteBytes(v []byte)     { e.put(v) }
func (e *Encoder) WriteLen(n int)          { e.put(int64(n)) }
func (e *Encoder) WriteStrings(v []string) { e.put(v) }

// WriteTime writes t with nanosecond precision. Location is not kept.
func (e *Encoder) WriteTime(t time.Time) {
	if t.IsZero() {
		e.put(int64(zeroTime))
		return
	}
	e.put(t.UnixNano())
}

// WriteObject writes a nested object slot.
func (e *Encoder) WriteObject(obj Object) {
	if e.err != nil {
		return
	}
	if isNil(obj) {
		e.put(tagNil)
		return
	}
	info, err := e.reg.lookup(obj)
	if err != nil {
		e.fail(err)
		return
	}
	if info.exempt {
		e.put(tagNil)
		return
	}
	if idx, ok := e.written[obj]; ok {
		e.put(tagBackRef)
		e.put(int64(idx))
		return
	}

	a := e.table.Find(obj)
	switch {
	case a == nil:
		if u, ok := obj.(Unpublished); ok && u.SkipUnpublished() {
			e.put(tagNil)
			return
		}
		e.inline(obj, info, RefUnbound)
	case a.Marked():
		e.inline(obj, info, a.ID())
	default:
		e.put(tagToken)
		e.put(int64(a.ID()))
	}
}

func (e *Encoder) inline(obj Object, info *typeInfo, ref int32) {
	e.written[obj] = len(e.written)
	e.refs = append(e.refs, ref)
	e.put(tagInline)
	e.put(info.tag)
	if e.err != nil {
		return
	}
	if err := obj.EncodeTo(e); err != nil {
		e.fail(fmt.Errorf("delta: encode %s: %w", info.name, err))
	}
}

func isNil(obj Object) bool {
	if obj == nil {
		return true
	}
	v := reflect.ValueOf(obj)
	return v.Kind() == reflect.Pointer && v.IsNil()
}
