package delta

import (
	"bytes"
	"fmt"
	"reflect"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/codeaudit/cougaar-core-sub004/internal/persist/identity"
)

// Decoder reads associations back from a payload produced by Encoder.
// Every object it allocates is retained by the table until the caller
// releases it, so nothing is collected before the graph is complete.
//
// Like Encoder, Decoder errors are sticky.
type Decoder struct {
	table *identity.Table
	reg   *Registry

	dec  *cbor.Decoder
	read []Object
	refs []int32
	pos  int
	err  error
}

// NewDecoder returns a decoder over payload.
func NewDecoder(table *identity.Table, reg *Registry, payload []byte) *Decoder {
	return &Decoder{
		table: table,
		reg:   reg,
		dec:   newStreamDecoder(bytes.NewReader(payload)),
	}
}

// ReadAssociation decodes the next association using refs, the reference
// array recorded when it was written, and applies its owner and active flag.
func (d *Decoder) ReadAssociation(refs []int32) (*identity.Association, error) {
	if d.err != nil {
		return nil, d.err
	}
	d.refs, d.pos = refs, 0
	active := d.ReadBool()
	owner := d.ReadString()
	obj := d.ReadObject()
	if d.err != nil {
		return nil, d.err
	}
	if obj == nil {
		return nil, fmt.Errorf("%w: association decoded to nil", ErrCorrupt)
	}
	if d.pos != len(refs) {
		return nil, fmt.Errorf("%w: %d of %d references consumed", ErrCorrupt, d.pos, len(refs))
	}
	a := d.table.Find(obj)
	if a == nil {
		return nil, fmt.Errorf("%w: association decoded to an unbound %T", ErrCorrupt, obj)
	}
	if err := a.SetOwner(owner); err != nil {
		return nil, err
	}
	a.SetActive(active)
	return a, nil
}

func (d *Decoder) Err() error { return d.err }

func (d *Decoder) fail(err error) {
	if d.err == nil {
		d.err = err
	}
}

func (d *Decoder) get(v any) {
	if d.err != nil {
		return
	}
	if err := d.dec.Decode(v); err != nil {
		d.fail(fmt.Errorf("%w: %v", ErrCorrupt, err))
	}
}

func (d *Decoder) ReadBool() (v bool) {
	d.get(&v)
	return v
}

func (d *Decoder) ReadInt() (v int64) {
	d.get(&v)
	return v
}

func (d *Decoder) ReadUint() (v uint64) {
	d.get(&v)
	return v
}

func (d *Decoder) ReadFloat() (v float64) {
	d.get(&v)
	return v
}

func (d *Decoder) ReadString() (v string) {
	d.get(&v)
	return v
}

func (d *Decoder) ReadBytes() (v []byte) {
	d.get(&v)
	return v
}

func (d *Decoder) ReadStrings() (v []string) {
	d.get(&v)
	return v
}

// ReadTime reads a time written by WriteTime. The zero time round-trips.
func (d *Decoder) ReadTime() time.Time {
	var ns int64
	d.get(&ns)
	if ns == zeroTime {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// ReadLen reads a length written by WriteLen.
func (d *Decoder) ReadLen() int {
	var n int64
	d.get(&n)
	if n < 0 {
		d.fail(fmt.Errorf("%w: negative length %d", ErrCorrupt, n))
		return 0
	}
	return int(n)
}

// ReadObject reads a nested object slot. Inline objects are resolved against
// the reference array: unbound slots get a fresh instance, bound slots either
// bind a fresh instance or overwrite the live one in place.
func (d *Decoder) ReadObject() Object {
	var tag uint8
	d.get(&tag)
	if d.err != nil {
		return nil
	}
	switch tag {
	case tagNil:
		return nil
	case tagToken:
		var id int32
		d.get(&id)
		if d.err != nil {
			return nil
		}
		return d.resolveToken(id)
	case tagBackRef:
		var idx int64
		d.get(&idx)
		if d.err != nil {
			return nil
		}
		if idx < 0 || idx >= int64(len(d.read)) {
			d.fail(fmt.Errorf("%w: back reference %d out of range", ErrCorrupt, idx))
			return nil
		}
		return d.read[idx]
	case tagInline:
		return d.readInline()
	default:
		d.fail(fmt.Errorf("%w: unknown slot tag %d", ErrCorrupt, tag))
		return nil
	}
}

func (d *Decoder) resolveToken(id int32) Object {
	a := d.table.Get(id)
	if a == nil {
		d.fail(&identity.ViolationError{ID: id, Reason: "unresolved reference token"})
		return nil
	}
	obj, ok := a.Object().(Object)
	if !ok {
		d.fail(&identity.ViolationError{ID: id, Reason: "token refers to a reclaimed object"})
		return nil
	}
	return obj
}

func (d *Decoder) readInline() Object {
	var tag uint32
	d.get(&tag)
	if d.err != nil {
		return nil
	}
	info, err := d.reg.lookupTag(tag)
	if err != nil {
		d.fail(err)
		return nil
	}
	if d.pos >= len(d.refs) {
		d.fail(fmt.Errorf("%w: reference array exhausted", ErrCorrupt))
		return nil
	}
	ref := d.refs[d.pos]
	d.pos++

	obj, err := d.allocate(info, ref)
	if err != nil {
		d.fail(err)
		return nil
	}
	d.table.Retain(obj)
	d.read = append(d.read, obj)
	if err := obj.DecodeFrom(d); err != nil {
		d.fail(fmt.Errorf("delta: decode %s: %w", info.name, err))
		return nil
	}
	if d.err != nil {
		return nil
	}
	return obj
}

func (d *Decoder) allocate(info *typeInfo, ref int32) (Object, error) {
	if ref < 0 {
		return info.newFn(), nil
	}
	a := d.table.Get(ref)
	if a == nil {
		obj := info.newFn()
		if _, err := d.table.Bind(ref, obj); err != nil {
			return nil, err
		}
		return obj, nil
	}
	existing := a.Object()
	if existing == nil {
		return nil, &identity.ViolationError{ID: ref, Reason: "bound object was reclaimed"}
	}
	if reflect.TypeOf(existing) != info.typ {
		return nil, &identity.ViolationError{
			ID:     ref,
			Reason: fmt.Sprintf("type %T does not match %s", existing, info.typ),
		}
	}
	return existing.(Object), nil
}

// ReadAs reads a nested object slot and asserts its type.
func ReadAs[T Object](d *Decoder) T {
	var zero T
	obj := d.ReadObject()
	if obj == nil {
		return zero
	}
	v, ok := obj.(T)
	if !ok {
		d.fail(fmt.Errorf("%w: got %T, want %T", ErrTypeMismatch, obj, zero))
		return zero
	}
	return v
}
