package identity

import (
	"reflect"
	"unsafe"
	"weak"
)

// handle is a weak reference to an object together with its dynamic type,
// so the object can be handed back as the original interface value.
// Handles key the table, and the type takes part in the comparison: a
// struct and its first field share an address but are distinct objects.
type handle struct {
	ptr weak.Pointer[byte]
	typ reflect.Type
}

// makeHandle returns the handle for obj and the strong pointer it was made
// from. Two handles made from the same object compare equal.
func makeHandle(obj any) (handle, *byte, error) {
	if obj == nil {
		return handle{}, nil, ErrInvalidObject
	}
	v := reflect.ValueOf(obj)
	if v.Kind() != reflect.Pointer || v.IsNil() || v.Type().Elem().Size() == 0 {
		return handle{}, nil, ErrInvalidObject
	}
	p := (*byte)(v.UnsafePointer())
	return handle{ptr: weak.Make(p), typ: v.Type()}, p, nil
}

// value returns the object, or nil once it has been collected.
func (h handle) value() any {
	p := h.ptr.Value()
	if p == nil {
		return nil
	}
	return reflect.NewAt(h.typ.Elem(), unsafe.Pointer(p)).Interface()
}
