package delta

// Object is a persistable value. Implementations are pointers; EncodeTo and
// DecodeFrom must visit the same fields in the same order.
//
// DecodeFrom may be called on an instance that already holds state, in which
// case it overwrites that state in place.
type Object interface {
	EncodeTo(e *Encoder) error
	DecodeFrom(d *Decoder) error
}

// Unpublished is implemented by objects that may decline to be written while
// no association exists for them. A declining object is written as nil.
type Unpublished interface {
	SkipUnpublished() bool
}

// Rehydrated is implemented by objects that need a fixup once the whole graph
// has been restored.
type Rehydrated interface {
	AfterRehydrate()
}
