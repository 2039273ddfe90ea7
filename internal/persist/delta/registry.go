package delta

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/spaolacci/murmur3"
)

type typeInfo struct {
	name   string
	tag    uint32
	typ    reflect.Type
	newFn  func() Object
	exempt bool
}

// Registry names the concrete types that may appear in a delta. Each type is
// written as the 32-bit murmur3 hash of its registered name, so names must be
// stable across releases.
type Registry struct {
	mu     sync.RWMutex
	byType map[reflect.Type]*typeInfo
	byTag  map[uint32]*typeInfo
}

func NewRegistry() *Registry {
	return &Registry{
		byType: make(map[reflect.Type]*typeInfo),
		byTag:  make(map[uint32]*typeInfo),
	}
}

// Register adds a type. factory must return a new, empty instance.
func (r *Registry) Register(name string, factory func() Object) error {
	return r.register(name, factory, false)
}

// RegisterExempt adds a type whose instances are always written as nil.
func (r *Registry) RegisterExempt(name string, factory func() Object) error {
	return r.register(name, factory, true)
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(name string, factory func() Object) {
	if err := r.Register(name, factory); err != nil {
		panic(err)
	}
}

func (r *Registry) register(name string, factory func() Object, exempt bool) error {
	if name == "" || factory == nil {
		return fmt.Errorf("delta: register %q: name and factory are required", name)
	}
	typ := reflect.TypeOf(factory())
	if typ == nil || typ.Kind() != reflect.Pointer {
		return fmt.Errorf("delta: register %q: factory must return a pointer", name)
	}
	tag := murmur3.Sum32([]byte(name))

	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.byType[typ]; ok {
		return fmt.Errorf("delta: register %q: %s already registered as %q", name, typ, prev.name)
	}
	if prev, ok := r.byTag[tag]; ok {
		return fmt.Errorf("%w: %q and %q", ErrTypeCollision, name, prev.name)
	}
	info := &typeInfo{name: name, tag: tag, typ: typ, newFn: factory, exempt: exempt}
	r.byType[typ] = info
	r.byTag[tag] = info
	return nil
}

// Name returns the registered name of obj's type.
func (r *Registry) Name(obj Object) (string, error) {
	info, err := r.lookup(obj)
	if err != nil {
		return "", err
	}
	return info.name, nil
}

// Exempt reports whether obj's type was added with RegisterExempt.
func (r *Registry) Exempt(obj Object) bool {
	info, err := r.lookup(obj)
	return err == nil && info.exempt
}

func (r *Registry) lookup(obj Object) (*typeInfo, error) {
	r.mu.RLock()
	info, ok := r.byType[reflect.TypeOf(obj)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnregisteredType, obj)
	}
	return info, nil
}

func (r *Registry) lookupTag(tag uint32) (*typeInfo, error) {
	r.mu.RLock()
	info, ok := r.byTag[tag]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %#08x", ErrUnknownType, tag)
	}
	return info, nil
}
