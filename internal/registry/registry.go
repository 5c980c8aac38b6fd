// Package registry implements the process-wide component type registry.
// A component's fully-qualified descriptor plus its Arrow datatype map to a
// stable integer handle; wire messages then refer to the type by handle so
// a schema is transmitted to each sink at most once.
package registry

import (
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/vizlog-io/vizlog/internal/errcode"
	"github.com/vizlog-io/vizlog/pkg/models"
)

// Handle is a process-wide component type handle. Zero is never issued.
type Handle uint32

// Entry is one registered component type.
type Entry struct {
	Handle     Handle
	Descriptor models.ComponentDescriptor
	DataType   arrow.DataType
}

// Registry maps component descriptors to handles. All methods are safe for
// concurrent use; registration is linearizable.
type Registry struct {
	mu       sync.RWMutex
	byKey    map[string]*Entry
	byHandle map[Handle]*Entry
	next     Handle
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		byKey:    make(map[string]*Entry),
		byHandle: make(map[Handle]*Entry),
		next:     1,
	}
}

var (
	globalOnce sync.Once
	global     *Registry
)

// Global returns the shared process-wide registry.
func Global() *Registry {
	globalOnce.Do(func() { global = New() })
	return global
}

// Register registers (descriptor, datatype) and returns its handle.
// Registering the same pair again is idempotent and returns the original
// handle. Registering an existing descriptor with a different datatype is
// an error: the schema for a component name is immutable for the process
// lifetime.
func (r *Registry) Register(desc models.ComponentDescriptor, dt arrow.DataType) (Handle, error) {
	if err := desc.Validate(); err != nil {
		return 0, errcode.Wrap(errcode.InvalidStringArgument, err, "invalid component descriptor")
	}
	if dt == nil {
		return 0, errcode.New(errcode.InvalidArgument, "component %q: nil datatype", desc.Component)
	}

	key := desc.Key()

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byKey[key]; ok {
		if !arrow.TypeEqual(existing.DataType, dt) {
			return 0, errcode.New(errcode.TypeMismatch,
				"component %q already registered with datatype %s, got %s",
				key, existing.DataType, dt)
		}
		return existing.Handle, nil
	}

	entry := &Entry{
		Handle:     r.next,
		Descriptor: desc,
		DataType:   dt,
	}
	r.next++
	r.byKey[key] = entry
	r.byHandle[entry.Handle] = entry
	return entry.Handle, nil
}

// Lookup resolves a handle. Returns an InvalidHandle error for handles
// never issued by this registry.
func (r *Registry) Lookup(h Handle) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.byHandle[h]
	if !ok {
		return nil, errcode.New(errcode.InvalidHandle, "unknown component type handle %d", h)
	}
	return entry, nil
}

// LookupKey resolves a descriptor key, returning nil when unregistered.
func (r *Registry) LookupKey(key string) *Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byKey[key]
}

// Len returns the number of registered component types.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byKey)
}
