package vizlog

import (
	"sync"

	"github.com/vizlog-io/vizlog/pkg/models"
)

// Stream registration: a process has at most one global stream per store
// kind, plus any number of explicitly-keyed scoped streams. Lookup is
// scoped-then-global, and always yields a usable handle; when nothing is
// registered the result is a disabled stream that absorbs every call.

type scopeKey struct {
	kind models.StoreKind
	key  string
}

var current = struct {
	mu     sync.RWMutex
	global map[models.StoreKind]*RecordingStream
	scoped map[scopeKey]*RecordingStream
}{
	global: make(map[models.StoreKind]*RecordingStream),
	scoped: make(map[scopeKey]*RecordingStream),
}

var noopStream = &RecordingStream{
	core: &streamCore{enabled: false},
	tc:   newTimeContext(),
}

// SetGlobal registers s as the process-wide current stream for its store
// kind. Passing nil clears nothing; use ClearGlobal for that.
func SetGlobal(s *RecordingStream) {
	if s == nil {
		return
	}
	current.mu.Lock()
	defer current.mu.Unlock()
	current.global[s.core.kind] = s
}

// ClearGlobal removes the global stream for a store kind.
func ClearGlobal(kind models.StoreKind) {
	current.mu.Lock()
	defer current.mu.Unlock()
	delete(current.global, kind)
}

// SetScoped registers s under an explicit scope key for its store kind.
// Scope keys replace thread-local registration: a goroutine (or any other
// unit of work) that wants its own current stream picks a key and passes
// it to CurrentStream.
func SetScoped(key string, s *RecordingStream) {
	if s == nil {
		return
	}
	current.mu.Lock()
	defer current.mu.Unlock()
	current.scoped[scopeKey{kind: s.core.kind, key: key}] = s
}

// ClearScoped removes a scoped registration.
func ClearScoped(kind models.StoreKind, key string) {
	current.mu.Lock()
	defer current.mu.Unlock()
	delete(current.scoped, scopeKey{kind: kind, key: key})
}

// CurrentStream resolves the current stream for a store kind: the scoped
// stream for the given key if one is registered, else the global stream,
// else a disabled no-op stream. The result is never nil.
func CurrentStream(kind models.StoreKind, scope ...string) *RecordingStream {
	current.mu.RLock()
	defer current.mu.RUnlock()
	for _, key := range scope {
		if s, ok := current.scoped[scopeKey{kind: kind, key: key}]; ok {
			return s
		}
	}
	if s, ok := current.global[kind]; ok {
		return s
	}
	return noopStream
}

// Log records on the current global recording stream.
func Log(entity string, batches ...models.ComponentBatch) error {
	return CurrentStream(StoreKindRecording).Log(entity, batches...)
}

// LogStatic records static data on the current global recording stream.
func LogStatic(entity string, batches ...models.ComponentBatch) error {
	return CurrentStream(StoreKindRecording).LogStatic(entity, batches...)
}

// SendColumns performs a column-oriented send on the current global
// recording stream.
func SendColumns(entity string, times models.TimeColumn, columns ...models.ComponentColumn) error {
	return CurrentStream(StoreKindRecording).SendColumns(entity, times, columns...)
}
