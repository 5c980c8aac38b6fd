package vizlog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vizlog-io/vizlog/pkg/components"
)

func TestCurrentStreamFallsBackToNoop(t *testing.T) {
	s := CurrentStream(StoreKindRecording, "no-such-scope")
	require.NotNil(t, s)
	assert.False(t, s.Enabled())
	assert.NoError(t, s.Log("anything", components.Scalar(1)))
}

func TestCurrentStreamResolution(t *testing.T) {
	global, err := New(Options{ApplicationID: "global", Enabled: boolPtr(false)})
	require.NoError(t, err)
	defer global.Close()
	scoped, err := New(Options{ApplicationID: "scoped", Enabled: boolPtr(false)})
	require.NoError(t, err)
	defer scoped.Close()

	SetGlobal(global)
	defer ClearGlobal(StoreKindRecording)
	SetScoped("worker-1", scoped)
	defer ClearScoped(StoreKindRecording, "worker-1")

	assert.Same(t, scoped, CurrentStream(StoreKindRecording, "worker-1"))
	assert.Same(t, global, CurrentStream(StoreKindRecording, "worker-2"), "unknown scope falls back to global")
	assert.Same(t, global, CurrentStream(StoreKindRecording))

	ClearScoped(StoreKindRecording, "worker-1")
	assert.Same(t, global, CurrentStream(StoreKindRecording, "worker-1"))
}

func TestCurrentStreamIsPerStoreKind(t *testing.T) {
	rec, err := New(Options{Enabled: boolPtr(false)})
	require.NoError(t, err)
	defer rec.Close()

	SetGlobal(rec)
	defer ClearGlobal(StoreKindRecording)

	assert.Same(t, rec, CurrentStream(StoreKindRecording))
	assert.False(t, CurrentStream(StoreKindBlueprint).Enabled(), "no blueprint stream registered")
}

func TestPackageLevelLogWithoutStream(t *testing.T) {
	// With no registered stream the package-level helpers are no-ops.
	assert.NoError(t, Log("entity", components.Scalar(1)))
	assert.NoError(t, LogStatic("entity", components.Scalar(1)))
}

func TestSetGlobalIgnoresNil(t *testing.T) {
	SetGlobal(nil)
	assert.False(t, CurrentStream(StoreKindRecording).Enabled())
}
