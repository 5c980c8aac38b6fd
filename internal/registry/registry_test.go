package registry

import (
	"sync"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vizlog-io/vizlog/internal/errcode"
	"github.com/vizlog-io/vizlog/pkg/models"
)

func desc(name string) models.ComponentDescriptor {
	return models.ComponentDescriptor{Archetype: "Points3D", Field: "positions", Component: name}
}

func TestRegisterIdempotent(t *testing.T) {
	r := New()

	h1, err := r.Register(desc("Position3D"), arrow.PrimitiveTypes.Float32)
	require.NoError(t, err)
	assert.NotZero(t, h1)

	h2, err := r.Register(desc("Position3D"), arrow.PrimitiveTypes.Float32)
	require.NoError(t, err)
	assert.Equal(t, h1, h2, "identical re-registration must return the same handle")
	assert.Equal(t, 1, r.Len())
}

func TestRegisterEmptyNameFails(t *testing.T) {
	r := New()
	_, err := r.Register(desc(""), arrow.PrimitiveTypes.Float32)
	require.Error(t, err)
	assert.Equal(t, errcode.InvalidStringArgument, errcode.CodeOf(err))

	_, err = r.Register(desc("   "), arrow.PrimitiveTypes.Float32)
	require.Error(t, err)
	assert.Equal(t, errcode.InvalidStringArgument, errcode.CodeOf(err))
}

func TestRegisterConflictingSchema(t *testing.T) {
	r := New()

	_, err := r.Register(desc("Position3D"), arrow.PrimitiveTypes.Float32)
	require.NoError(t, err)

	_, err = r.Register(desc("Position3D"), arrow.PrimitiveTypes.Float64)
	require.Error(t, err)
	assert.Equal(t, errcode.TypeMismatch, errcode.CodeOf(err))
}

func TestLookup(t *testing.T) {
	r := New()

	h, err := r.Register(desc("Color"), arrow.PrimitiveTypes.Uint32)
	require.NoError(t, err)

	e, err := r.Lookup(h)
	require.NoError(t, err)
	assert.Equal(t, "Color", e.Descriptor.Component)
	assert.True(t, arrow.TypeEqual(arrow.PrimitiveTypes.Uint32, e.DataType))

	_, err = r.Lookup(Handle(9999))
	require.Error(t, err)
	assert.Equal(t, errcode.InvalidHandle, errcode.CodeOf(err))

	_, err = r.Lookup(Handle(0))
	require.Error(t, err, "handle zero is never issued")
}

func TestLookupKey(t *testing.T) {
	r := New()
	d := desc("Radius")
	_, err := r.Register(d, arrow.PrimitiveTypes.Float32)
	require.NoError(t, err)

	assert.NotNil(t, r.LookupKey(d.Key()))
	assert.Nil(t, r.LookupKey("no-such-key"))
}

func TestRegisterConcurrent(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	handles := make([]Handle, 32)

	for i := range handles {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := r.Register(desc("Position3D"), arrow.PrimitiveTypes.Float32)
			assert.NoError(t, err)
			handles[i] = h
		}(i)
	}
	wg.Wait()

	for _, h := range handles {
		assert.Equal(t, handles[0], h)
	}
	assert.Equal(t, 1, r.Len())
}
