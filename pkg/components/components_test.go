package components

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogTypes(t *testing.T) {
	assert.True(t, arrow.TypeEqual(Catalog[Position3DDesc.Component], arrow.FixedSizeListOf(3, arrow.PrimitiveTypes.Float32)))
	assert.True(t, arrow.TypeEqual(Catalog[ColorDesc.Component], arrow.PrimitiveTypes.Uint32))
	assert.True(t, arrow.TypeEqual(Catalog[ScalarDesc.Component], arrow.PrimitiveTypes.Float64))
}

func TestPoints3D(t *testing.T) {
	b := Points3D([][3]float32{{0, 1, 2}, {3, 4, 5}})
	defer b.Release()

	assert.Equal(t, Position3DDesc, b.Descriptor)
	assert.Equal(t, 2, b.NumInstances())
	assert.False(t, b.IsSplat())
	assert.True(t, arrow.TypeEqual(Catalog[Position3DDesc.Component], b.Array.DataType()))

	list := b.Array.(*array.FixedSizeList)
	values := list.ListValues().(*array.Float32)
	assert.Equal(t, float32(5), values.Value(5))
}

func TestColorSplat(t *testing.T) {
	b := Color(0xff00ffff)
	defer b.Release()

	assert.True(t, b.IsSplat())
	assert.Equal(t, uint32(0xff00ffff), b.Array.(*array.Uint32).Value(0))
}

func TestScalarsAndLabels(t *testing.T) {
	s := Scalars([]float64{1.5, 2.5})
	defer s.Release()
	assert.Equal(t, 2, s.NumInstances())
	assert.Equal(t, 2.5, s.Array.(*array.Float64).Value(1))

	l := Labels([]string{"a", "b", "c"})
	defer l.Release()
	assert.Equal(t, 3, l.NumInstances())
	assert.Equal(t, "c", l.Array.(*array.String).Value(2))
}

func TestAnnotationContext(t *testing.T) {
	b := AnnotationContext([]AnnotationInfo{
		{ID: 1, Label: "car", Color: 0xff0000ff},
		{ID: 2, Label: "person", Color: 0x00ff00ff},
	})
	defer b.Release()

	require.Equal(t, 2, b.NumInstances())
	st := b.Array.(*array.Struct)
	assert.Equal(t, uint16(2), st.Field(0).(*array.Uint16).Value(1))
	assert.Equal(t, "person", st.Field(1).(*array.String).Value(1))
}

func TestTransform3DVariants(t *testing.T) {
	trans := Translation(1, 2, 3).Batch()
	defer trans.Release()
	require.Equal(t, 1, trans.NumInstances())

	st := trans.Array.(*array.Struct)
	assert.True(t, st.Field(0).IsValid(0), "translation set")
	assert.True(t, st.Field(1).IsNull(0), "mat3x3 unset")
	assert.True(t, st.Field(2).IsNull(0), "scale unset")

	scale := Scale3D(2, 2, 2).Batch()
	defer scale.Release()
	sst := scale.Array.(*array.Struct)
	assert.True(t, sst.Field(0).IsNull(0))
	assert.True(t, sst.Field(2).IsValid(0))

	rot := RotationMat3([9]float32{1, 0, 0, 0, 1, 0, 0, 0, 1}).Batch()
	defer rot.Release()
	rst := rot.Array.(*array.Struct)
	assert.True(t, rst.Field(1).IsValid(0))
}
