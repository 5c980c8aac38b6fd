// Package components is the builtin component catalog: a schema table
// mapping component names to Arrow datatypes, plus batch constructors
// that serialize Go values into models.ComponentBatch. There is one
// generic serialization path per Arrow shape rather than generated code
// per component.
package components

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/vizlog-io/vizlog/pkg/models"
)

var alloc = memory.NewGoAllocator()

// Descriptors for the builtin catalog. Archetype and field names follow
// the "viz.archetypes" / "viz.components" namespaces.
var (
	Position3DDesc = models.ComponentDescriptor{
		Archetype: "viz.archetypes.Points3D",
		Field:     "positions",
		Component: "viz.components.Position3D",
	}
	ColorDesc = models.ComponentDescriptor{
		Archetype: "viz.archetypes.Points3D",
		Field:     "colors",
		Component: "viz.components.Color",
	}
	RadiusDesc = models.ComponentDescriptor{
		Archetype: "viz.archetypes.Points3D",
		Field:     "radii",
		Component: "viz.components.Radius",
	}
	LabelDesc = models.ComponentDescriptor{
		Archetype: "viz.archetypes.Points3D",
		Field:     "labels",
		Component: "viz.components.Text",
	}
	ScalarDesc = models.ComponentDescriptor{
		Archetype: "viz.archetypes.Scalars",
		Field:     "scalars",
		Component: "viz.components.Scalar",
	}
	AnnotationContextDesc = models.ComponentDescriptor{
		Archetype: "viz.archetypes.AnnotationContext",
		Field:     "context",
		Component: "viz.components.AnnotationContext",
	}
	Transform3DDesc = models.ComponentDescriptor{
		Archetype: "viz.archetypes.Transform3D",
		Field:     "transform",
		Component: "viz.components.Transform3D",
	}
)

// Arrow datatypes for the builtin catalog, keyed by component name.
var (
	vec3Type = arrow.FixedSizeListOf(3, arrow.PrimitiveTypes.Float32)
	mat3Type = arrow.FixedSizeListOf(9, arrow.PrimitiveTypes.Float32)

	annotationType = arrow.StructOf(
		arrow.Field{Name: "id", Type: arrow.PrimitiveTypes.Uint16},
		arrow.Field{Name: "label", Type: arrow.BinaryTypes.String},
		arrow.Field{Name: "color", Type: arrow.PrimitiveTypes.Uint32},
	)

	transformType = arrow.StructOf(
		arrow.Field{Name: "translation", Type: vec3Type, Nullable: true},
		arrow.Field{Name: "mat3x3", Type: mat3Type, Nullable: true},
		arrow.Field{Name: "scale", Type: vec3Type, Nullable: true},
	)

	// Catalog maps component names to their canonical Arrow datatype.
	Catalog = map[string]arrow.DataType{
		Position3DDesc.Component:        vec3Type,
		ColorDesc.Component:             arrow.PrimitiveTypes.Uint32,
		RadiusDesc.Component:            arrow.PrimitiveTypes.Float32,
		LabelDesc.Component:             arrow.BinaryTypes.String,
		ScalarDesc.Component:            arrow.PrimitiveTypes.Float64,
		AnnotationContextDesc.Component: annotationType,
		Transform3DDesc.Component:       transformType,
	}
)

func vec3Array(values [][3]float32) arrow.Array {
	b := array.NewFixedSizeListBuilder(alloc, 3, arrow.PrimitiveTypes.Float32)
	defer b.Release()
	vb := b.ValueBuilder().(*array.Float32Builder)
	for _, v := range values {
		b.Append(true)
		vb.AppendValues(v[:], nil)
	}
	return b.NewArray()
}

// Points3D builds a batch of 3D positions.
func Points3D(points [][3]float32) models.ComponentBatch {
	return models.ComponentBatch{Descriptor: Position3DDesc, Array: vec3Array(points)}
}

// Colors builds a batch of packed 0xRRGGBBAA colors.
func Colors(colors []uint32) models.ComponentBatch {
	b := array.NewUint32Builder(alloc)
	defer b.Release()
	b.AppendValues(colors, nil)
	return models.ComponentBatch{Descriptor: ColorDesc, Array: b.NewArray()}
}

// Color builds a single-instance color batch, broadcast across all
// instances of the row it is logged with.
func Color(color uint32) models.ComponentBatch {
	return Colors([]uint32{color})
}

// Radii builds a batch of per-instance radii.
func Radii(radii []float32) models.ComponentBatch {
	b := array.NewFloat32Builder(alloc)
	defer b.Release()
	b.AppendValues(radii, nil)
	return models.ComponentBatch{Descriptor: RadiusDesc, Array: b.NewArray()}
}

// Radius builds a single-instance radius batch (a splat).
func Radius(radius float32) models.ComponentBatch {
	return Radii([]float32{radius})
}

// Labels builds a batch of per-instance text labels.
func Labels(labels []string) models.ComponentBatch {
	b := array.NewStringBuilder(alloc)
	defer b.Release()
	b.AppendValues(labels, nil)
	return models.ComponentBatch{Descriptor: LabelDesc, Array: b.NewArray()}
}

// Scalars builds a batch of float64 scalars, e.g. for time series.
func Scalars(values []float64) models.ComponentBatch {
	b := array.NewFloat64Builder(alloc)
	defer b.Release()
	b.AppendValues(values, nil)
	return models.ComponentBatch{Descriptor: ScalarDesc, Array: b.NewArray()}
}

// Scalar builds a single-value scalar batch.
func Scalar(value float64) models.ComponentBatch {
	return Scalars([]float64{value})
}

// AnnotationInfo describes one class in an annotation context: a class
// id, a human-readable label and a color.
type AnnotationInfo struct {
	ID    uint16
	Label string
	Color uint32
}

// AnnotationContext builds an annotation context batch. Annotation
// contexts are usually logged static so they apply to the whole
// recording.
func AnnotationContext(infos []AnnotationInfo) models.ComponentBatch {
	b := array.NewStructBuilder(alloc, annotationType)
	defer b.Release()
	idB := b.FieldBuilder(0).(*array.Uint16Builder)
	labelB := b.FieldBuilder(1).(*array.StringBuilder)
	colorB := b.FieldBuilder(2).(*array.Uint32Builder)
	for _, info := range infos {
		b.Append(true)
		idB.Append(info.ID)
		labelB.Append(info.Label)
		colorB.Append(info.Color)
	}
	return models.ComponentBatch{Descriptor: AnnotationContextDesc, Array: b.NewArray()}
}

// Transform3D is a tagged spatial transform: exactly the set fields
// apply. Use the named constructors.
type Transform3D struct {
	Translation *[3]float32
	Mat3x3      *[9]float32
	Scale       *[3]float32
}

// Translation builds a pure-translation transform.
func Translation(x, y, z float32) Transform3D {
	t := [3]float32{x, y, z}
	return Transform3D{Translation: &t}
}

// Scale3D builds a pure-scale transform.
func Scale3D(x, y, z float32) Transform3D {
	s := [3]float32{x, y, z}
	return Transform3D{Scale: &s}
}

// RotationMat3 builds a rotation (or any linear map) transform from a
// row-major 3x3 matrix.
func RotationMat3(m [9]float32) Transform3D {
	return Transform3D{Mat3x3: &m}
}

// Batch serializes the transform into a single-instance batch.
func (t Transform3D) Batch() models.ComponentBatch {
	b := array.NewStructBuilder(alloc, transformType)
	defer b.Release()
	transB := b.FieldBuilder(0).(*array.FixedSizeListBuilder)
	matB := b.FieldBuilder(1).(*array.FixedSizeListBuilder)
	scaleB := b.FieldBuilder(2).(*array.FixedSizeListBuilder)

	b.Append(true)
	appendVec := func(fb *array.FixedSizeListBuilder, v []float32) {
		if v == nil {
			fb.AppendNull()
			return
		}
		fb.Append(true)
		fb.ValueBuilder().(*array.Float32Builder).AppendValues(v, nil)
	}
	var trans, mat, scale []float32
	if t.Translation != nil {
		trans = t.Translation[:]
	}
	if t.Mat3x3 != nil {
		mat = t.Mat3x3[:]
	}
	if t.Scale != nil {
		scale = t.Scale[:]
	}
	appendVec(transB, trans)
	appendVec(matB, mat)
	appendVec(scaleB, scale)

	return models.ComponentBatch{Descriptor: Transform3DDesc, Array: b.NewArray()}
}
